package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's bucket is kept after its last request.
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Buckets of clients that
// have been quiet for limiterIdle are dropped on the next new client.
type IPRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	proxies   Proxies
	lastSweep time.Time
	now       func() time.Time
}

// NewIPRateLimiter allows limit events per second with bursts of burst per IP.
// N per minute is rate.Limit(float64(N)/60). Forwarding headers are believed
// only on connections from proxies.
func NewIPRateLimiter(limit rate.Limit, burst int, proxies Proxies) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		proxies: proxies,
		now:     time.Now,
	}
}

func (l *IPRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		if now.Sub(l.lastSweep) >= limiterIdle {
			l.sweep(now)
		}
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

func (l *IPRateLimiter) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) >= limiterIdle {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

// Len returns the number of tracked clients.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// retryAfter is the whole number of seconds until one token is back.
func (l *IPRateLimiter) retryAfter() string {
	if l.limit <= 0 || l.limit == rate.Inf {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(l.limit))))
}

// Proxies are the addresses allowed to tell us who the client is.
type Proxies []*net.IPNet

// ParseProxies accepts IPs and CIDRs. Invalid entries are skipped and reported
// together in the error.
func ParseProxies(list []string) (Proxies, error) {
	var (
		out Proxies
		bad []string
	)
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				bad = append(bad, s)
				continue
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			s = fmt.Sprintf("%s/%d", ip, bits)
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			bad = append(bad, s)
			continue
		}
		out = append(out, n)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("invalid proxy addresses: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

func (p Proxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP is the connection's host unless that host is a trusted proxy. Then
// it is the nearest X-Forwarded-For hop that is not itself a proxy, falling
// back to X-Real-IP.
func clientIP(r *http.Request, proxies Proxies) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !proxies.trusts(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !proxies.trusts(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// Middleware answers 429 with Retry-After once the client's bucket is empty.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r, l.proxies)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", l.retryAfter())
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many attempts, try again later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthRateLimiter guards login and register: 10 per minute per IP, burst 5.
func AuthRateLimiter(proxies Proxies) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(10.0/60.0), 5, proxies)
}

// ImportRateLimiter limits spreadsheet imports, which run one large transaction
// each: 6 per minute per IP, burst 2.
func ImportRateLimiter(proxies Proxies) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(6.0/60.0), 2, proxies)
}
