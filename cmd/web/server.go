package main

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/config"
	"github.com/crucial707/equipment-manager/internal/middleware"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/session"
	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed templates static
var assets embed.FS

const cookieName = "equipment_session"

const msgRateLimited = "Too many attempts. Wait a minute and try again."

// server is the web UI. Every panel gets the caller's session explicitly and
// talks to the API with the token stored in it.
type server struct {
	api       *apiclient.Client
	store     session.Store
	log       *zap.Logger
	ttl       time.Duration
	secure    bool
	graphMax  int
	maxUpload int64
	pages     map[string]*template.Template
	now       func() time.Time
}

func newServer(cfg config.Config, store session.Store, log *zap.Logger) *server {
	if log == nil {
		log = zap.NewNop()
	}
	maxUpload := cfg.ImportMaxBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &server{
		api:       apiclient.New(cfg.APIURL),
		store:     store,
		log:       log,
		ttl:       cfg.SessionTTL,
		secure:    cfg.TLSEnabled(),
		graphMax:  cfg.GraphMaxEquipment,
		maxUpload: maxUpload,
		pages:     parsePages(),
		now:       time.Now,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(forwardClient)
	r.Use(middleware.Recoverer(s.log, s.errorPage))
	r.Use(middleware.RequestLog(s.log))
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders(s.secure, middleware.WebContentSecurityPolicy))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	static, _ := fs.Sub(assets, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	// Public
	r.Get("/login", s.loginForm)
	r.Post("/login", s.loginSubmit)
	r.Get("/logout", s.logout)
	r.Post("/logout", s.logout)

	// Panels
	r.Get("/", s.panel("", func(w http.ResponseWriter, r *http.Request, _ *session.Session) {
		http.Redirect(w, r, "/equipment", http.StatusFound)
	}))
	r.Get("/equipment", s.panel("equipment", s.equipmentGrid))
	r.Post("/equipment/grid", s.panel("equipment", s.equipmentStage))
	r.Get("/equipment/pending", s.panel("equipment", s.pendingEdits))
	r.Post("/equipment/save", s.panel("equipment", s.saveEdits))
	r.Post("/equipment/discard", s.panel("equipment", s.discardEdits))
	r.Get("/equipment/selected/delete", s.panel("equipment", s.deleteSelectedConfirm))
	r.Post("/equipment/selected/delete", s.panel("equipment", s.deleteSelected))
	r.Get("/equipment/new", s.panel("equipment", s.createForm))
	r.Post("/equipment/new", s.panel("equipment", s.create))
	r.Get("/equipment/{id}", s.panel("equipment", s.detail))
	r.Get("/equipment/{id}/edit", s.panel("equipment", s.editForm))
	r.Post("/equipment/{id}/edit", s.panel("equipment", s.update))
	r.Get("/equipment/{id}/delete", s.panel("equipment", s.deleteConfirm))
	r.Post("/equipment/{id}/delete", s.panel("equipment", s.delete))
	r.Get("/lookup", s.panel("", s.lookup))

	r.Get("/search", s.panel("search", s.searchPanel))
	r.Get("/search/export", s.panel("search", s.exportSearch))
	r.Get("/graph", s.panel("graph", s.graphPanel))
	r.Get("/graph/data", s.panel("", s.graphData))
	r.Get("/import", s.panel("import", s.importForm))
	r.Post("/import", s.panel("import", s.importSubmit))
	r.Get("/report", s.panel("report", s.reportPanel))
	r.Get("/users", s.panel("report", s.usersPanel))
	return r
}

// forwardClient passes the browser's address on to the API, whose login and
// import limits count per user, not per web server.
func forwardClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(apiclient.ForClient(r.Context(), ip)))
	})
}

// panelFunc is a handler that runs with the caller's session.
type panelFunc func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// panel loads the session named by the cookie, sliding its expiry and
// recording the tab, and saves it again after fn unless fn ended it.
// Without a live session the browser is sent to the login page.
func (s *server) panel(tab string, fn panelFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.loadSession(r)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.log.Error("session load failed", zap.Error(err))
			}
			s.toLogin(w, r)
			return
		}
		sess.Touch(s.ttl, s.now())
		if tab != "" {
			sess.Tab = tab
		}

		fn(w, r, sess)

		if sess.Expired(s.now()) {
			return
		}
		if err := s.store.Save(r.Context(), sess); err != nil {
			s.log.Error("session save failed", zap.String("user", sess.Username), zap.Error(err))
		}
	}
}

func (s *server) loadSession(r *http.Request) (*session.Session, error) {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return nil, session.ErrNotFound
	}
	return s.store.Get(r.Context(), c.Value)
}

func (s *server) client(sess *session.Session) *apiclient.Client {
	return s.api.WithToken(sess.Token)
}

// endSession forgets the session in the store and in the browser.
func (s *server) endSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.store.Delete(r.Context(), sess.ID); err != nil {
		s.log.Warn("session delete failed", zap.Error(err))
	}
	sess.ExpiresAt = time.Time{}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

// toLogin redirects to the login page, coming back to the current page afterwards.
func (s *server) toLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, "/login?next="+url.QueryEscape(next), http.StatusFound)
}

// ==========================
// Rendering
// ==========================

// view is what every page template receives.
type view struct {
	Title      string
	Tab        string
	User       string
	Pending    int
	Flash      string
	Error      string
	Violations validation.Violations
	Data       interface{}
}

func (s *server) view(sess *session.Session, title string, data interface{}) view {
	v := view{Title: title, Data: data}
	if sess != nil {
		v.Tab = sess.Tab
		v.User = sess.Username
		v.Pending = sess.PendingCount()
		v.Flash = sess.TakeFlash()
	}
	return v
}

var templateFuncs = template.FuncMap{
	"statuses": func() []string { return models.Statuses },
	"fields":   func() []string { return models.EditableFields },
	"label":    fieldLabel,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04")
	},
	"fieldErrors": func(vs validation.Violations, field string) []string {
		var out []string
		for _, v := range vs {
			if v.Field == field {
				out = append(out, v.Message)
			}
		}
		return out
	},
	"add": func(a, b int) int { return a + b },
}

// parsePages builds one template set per page: the layout plus the page's
// "content" block. login.html and error.html stand alone.
func parsePages() map[string]*template.Template {
	names, err := fs.Glob(assets, "templates/*.html")
	if err != nil {
		panic(err)
	}
	pages := make(map[string]*template.Template, len(names))
	for _, path := range names {
		name := strings.TrimPrefix(path, "templates/")
		if name == "layout.html" {
			continue
		}
		files := []string{"templates/layout.html", path}
		if name == "login.html" || name == "error.html" {
			files = []string{path}
		}
		pages[name] = template.Must(template.New(name).Funcs(templateFuncs).ParseFS(assets, files...))
	}
	return pages
}

// render executes a page into a buffer first, so a template failure turns
// into the error page instead of half a document.
func (s *server) render(w http.ResponseWriter, status int, name string, v view) {
	t, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", zap.String("template", name))
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	entry := "layout"
	if name == "login.html" || name == "error.html" {
		entry = strings.TrimSuffix(name, ".html")
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, entry, v); err != nil {
		s.log.Error("template execute failed", zap.String("template", name), zap.Error(err))
		status = http.StatusInternalServerError
		buf.Reset()
		if err := s.pages["error.html"].ExecuteTemplate(&buf, "error", view{Title: "Error", Error: "The page could not be displayed."}); err != nil {
			http.Error(w, "internal server error", status)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// errorPage answers requests whose handler panicked.
func (s *server) errorPage(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusInternalServerError, "error.html", view{
		Title: "Error",
		Error: "Something went wrong. The problem has been logged.",
	})
}

// apiFailure reports a failed API call inside the current panel. A 401 means
// the token expired, which ends the session and asks for a new login.
// It returns the status to render the panel with.
func (s *server) apiFailure(w http.ResponseWriter, r *http.Request, sess *session.Session, v *view, err error) (int, bool) {
	if apiclient.IsUnauthorized(err) {
		s.endSession(w, r, sess)
		s.toLogin(w, r)
		return 0, false
	}
	if apiclient.IsRateLimited(err) {
		v.Error = msgRateLimited
		return http.StatusTooManyRequests, true
	}
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		v.Error = apiErr.Message
		v.Violations = apiErr.Violations
		if apiErr.Status >= 500 {
			s.log.Warn("API error", zap.String("path", r.URL.Path), zap.Int("status", apiErr.Status), zap.String("error", apiErr.Message))
		}
		return apiErr.Status, true
	}
	s.log.Error("API unreachable", zap.String("path", r.URL.Path), zap.Error(err))
	v.Error = "The equipment service cannot be reached. Try again in a moment."
	return http.StatusBadGateway, true
}

func fieldLabel(name string) string {
	if name == "" {
		return ""
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		switch w {
		case "id":
			words[i] = "ID"
		default:
			if i == 0 {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
	}
	return strings.Join(words, " ")
}

// localPath keeps redirect targets on this site.
func localPath(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}
