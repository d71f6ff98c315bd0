// Package session holds the per-user state of the web UI between requests:
// who is signed in, the open tab, the current search and the grid edits that
// have not been saved yet. Sessions expire after a sliding idle timeout.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown or expired session id.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is the idle timeout when none is configured.
const DefaultTTL = 30 * time.Minute

// Session is the state of one signed-in browser.
type Session struct {
	ID       string         `json:"id"`
	Username string         `json:"username"`
	Token    string         `json:"token"`
	Tab      string         `json:"tab,omitempty"`
	Filter   search.Request `json:"filter"`
	Selected []int64        `json:"selected,omitempty"`
	// PendingEdits maps equipment id to field to the value typed into the grid.
	PendingEdits map[int64]map[string]string `json:"pending_edits,omitempty"`
	// Flash is shown once on the next page and then cleared.
	Flash     string    `json:"flash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists sessions. Get returns ErrNotFound for expired sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// New starts a session for username holding the API token.
func New(username, token string, ttl time.Duration, now time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Session{
		ID:        uuid.NewString(),
		Username:  username,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the idle timeout has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch slides the expiry forward.
func (s *Session) Touch(ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.ExpiresAt = now.Add(ttl)
}

// SetEdit records a pending grid edit.
func (s *Session) SetEdit(id int64, field, value string) {
	if s.PendingEdits == nil {
		s.PendingEdits = make(map[int64]map[string]string)
	}
	if s.PendingEdits[id] == nil {
		s.PendingEdits[id] = make(map[string]string)
	}
	s.PendingEdits[id][field] = value
}

// ClearEdit drops the pending edit of one field, if any.
func (s *Session) ClearEdit(id int64, field string) {
	fields := s.PendingEdits[id]
	if fields == nil {
		return
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(s.PendingEdits, id)
	}
}

// Forget drops everything the session holds about one record.
func (s *Session) Forget(id int64) {
	delete(s.PendingEdits, id)
	kept := s.Selected[:0]
	for _, sel := range s.Selected {
		if sel != id {
			kept = append(kept, sel)
		}
	}
	s.Selected = kept
}

// PendingIDs returns the ids with pending edits in ascending order.
func (s *Session) PendingIDs() []int64 {
	ids := make([]int64, 0, len(s.PendingEdits))
	for id := range s.PendingEdits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PendingCount is the number of pending field edits across all records.
func (s *Session) PendingCount() int {
	n := 0
	for _, fields := range s.PendingEdits {
		n += len(fields)
	}
	return n
}

// DiscardEdits drops every pending edit.
func (s *Session) DiscardEdits() {
	s.PendingEdits = nil
}

// TakeFlash returns the flash message and clears it.
func (s *Session) TakeFlash() string {
	f := s.Flash
	s.Flash = ""
	return f
}

func (s *Session) clone() *Session {
	c := *s
	c.Selected = append([]int64(nil), s.Selected...)
	c.Filter.Criteria = append([]search.Criterion(nil), s.Filter.Criteria...)
	if s.Filter.Fuzzy != nil {
		f := *s.Filter.Fuzzy
		if f.Threshold != nil {
			t := *f.Threshold
			f.Threshold = &t
		}
		c.Filter.Fuzzy = &f
	}
	if s.PendingEdits != nil {
		c.PendingEdits = make(map[int64]map[string]string, len(s.PendingEdits))
		for id, fields := range s.PendingEdits {
			m := make(map[string]string, len(fields))
			for k, v := range fields {
				m[k] = v
			}
			c.PendingEdits[id] = m
		}
	}
	return &c
}
