package main

import (
	"net/http"
	"strings"

	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/session"
	"go.uber.org/zap"
)

type loginData struct {
	Username string
	Next     string
}

func (s *server) loginForm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.loadSession(r); err == nil {
		http.Redirect(w, r, "/equipment", http.StatusFound)
		return
	}
	s.render(w, http.StatusOK, "login.html", view{
		Title: "Sign in",
		Data:  loginData{Next: r.URL.Query().Get("next")},
	})
}

// loginSubmit signs the engineer in. A name without a password that the API
// does not know yet is registered first, so first-time users only type their name.
func (s *server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	data := loginData{Username: username, Next: r.FormValue("next")}

	fail := func(status int, msg string) {
		s.render(w, status, "login.html", view{Title: "Sign in", Error: msg, Data: data})
	}
	if username == "" {
		fail(http.StatusBadRequest, "Your name is required")
		return
	}

	ctx := r.Context()
	res, err := s.api.Login(ctx, username, password)
	if apiclient.IsUnauthorized(err) && password == "" {
		_, regErr := s.api.Register(ctx, username, "")
		switch {
		case regErr == nil:
			res, err = s.api.Login(ctx, username, password)
		case apiclient.IsRateLimited(regErr):
			err = regErr
		}
	}
	if err != nil {
		if apiclient.IsRateLimited(err) {
			fail(http.StatusTooManyRequests, msgRateLimited)
			return
		}
		if apiclient.IsUnauthorized(err) {
			fail(http.StatusUnauthorized, "Invalid name or password")
			return
		}
		s.log.Error("login failed", zap.String("username", username), zap.Error(err))
		fail(http.StatusBadGateway, "The equipment service cannot be reached. Try again in a moment.")
		return
	}

	sess := session.New(res.User.Username, res.Token, s.ttl, s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		s.log.Error("session save failed", zap.Error(err))
		fail(http.StatusInternalServerError, "Could not start a session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	s.log.Info("signed in", zap.String("username", sess.Username))
	http.Redirect(w, r, localPath(data.Next, "/equipment"), http.StatusFound)
}

// logout discards the session along with any unsaved grid edits.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if sess, err := s.loadSession(r); err == nil {
		s.endSession(w, r, sess)
	} else {
		http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}
