// Package telldustest provides an in-process stand-in for Telldus Live.
package telldustest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/AndreCAndersen/home2telldus/internal/telldus"
)

const sessionCookie = "h2t_test_session"

type Device struct {
	ID     interface{} `json:"id"`
	Name   string      `json:"name"`
	Online interface{} `json:"online"`
}

type Server struct {
	*httptest.Server

	Email    string
	Password string
	Devices  []Device

	mu           sync.Mutex
	failAt       int
	listError    string
	landingHits  int
	loginQueries []url.Values
	commands     []url.Values
}

// NewServer starts a fake Telldus Live accepting email/password and serving devices.
func NewServer(email, password string, devices ...Device) *Server {
	s := &Server{Email: email, Password: password, Devices: devices}

	r := chi.NewRouter()
	r.Get("/", s.handleLanding)
	r.Post("/openid/server", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/client/list", s.handleClientList)
		r.Get("/device/list", s.handleDeviceList)
		r.Get("/device/command", s.handleCommand)
	})
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) Endpoints() telldus.Endpoints {
	return telldus.Endpoints{Live: s.URL, Login: s.URL + "/openid/server"}
}

// FailCommandAt makes the n-th command request (1-based) answer 500. Zero disables it.
func (s *Server) FailCommandAt(n int) {
	s.mu.Lock()
	s.failAt = n
	s.mu.Unlock()
}

// RejectDeviceList makes /device/list answer 200 with {"error": msg}, as
// Telldus Live does for API-level failures. Empty restores the list.
func (s *Server) RejectDeviceList(msg string) {
	s.mu.Lock()
	s.listError = msg
	s.mu.Unlock()
}

func (s *Server) Commands() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Server) LoginQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.loginQueries))
	copy(out, s.loginQueries)
	return out
}

func (s *Server) LandingHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.landingHits
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.landingHits++
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "landing", Value: "1", Path: "/"})
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("<html><head><title>Telldus Live!</title></head><body>Welcome</body></html>"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.loginQueries = append(s.loginQueries, r.URL.Query())
	s.mu.Unlock()

	_ = r.ParseForm()
	email := r.PostForm.Get("email")
	w.Header().Set("Content-Type", "text/html")
	// Telldus answers 200 whatever the outcome.
	if email != s.Email || r.PostForm.Get("password") != s.Password {
		_, _ = w.Write([]byte(`<html><head><title>Login</title></head><body><div class="error">Wrong email or password</div><form method="post"></form></body></html>`))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "ok", Path: "/"})
	_, _ = fmt.Fprintf(w, `<html><body><p>Logged in as %s</p></body></html>`, html.EscapeString(email))
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not logged in"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleClientList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"client": []map[string]interface{}{{"id": "100", "name": "Home", "online": "1"}},
	})
}

func (s *Server) handleDeviceList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	listError := s.listError
	s.mu.Unlock()
	if listError != "" {
		writeJSON(w, map[string]string{"error": listError})
		return
	}
	devices := s.Devices
	if devices == nil {
		devices = []Device{}
	}
	writeJSON(w, map[string]interface{}{"device": devices})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.commands = append(s.commands, r.URL.Query())
	n := len(s.commands)
	failAt := s.failAt
	s.mu.Unlock()

	if failAt > 0 && n == failAt {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
