// Package api exposes the engine over HTTP and websockets.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/kickshield/internal/model"
)

//go:embed web/index.html
var indexHTML []byte

// Controller is the engine surface the HTTP layer drives.
type Controller interface {
	StartLabel(label string) error
	Stop() bool
	Status() model.Status
	UpdateSettings(ctx context.Context, u model.SettingsUpdate) (bool, error)
}

// Server routes API requests to a Controller.
type Server struct {
	ctrl Controller
	hub  *Hub
	log  logrus.FieldLogger
}

// NewServer returns a Server. hub may be nil to disable /ws.
func NewServer(ctrl Controller, hub *Hub, log logrus.FieldLogger) *Server {
	return &Server{ctrl: ctrl, hub: hub, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/config", s.handleConfig)
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return s.logRequests(mux)
}

// NewHTTPServer wraps the handler in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	label, err := decodeMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctrl.StartLabel(label); err != nil {
		if errors.Is(err, model.ErrInvalidMode) {
			writeError(w, http.StatusBadRequest, model.ErrInvalidMode.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.notify()
	writeOK(w)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	s.notify()
	writeOK(w)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	update, err := DecodeSettingsUpdate(r)
	if err != nil {
		if errors.Is(err, ErrMalformedJSON) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changed, err := s.ctrl.UpdateSettings(r.Context(), update)
	if err != nil {
		// The change is live; only persisting it failed.
		s.log.WithError(err).Warn("settings not persisted")
	}
	if changed {
		s.notify()
	}
	writeOK(w)
}

func (s *Server) notify() {
	if s.hub != nil {
		s.hub.Notify()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/api/status" {
			return
		}
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
