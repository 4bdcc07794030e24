package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/kickshield/internal/engine"
	"github.com/verte-zerg/kickshield/internal/model"
)

type frozenClock struct{ us int64 }

func (c *frozenClock) Micros() int64 { return c.us }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServer(t *testing.T) (*engine.Engine, http.Handler) {
	t.Helper()
	eng := engine.New(model.DefaultSettings(), engine.Options{Clock: &frozenClock{}, Logger: quietLogger()})
	srv := NewServer(eng, nil, quietLogger())
	return eng, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartRejectsInvalidMode(t *testing.T) {
	eng, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/start?mode=45", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"invalid mode"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if eng.Status().Running {
		t.Fatalf("expected no session")
	}
}

func TestStartRejectsNonCanonicalMode(t *testing.T) {
	eng, h := newTestServer(t)
	for _, target := range []string{"/api/start?mode=FREE", "/api/start?mode=Free", "/api/start?mode=%2030"} {
		rec := do(t, h, http.MethodPost, target, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/start", "application/json", `{"mode":"30\n"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for json mode with newline, got %d", rec.Code)
	}
	if eng.Status().Running {
		t.Fatalf("expected no session")
	}
}

func TestStartAndStop(t *testing.T) {
	eng, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/start?mode=30", "", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("unexpected start response %d %q", rec.Code, rec.Body.String())
	}
	if st := eng.Status(); !st.Running || st.Mode != "30" {
		t.Fatalf("unexpected status %+v", st)
	}

	rec = do(t, h, http.MethodPost, "/api/start", "application/json", `{"mode":"free"}`)
	if rec.Code != http.StatusOK || eng.Status().Mode != "FREE" {
		t.Fatalf("expected json start, got %d mode %s", rec.Code, eng.Status().Mode)
	}

	rec = do(t, h, http.MethodPost, "/api/stop", "", "")
	if rec.Code != http.StatusOK || eng.Status().Running {
		t.Fatalf("expected stopped session, got %d", rec.Code)
	}
}

func TestStartRequiresPost(t *testing.T) {
	_, h := newTestServer(t)
	if rec := do(t, h, http.MethodGet, "/api/start?mode=10", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStatusShape(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	for _, key := range []string{
		"running", "mode", "time_left_ms", "hits", "tempo_hpm", "series", "maxSeries",
		"lastPeak", "lastScore", "bestPeak", "bestScore", "threshold", "lockout_ms",
		"series_gap_ms", "sample_window_ms", "simulate",
	} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("status missing %q: %v", key, raw)
		}
	}
	if raw["mode"] != "FREE" || raw["running"] != false || raw["threshold"] != float64(1200) {
		t.Fatalf("unexpected idle status %v", raw)
	}
	if _, ok := raw["simulate"].(bool); !ok {
		t.Fatalf("expected boolean simulate, got %T", raw["simulate"])
	}
}

func TestConfigQueryClampsAndSkipsNonNumeric(t *testing.T) {
	eng, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/config?threshold=5000&lockout_ms=abc&simulate=1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cfg := eng.Status().Settings
	if cfg.Threshold != 4095 {
		t.Fatalf("expected clamped threshold 4095, got %d", cfg.Threshold)
	}
	if cfg.LockoutMs != model.DefaultLockoutMs {
		t.Fatalf("expected lockout unchanged, got %d", cfg.LockoutMs)
	}
	if !cfg.Simulate {
		t.Fatalf("expected simulate on")
	}
}

func TestConfigFormBody(t *testing.T) {
	eng, h := newTestServer(t)
	form := url.Values{"series_gap_ms": {"900"}, "sample_window_ms": {"0"}}
	rec := do(t, h, http.MethodPost, "/api/config", "application/x-www-form-urlencoded", form.Encode())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cfg := eng.Status().Settings
	if cfg.SeriesGapMs != 900 || cfg.SampleWindowMs != 1 {
		t.Fatalf("unexpected settings %+v", cfg)
	}
}

func TestConfigJSONBody(t *testing.T) {
	eng, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/config?threshold=900", "application/json",
		`{"threshold": 1500, "lockout_ms": "250", "series_gap_ms": "soon", "simulate": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cfg := eng.Status().Settings
	if cfg.Threshold != 1500 || cfg.LockoutMs != 250 || !cfg.Simulate {
		t.Fatalf("unexpected settings %+v", cfg)
	}
	if cfg.SeriesGapMs != model.DefaultSeriesGapMs {
		t.Fatalf("expected series gap unchanged, got %d", cfg.SeriesGapMs)
	}
}

func TestConfigMalformedJSONAppliesNothing(t *testing.T) {
	eng, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/config?threshold=900", "application/json", `{"threshold": 1500,`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := eng.Status().Threshold; got != model.DefaultThreshold {
		t.Fatalf("expected threshold unchanged, got %d", got)
	}
}

func TestIndexAndHealth(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "KickShield") {
		t.Fatalf("unexpected index response %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebsocketPushesStatus(t *testing.T) {
	eng := engine.New(model.DefaultSettings(), engine.Options{Clock: &frozenClock{}, Logger: quietLogger()})
	hub := NewHub(eng.Status, quietLogger())
	eng.AddListener(hub)
	srv := httptest.NewServer(NewServer(eng, hub, quietLogger()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for wait := time.Now().Add(time.Second); hub.Clients() != 1; {
		if time.Now().After(wait) {
			t.Fatalf("expected one websocket client, got %d", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}

	eng.Start(model.Mode20)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var st model.Status
		if err := json.Unmarshal(data, &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Running && st.Mode == "20" {
			return
		}
	}
	t.Fatalf("no running status pushed")
}
