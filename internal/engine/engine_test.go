package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/verte-zerg/kickshield/internal/detect"
	"github.com/verte-zerg/kickshield/internal/model"
)

type manualClock struct {
	mu   sync.Mutex
	us   int64
	step int64
}

func (c *manualClock) Micros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.us
	c.us += c.step
	return v
}

func (c *manualClock) setMs(ms int64) {
	c.mu.Lock()
	c.us = ms * 1000
	c.mu.Unlock()
}

type constSensor struct {
	value  int
	onRead func()
}

func (s *constSensor) Read() int {
	if s.onRead != nil {
		hook := s.onRead
		s.onRead = nil
		hook()
	}
	return s.value
}

type memStore struct {
	mu       sync.Mutex
	settings []model.Settings
	sessions []model.SessionRecord
}

func (m *memStore) SaveSettings(_ context.Context, cfg model.Settings) error {
	m.mu.Lock()
	m.settings = append(m.settings, cfg)
	m.mu.Unlock()
	return nil
}

func (m *memStore) InsertSession(_ context.Context, rec model.SessionRecord) error {
	m.mu.Lock()
	m.sessions = append(m.sessions, rec)
	m.mu.Unlock()
	return nil
}

type recordingListener struct {
	hits     []model.HitEvent
	sessions []model.SessionRecord
}

func (l *recordingListener) OnHit(ev model.HitEvent)              { l.hits = append(l.hits, ev) }
func (l *recordingListener) OnSessionEnd(rec model.SessionRecord) { l.sessions = append(l.sessions, rec) }

func injectHit(e *Engine, clk *manualClock, ms int64, peak int) {
	clk.setMs(ms)
	e.mu.Lock()
	defer e.mu.Unlock()
	score, ok := detect.Classify(peak, ms, e.cfg.Threshold, e.stats.LockoutUntil)
	if ok {
		e.recordLocked(ms, peak, score, false)
	}
}

func TestTimedSessionStopsAndFreezesTempo(t *testing.T) {
	clk := &manualClock{}
	st := &memStore{}
	listener := &recordingListener{}
	e := New(model.DefaultSettings(), Options{Clock: clk, Store: st})
	e.AddListener(listener)

	e.Start(model.Mode30)
	for i := int64(1); i <= 12; i++ {
		injectHit(e, clk, i*2000, 2000)
	}

	clk.setMs(29999)
	if !e.Status().Running {
		t.Fatalf("expected session still running before the deadline")
	}

	clk.setMs(30000)
	e.Cycle()
	status := e.Status()
	if status.Running {
		t.Fatalf("expected session to stop at 30000ms")
	}
	if status.Hits != 12 || status.TempoHPM != 24 || status.AvgTempoHPM != 24 {
		t.Fatalf("unexpected final status: %+v", status)
	}
	if status.TimeLeftMs != 0 {
		t.Fatalf("expected no time left, got %d", status.TimeLeftMs)
	}

	clk.setMs(45000)
	later := e.Status()
	if later.TempoHPM != 24 || later.ElapsedMs != 30000 {
		t.Fatalf("expected frozen tempo and elapsed, got %+v", later)
	}

	if len(st.sessions) != 1 || len(listener.sessions) != 1 {
		t.Fatalf("expected one stored session, got %d/%d", len(st.sessions), len(listener.sessions))
	}
	rec := st.sessions[0]
	if !rec.TimedOut || rec.Mode != "30" || rec.DurationMs != 30000 || rec.TempoHPM != 24 {
		t.Fatalf("unexpected session record: %+v", rec)
	}
	if rec.IntervalP50Ms != 2000 {
		t.Fatalf("expected median interval 2000, got %d", rec.IntervalP50Ms)
	}
	if rec.ID == "" {
		t.Fatalf("expected session id")
	}
}

func TestStartResetsStatistics(t *testing.T) {
	clk := &manualClock{}
	st := &memStore{}
	e := New(model.DefaultSettings(), Options{Clock: clk, Store: st})

	e.Start(model.ModeFree)
	injectHit(e, clk, 100, 3000)
	injectHit(e, clk, 400, 2500)
	if got := e.Status().Hits; got != 2 {
		t.Fatalf("expected 2 hits, got %d", got)
	}

	clk.setMs(1000)
	e.Start(model.Mode10)
	status := e.Status()
	if status.Hits != 0 || status.Series != 0 || status.BestPeak != 0 || status.LastScore != 0 {
		t.Fatalf("expected cleared statistics, got %+v", status)
	}
	if !status.Running || status.Mode != "10" || status.TimeLeftMs != 10000 {
		t.Fatalf("unexpected session state: %+v", status)
	}
	if len(st.sessions) != 1 || st.sessions[0].Hits != 2 || st.sessions[0].TimedOut {
		t.Fatalf("expected interrupted session logged, got %+v", st.sessions)
	}
}

func TestCycleScoresSampledStrike(t *testing.T) {
	clk := &manualClock{step: 100}
	sensor := &constSensor{value: 2200}
	listener := &recordingListener{}
	cfg := model.DefaultSettings()
	cfg.SampleWindowMs = 1
	e := New(cfg, Options{Clock: clk, Sensor: sensor})
	e.AddListener(listener)

	e.Start(model.ModeFree)
	e.Cycle()
	status := e.Status()
	if status.Hits != 1 || status.LastPeak != 2200 || status.LastScore != 345 {
		t.Fatalf("unexpected status after strike: %+v", status)
	}

	// The next window ends well inside the 120ms lockout.
	e.Cycle()
	if got := e.Status().Hits; got != 1 {
		t.Fatalf("expected strike inside lockout to be rejected, got %d hits", got)
	}
	if len(listener.hits) != 1 || listener.hits[0].Score != 345 || listener.hits[0].Simulated {
		t.Fatalf("unexpected hit events: %+v", listener.hits)
	}
}

func TestCycleDropsPeakFromRestartedSession(t *testing.T) {
	clk := &manualClock{step: 100}
	sensor := &constSensor{value: 4000}
	cfg := model.DefaultSettings()
	cfg.SampleWindowMs = 1
	e := New(cfg, Options{Clock: clk, Sensor: sensor})

	e.Start(model.ModeFree)
	sensor.onRead = func() { e.Start(model.ModeFree) }
	e.Cycle()
	if got := e.Status().Hits; got != 0 {
		t.Fatalf("expected peak from previous session to be dropped, got %d hits", got)
	}
}

func TestCycleIdleDoesNothing(t *testing.T) {
	clk := &manualClock{}
	e := New(model.DefaultSettings(), Options{Clock: clk, IdleDelay: 7 * time.Millisecond})
	if pause := e.Cycle(); pause != 7*time.Millisecond {
		t.Fatalf("expected idle pause, got %v", pause)
	}
	if e.Stop() {
		t.Fatalf("expected stop on idle engine to report false")
	}
}

func TestSimulatedStrikes(t *testing.T) {
	clk := &manualClock{}
	listener := &recordingListener{}
	cfg := model.DefaultSettings()
	cfg.Simulate = true
	e := New(cfg, Options{
		Clock:     clk,
		Simulator: detect.NewSimulatorWithSource(rand.NewSource(7)),
	})
	e.AddListener(listener)

	e.Start(model.ModeFree)
	clk.setMs(150)
	e.Cycle()
	if got := e.Status().Hits; got != 0 {
		t.Fatalf("expected no strike before 200ms, got %d", got)
	}

	clk.setMs(200)
	e.Cycle()
	status := e.Status()
	if status.Hits != 1 {
		t.Fatalf("expected first simulated strike at 200ms, got %d hits", status.Hits)
	}
	if status.LastPeak < cfg.Threshold+50 || status.LastPeak > cfg.Threshold+800 {
		t.Fatalf("simulated peak %d out of range", status.LastPeak)
	}
	if status.LastScore != detect.Score(status.LastPeak, cfg.Threshold) {
		t.Fatalf("unexpected simulated score %d", status.LastScore)
	}
	if len(listener.hits) != 1 || !listener.hits[0].Simulated || listener.hits[0].AtMs != 200 {
		t.Fatalf("unexpected simulated events: %+v", listener.hits)
	}
}

func TestUpdateSettingsClampsAndPersists(t *testing.T) {
	st := &memStore{}
	e := New(model.DefaultSettings(), Options{Clock: &manualClock{}, Store: st})

	threshold := 5000
	changed, err := e.UpdateSettings(context.Background(), model.SettingsUpdate{Threshold: &threshold})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if !changed || e.Settings().Threshold != model.ADCMax {
		t.Fatalf("expected threshold clamped to %d, got %d", model.ADCMax, e.Settings().Threshold)
	}
	if len(st.settings) != 1 || st.settings[0].Threshold != model.ADCMax {
		t.Fatalf("expected clamped settings persisted, got %+v", st.settings)
	}

	changed, err = e.UpdateSettings(context.Background(), model.SettingsUpdate{})
	if err != nil || changed {
		t.Fatalf("expected empty update to be a no-op, changed=%v err=%v", changed, err)
	}
	if len(st.settings) != 1 {
		t.Fatalf("expected no extra persist, got %d", len(st.settings))
	}
	if got := e.Settings().LockoutMs; got != model.DefaultLockoutMs {
		t.Fatalf("expected lockout unchanged, got %d", got)
	}
}

func TestStartLabelRejectsUnknownMode(t *testing.T) {
	e := New(model.DefaultSettings(), Options{Clock: &manualClock{}})
	if err := e.StartLabel("45"); err == nil {
		t.Fatalf("expected invalid mode error")
	}
	if e.Status().Running {
		t.Fatalf("expected engine to stay idle")
	}
	if err := e.StartLabel("20"); err != nil {
		t.Fatalf("start 20: %v", err)
	}
	if status := e.Status(); !status.Running || status.Mode != "20" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStartLabelMatchesExactly(t *testing.T) {
	e := New(model.DefaultSettings(), Options{Clock: &manualClock{}})
	for _, label := range []string{"FREE", "Free", " 30", "30 ", "30\n"} {
		if err := e.StartLabel(label); !errors.Is(err, model.ErrInvalidMode) {
			t.Fatalf("label %q: expected ErrInvalidMode, got %v", label, err)
		}
		if e.Status().Running {
			t.Fatalf("label %q: expected engine to stay idle", label)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := New(model.DefaultSettings(), Options{})
	e.Start(model.ModeFree)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if e.Status().Running {
		t.Fatalf("expected session stopped on shutdown")
	}
}
