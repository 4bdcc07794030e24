// Package engine owns the detection state and runs the driver loop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/kickshield/internal/detect"
	"github.com/verte-zerg/kickshield/internal/model"
	"github.com/verte-zerg/kickshield/internal/session"
)

const (
	defaultIdleDelay = 5 * time.Millisecond
	simulateDelay    = time.Millisecond
)

// Persister stores settings and completed sessions.
type Persister interface {
	SaveSettings(ctx context.Context, cfg model.Settings) error
	InsertSession(ctx context.Context, rec model.SessionRecord) error
}

// Listener receives engine events. Calls happen outside the engine lock on
// the goroutine that produced the event and must not block for long.
type Listener interface {
	OnHit(ev model.HitEvent)
	OnSessionEnd(rec model.SessionRecord)
}

// Options wires collaborators into an Engine. Zero fields get defaults.
type Options struct {
	Clock     detect.Clock
	Sensor    detect.Sensor
	Simulator *detect.Simulator
	Store     Persister
	Logger    logrus.FieldLogger
	WallClock func() time.Time
	IdleDelay time.Duration
}

// Engine is the single owner of settings, session and statistics.
// All access goes through one mutex so status reads see a consistent
// snapshot.
type Engine struct {
	mu        sync.Mutex
	cfg       model.Settings
	sess      session.Session
	stats     *session.Stats
	sim       *detect.Simulator
	sessionID string
	startedAt time.Time

	clock     detect.Clock
	sensor    detect.Sensor
	store     Persister
	log       logrus.FieldLogger
	wallClock func() time.Time
	idleDelay time.Duration

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New returns an idle engine using cfg (clamped).
func New(cfg model.Settings, opts Options) *Engine {
	e := &Engine{
		cfg:       cfg.Clamp(),
		stats:     session.NewStats(),
		sim:       opts.Simulator,
		clock:     opts.Clock,
		sensor:    opts.Sensor,
		store:     opts.Store,
		log:       opts.Logger,
		wallClock: opts.WallClock,
		idleDelay: opts.IdleDelay,
	}
	if e.sim == nil {
		e.sim = detect.NewSimulator()
	}
	if e.clock == nil {
		e.clock = detect.NewMonotonicClock()
	}
	if e.sensor == nil {
		e.sensor = flatSensor{}
	}
	if e.log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		e.log = logger
	}
	if e.wallClock == nil {
		e.wallClock = time.Now
	}
	if e.idleDelay <= 0 {
		e.idleDelay = defaultIdleDelay
	}
	return e
}

type flatSensor struct{}

func (flatSensor) Read() int { return 0 }

// AddListener registers l for hit and session events.
func (e *Engine) AddListener(l Listener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

// StartLabel parses a wire mode label and starts a session.
func (e *Engine) StartLabel(label string) error {
	mode, err := model.ParseMode(label)
	if err != nil {
		return err
	}
	e.Start(mode)
	return nil
}

// Start begins a new session, resetting all statistics. A running session
// is ended and logged first.
func (e *Engine) Start(mode model.Mode) {
	e.mu.Lock()
	now := detect.Millis(e.clock)
	var prev *model.SessionRecord
	if e.sess.Running {
		rec := e.stopLocked(now, false)
		prev = &rec
	}
	e.sess.Start(mode, now)
	e.stats.Reset()
	e.sim.Reset(now)
	e.sessionID = uuid.NewString()
	e.startedAt = e.wallClock()
	id := e.sessionID
	e.mu.Unlock()

	if prev != nil {
		e.sessionEnded(*prev)
	}
	e.log.WithFields(logrus.Fields{"mode": mode.String(), "session": id}).Info("session start")
}

// Stop ends the running session. It reports false when no session was running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if !e.sess.Running {
		e.mu.Unlock()
		return false
	}
	rec := e.stopLocked(detect.Millis(e.clock), false)
	e.mu.Unlock()

	e.sessionEnded(rec)
	return true
}

func (e *Engine) stopLocked(now int64, timedOut bool) model.SessionRecord {
	e.sess.Stop(now)
	duration := e.sess.StopMs - e.sess.StartMs
	return model.SessionRecord{
		ID:            e.sessionID,
		Mode:          e.sess.Mode.String(),
		StartedAt:     e.startedAt,
		EndedAt:       e.startedAt.Add(time.Duration(duration) * time.Millisecond),
		DurationMs:    duration,
		Hits:          e.stats.Hits,
		MaxSeries:     e.stats.MaxSeries,
		BestPeak:      e.stats.BestPeak,
		BestScore:     e.stats.BestScore,
		TempoHPM:      session.FinalTempo(e.stats, &e.sess),
		IntervalP50Ms: e.stats.IntervalQuantile(50),
		Simulated:     e.cfg.Simulate,
		TimedOut:      timedOut,
	}
}

func (e *Engine) sessionEnded(rec model.SessionRecord) {
	e.log.WithFields(logrus.Fields{
		"mode":      rec.Mode,
		"session":   rec.ID,
		"hits":      rec.Hits,
		"tempo":     rec.TempoHPM,
		"timed_out": rec.TimedOut,
	}).Info("session stop")
	if e.store != nil {
		if err := e.store.InsertSession(context.Background(), rec); err != nil {
			e.log.WithError(err).Warn("failed to save session")
		}
	}
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, l := range e.listeners {
		l.OnSessionEnd(rec)
	}
}

func (e *Engine) hit(ev model.HitEvent) {
	e.log.WithFields(logrus.Fields{
		"peak":   ev.Peak,
		"score":  ev.Score,
		"hits":   ev.Hits,
		"series": ev.Series,
	}).Debug("hit")
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for _, l := range e.listeners {
		l.OnHit(ev)
	}
}

// Settings returns the current detection settings.
func (e *Engine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateSettings applies a partial update. Changed settings are persisted;
// the in-memory change stands even when persisting fails.
func (e *Engine) UpdateSettings(ctx context.Context, u model.SettingsUpdate) (bool, error) {
	if u.Empty() {
		return false, nil
	}
	e.mu.Lock()
	next, changed := u.Apply(e.cfg)
	e.cfg = next
	e.mu.Unlock()

	if !changed {
		return false, nil
	}
	e.log.WithFields(logrus.Fields{
		"threshold":     next.Threshold,
		"lockout_ms":    next.LockoutMs,
		"series_gap_ms": next.SeriesGapMs,
		"window_ms":     next.SampleWindowMs,
		"simulate":      next.Simulate,
	}).Info("settings updated")
	if e.store != nil {
		if err := e.store.SaveSettings(ctx, next); err != nil {
			return true, fmt.Errorf("failed to save settings: %w", err)
		}
	}
	return true, nil
}

// Status returns a consistent snapshot of session, statistics and settings.
func (e *Engine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := detect.Millis(e.clock)
	st := model.Status{
		Running:       e.sess.Running,
		Mode:          e.sess.Mode.String(),
		TimeLeftMs:    e.sess.Remaining(now),
		ElapsedMs:     e.sess.Elapsed(now),
		Hits:          e.stats.Hits,
		Series:        e.stats.Series,
		MaxSeries:     e.stats.MaxSeries,
		LastPeak:      e.stats.LastPeak,
		LastScore:     e.stats.LastScore,
		BestPeak:      e.stats.BestPeak,
		BestScore:     e.stats.BestScore,
		IntervalP50Ms: e.stats.IntervalQuantile(50),
		Settings:      e.cfg,
	}
	if e.sess.Running {
		st.TempoHPM = session.InstantTempo(e.stats, e.sess.StartMs, now)
		st.AvgTempoHPM = session.AverageTempo(e.stats.Hits, e.sess.StartMs, now)
	} else {
		final := session.FinalTempo(e.stats, &e.sess)
		st.TempoHPM = final
		st.AvgTempoHPM = final
	}
	return st
}

// Cycle runs one driver-loop iteration: the timed-session check and at most
// one detection pass. It returns how long the loop may pause afterwards.
func (e *Engine) Cycle() time.Duration {
	e.mu.Lock()
	if !e.sess.Running {
		e.mu.Unlock()
		return e.idleDelay
	}
	now := detect.Millis(e.clock)
	if e.sess.Expired(now) {
		rec := e.stopLocked(now, true)
		e.mu.Unlock()
		e.sessionEnded(rec)
		return e.idleDelay
	}

	cfg := e.cfg
	if cfg.Simulate {
		var ev *model.HitEvent
		if peak, ok := e.sim.Step(now, cfg, e.stats.LockoutUntil); ok {
			ev = e.recordLocked(now, peak, detect.Score(peak, cfg.Threshold), true)
		}
		e.mu.Unlock()
		if ev != nil {
			e.hit(*ev)
		}
		return simulateDelay
	}

	generation := e.sess.Generation
	e.mu.Unlock()

	peak := detect.SamplePeak(e.sensor, e.clock, cfg.SampleWindowMs)

	e.mu.Lock()
	if !e.sess.Running || e.sess.Generation != generation {
		e.mu.Unlock()
		return 0
	}
	now = detect.Millis(e.clock)
	var ev *model.HitEvent
	if score, ok := detect.Classify(peak, now, e.cfg.Threshold, e.stats.LockoutUntil); ok {
		ev = e.recordLocked(now, peak, score, false)
	}
	e.mu.Unlock()
	if ev != nil {
		e.hit(*ev)
	}
	return 0
}

func (e *Engine) recordLocked(now int64, peak, score int, simulated bool) *model.HitEvent {
	e.stats.RecordHit(now, peak, score, e.cfg)
	return &model.HitEvent{
		SessionID: e.sessionID,
		AtMs:      now - e.sess.StartMs,
		Peak:      peak,
		Score:     score,
		Hits:      e.stats.Hits,
		Series:    e.stats.Series,
		Simulated: simulated,
	}
}

// Run drives Cycle until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("detection loop running")
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return nil
		default:
		}
		pause := e.Cycle()
		if pause <= 0 {
			continue
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.Stop()
			return nil
		case <-timer.C:
		}
	}
}
