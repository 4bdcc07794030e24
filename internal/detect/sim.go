package detect

import (
	"math/rand"
	"time"

	"github.com/verte-zerg/kickshield/internal/model"
)

const (
	simPeakLow      = 50
	simPeakHigh     = 800
	simMinDelayMs   = 200
	simMaxDelayMs   = 600
	simFirstDelayMs = 200
)

// Simulator synthesizes plausible strikes on a randomized cadence.
type Simulator struct {
	rnd    *rand.Rand
	nextMs int64
}

// NewSimulator returns a Simulator seeded with the current time.
func NewSimulator() *Simulator {
	return NewSimulatorWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewSimulatorWithSource returns a Simulator drawing from src.
func NewSimulatorWithSource(src rand.Source) *Simulator {
	return &Simulator{rnd: rand.New(src)}
}

// Reset schedules the first simulated strike relative to a session start.
func (s *Simulator) Reset(startMs int64) {
	s.nextMs = startMs + simFirstDelayMs
}

// NextMs returns the time of the next scheduled strike.
func (s *Simulator) NextMs() int64 {
	return s.nextMs
}

// Step returns a synthesized peak when a strike is due at now.
func (s *Simulator) Step(now int64, cfg model.Settings, lockoutUntil int64) (int, bool) {
	if now < s.nextMs {
		return 0, false
	}
	if now <= lockoutUntil {
		s.nextMs = lockoutUntil + 1
		return 0, false
	}
	hi := model.ClampInt(cfg.Threshold+simPeakHigh, model.ADCMin, model.ADCMax)
	lo := model.ClampInt(cfg.Threshold+simPeakLow, model.ADCMin, hi)
	peak := lo + s.rnd.Intn(hi-lo+1)
	s.nextMs = now + int64(simMinDelayMs+s.rnd.Intn(simMaxDelayMs-simMinDelayMs))
	return peak, true
}
