// Package session holds the session lifecycle, per-session statistics and
// tempo math. Nothing here is safe for concurrent use; callers serialize.
package session

import "github.com/verte-zerg/kickshield/internal/model"

// Session tracks the lifecycle of one practice run.
type Session struct {
	Mode       model.Mode
	Running    bool
	StartMs    int64
	StopMs     int64
	DurationMs int64
	// Generation increments on every start.
	Generation uint64
}

// Start begins a session in mode at now. Valid from any state.
func (s *Session) Start(mode model.Mode, now int64) {
	s.Mode = mode
	s.DurationMs = mode.DurationMs()
	s.StartMs = now
	s.StopMs = 0
	s.Running = true
	s.Generation++
}

// Stop ends a running session at now. It reports false when already idle.
func (s *Session) Stop(now int64) bool {
	if !s.Running {
		return false
	}
	s.Running = false
	s.StopMs = now
	return true
}

// Expired reports whether a timed session has used its whole budget.
func (s *Session) Expired(now int64) bool {
	return s.Running && s.DurationMs > 0 && now-s.StartMs >= s.DurationMs
}

// Remaining returns the time left in a running timed session, else 0.
func (s *Session) Remaining(now int64) int64 {
	if !s.Running || s.DurationMs == 0 {
		return 0
	}
	left := s.DurationMs - (now - s.StartMs)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed returns the session age, frozen at StopMs once stopped.
func (s *Session) Elapsed(now int64) int64 {
	if s.Running {
		return now - s.StartMs
	}
	if s.StopMs > s.StartMs {
		return s.StopMs - s.StartMs
	}
	return 0
}
