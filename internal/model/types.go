// Package model defines shared data structures.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ADC range of the shock sensor.
const (
	ADCMin = 0
	ADCMax = 4095
)

// Settings ranges and defaults.
const (
	MinThreshold      = ADCMin
	MaxThreshold      = ADCMax
	MinLockoutMs      = 0
	MaxLockoutMs      = 5000
	MinSeriesGapMs    = 0
	MaxSeriesGapMs    = 10000
	MinSampleWindowMs = 1
	MaxSampleWindowMs = 50

	DefaultThreshold      = 1200
	DefaultLockoutMs      = 120
	DefaultSeriesGapMs    = 600
	DefaultSampleWindowMs = 8
)

// ErrInvalidMode is returned for session mode labels outside free|10|20|30|60.
var ErrInvalidMode = errors.New("invalid mode")

// Settings holds the tunable detection parameters.
type Settings struct {
	Threshold      int  `json:"threshold" yaml:"threshold"`
	LockoutMs      int  `json:"lockout_ms" yaml:"lockout_ms"`
	SeriesGapMs    int  `json:"series_gap_ms" yaml:"series_gap_ms"`
	SampleWindowMs int  `json:"sample_window_ms" yaml:"sample_window_ms"`
	Simulate       bool `json:"simulate" yaml:"simulate"`
}

// DefaultSettings returns the factory detection settings.
func DefaultSettings() Settings {
	return Settings{
		Threshold:      DefaultThreshold,
		LockoutMs:      DefaultLockoutMs,
		SeriesGapMs:    DefaultSeriesGapMs,
		SampleWindowMs: DefaultSampleWindowMs,
	}
}

// Clamp returns a copy with every numeric field forced into its range.
func (s Settings) Clamp() Settings {
	s.Threshold = ClampInt(s.Threshold, MinThreshold, MaxThreshold)
	s.LockoutMs = ClampInt(s.LockoutMs, MinLockoutMs, MaxLockoutMs)
	s.SeriesGapMs = ClampInt(s.SeriesGapMs, MinSeriesGapMs, MaxSeriesGapMs)
	s.SampleWindowMs = ClampInt(s.SampleWindowMs, MinSampleWindowMs, MaxSampleWindowMs)
	return s
}

// SettingsUpdate is a partial settings change. Nil fields are left untouched.
type SettingsUpdate struct {
	Threshold      *int
	LockoutMs      *int
	SeriesGapMs    *int
	SampleWindowMs *int
	Simulate       *bool
}

// Empty reports whether the update carries no fields.
func (u SettingsUpdate) Empty() bool {
	return u.Threshold == nil && u.LockoutMs == nil && u.SeriesGapMs == nil &&
		u.SampleWindowMs == nil && u.Simulate == nil
}

// Merge copies the fields set in other over u.
func (u *SettingsUpdate) Merge(other SettingsUpdate) {
	if other.Threshold != nil {
		u.Threshold = other.Threshold
	}
	if other.LockoutMs != nil {
		u.LockoutMs = other.LockoutMs
	}
	if other.SeriesGapMs != nil {
		u.SeriesGapMs = other.SeriesGapMs
	}
	if other.SampleWindowMs != nil {
		u.SampleWindowMs = other.SampleWindowMs
	}
	if other.Simulate != nil {
		u.Simulate = other.Simulate
	}
}

// Apply returns s with the update applied and clamped, and whether anything changed.
func (u SettingsUpdate) Apply(s Settings) (Settings, bool) {
	next := s
	if u.Threshold != nil {
		next.Threshold = ClampInt(*u.Threshold, MinThreshold, MaxThreshold)
	}
	if u.LockoutMs != nil {
		next.LockoutMs = ClampInt(*u.LockoutMs, MinLockoutMs, MaxLockoutMs)
	}
	if u.SeriesGapMs != nil {
		next.SeriesGapMs = ClampInt(*u.SeriesGapMs, MinSeriesGapMs, MaxSeriesGapMs)
	}
	if u.SampleWindowMs != nil {
		next.SampleWindowMs = ClampInt(*u.SampleWindowMs, MinSampleWindowMs, MaxSampleWindowMs)
	}
	if u.Simulate != nil {
		next.Simulate = *u.Simulate
	}
	return next, next != s
}

// ClampInt forces value into [minValue, maxValue].
func ClampInt(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

// Mode selects a free-run or timed session.
type Mode int

// Session modes.
const (
	ModeFree Mode = iota
	Mode10
	Mode20
	Mode30
	Mode60
)

// ParseMode maps a wire label (free|10|20|30|60) to a Mode. Matching is exact.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "free":
		return ModeFree, nil
	case "10":
		return Mode10, nil
	case "20":
		return Mode20, nil
	case "30":
		return Mode30, nil
	case "60":
		return Mode60, nil
	}
	return ModeFree, fmt.Errorf("%w: %q", ErrInvalidMode, value)
}

// ParseModeLoose is ParseMode for command-line input: surrounding space and
// case are ignored.
func ParseModeLoose(value string) (Mode, error) {
	return ParseMode(strings.ToLower(strings.TrimSpace(value)))
}

// DurationMs returns the session length, 0 for an unbounded session.
func (m Mode) DurationMs() int64 {
	switch m {
	case Mode10:
		return 10000
	case Mode20:
		return 20000
	case Mode30:
		return 30000
	case Mode60:
		return 60000
	default:
		return 0
	}
}

// String returns the status label.
func (m Mode) String() string {
	switch m {
	case Mode10:
		return "10"
	case Mode20:
		return "20"
	case Mode30:
		return "30"
	case Mode60:
		return "60"
	default:
		return "FREE"
	}
}

// Status is the flat snapshot served to clients.
type Status struct {
	Running       bool   `json:"running"`
	Mode          string `json:"mode"`
	TimeLeftMs    int64  `json:"time_left_ms"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	Hits          int    `json:"hits"`
	TempoHPM      int64  `json:"tempo_hpm"`
	AvgTempoHPM   int64  `json:"avg_tempo_hpm"`
	Series        int    `json:"series"`
	MaxSeries     int    `json:"maxSeries"`
	LastPeak      int    `json:"lastPeak"`
	LastScore     int    `json:"lastScore"`
	BestPeak      int    `json:"bestPeak"`
	BestScore     int    `json:"bestScore"`
	IntervalP50Ms int64  `json:"interval_p50_ms"`
	Settings
}

// HitEvent describes one accepted strike.
type HitEvent struct {
	SessionID string `json:"session_id"`
	AtMs      int64  `json:"at_ms"`
	Peak      int    `json:"peak"`
	Score     int    `json:"score"`
	Hits      int    `json:"hits"`
	Series    int    `json:"series"`
	Simulated bool   `json:"simulated"`
}

// SessionRecord captures a completed session.
type SessionRecord struct {
	ID            string    `json:"id" yaml:"id"`
	Mode          string    `json:"mode" yaml:"mode"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	EndedAt       time.Time `json:"ended_at" yaml:"ended_at"`
	DurationMs    int64     `json:"duration_ms" yaml:"duration_ms"`
	Hits          int       `json:"hits" yaml:"hits"`
	MaxSeries     int       `json:"max_series" yaml:"max_series"`
	BestPeak      int       `json:"best_peak" yaml:"best_peak"`
	BestScore     int       `json:"best_score" yaml:"best_score"`
	TempoHPM      int64     `json:"tempo_hpm" yaml:"tempo_hpm"`
	IntervalP50Ms int64     `json:"interval_p50_ms" yaml:"interval_p50_ms"`
	Simulated     bool      `json:"simulated" yaml:"simulated"`
	TimedOut      bool      `json:"timed_out" yaml:"timed_out"`
}

// HistoryFilter defines filters for the session log.
type HistoryFilter struct {
	Mode  string
	Since *time.Time
	Last  int
}
