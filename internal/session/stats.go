package session

import (
	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/verte-zerg/kickshield/internal/model"
)

const (
	intervalMinMs   = 1
	intervalMaxMs   = 3_600_000
	intervalSigFigs = 3
)

// Stats are the per-session strike statistics.
type Stats struct {
	Hits         int
	Series       int
	MaxSeries    int
	LastPeak     int
	LastScore    int
	BestPeak     int
	BestScore    int
	LastHitMs    int64
	LockoutUntil int64
	History      HitRing

	intervals *hdrhistogram.Histogram
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	st := &Stats{}
	st.Reset()
	return st
}

// Reset clears every field for a new session.
func (st *Stats) Reset() {
	intervals := st.intervals
	*st = Stats{}
	if intervals == nil {
		intervals = hdrhistogram.New(intervalMinMs, intervalMaxMs, intervalSigFigs)
	}
	intervals.Reset()
	st.intervals = intervals
}

// RecordHit registers an accepted strike at now.
func (st *Stats) RecordHit(now int64, peak, score int, cfg model.Settings) {
	st.Hits++
	gap := now - st.LastHitMs
	if st.Hits > 1 && gap <= int64(cfg.SeriesGapMs) {
		st.Series++
	} else {
		st.Series = 1
	}
	if st.Hits > 1 && st.intervals != nil {
		// Gaps beyond the histogram range count as the longest gap. The
		// clamped value is always recordable.
		_ = st.intervals.RecordValue(min(max(gap, 0), intervalMaxMs))
	}
	if st.Series > st.MaxSeries {
		st.MaxSeries = st.Series
	}
	st.LastHitMs = now
	st.LockoutUntil = now + int64(cfg.LockoutMs)
	st.LastPeak = peak
	st.LastScore = score
	if peak > st.BestPeak {
		st.BestPeak = peak
	}
	if score > st.BestScore {
		st.BestScore = score
	}
	st.History.Push(now)
}

// IntervalQuantile returns the q-th percentile (0-100) inter-hit gap in ms,
// or 0 with fewer than two hits.
func (st *Stats) IntervalQuantile(q float64) int64 {
	if st.intervals == nil || st.intervals.TotalCount() == 0 {
		return 0
	}
	return st.intervals.ValueAtQuantile(q)
}
