// Package stats contains session log calculations and reporting.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/verte-zerg/kickshield/internal/model"
)

const sparkChars = " .:-=+*#%@"

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 1 {
		copy(out, values)
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		n := i + 1
		if i >= window {
			sum -= values[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	last := len(sparkChars) - 1
	for _, v := range values {
		idx := int(math.Round((v - lo) / (hi - lo) * float64(last)))
		b.WriteByte(sparkChars[max(0, min(idx, last))])
	}
	return b.String()
}

// Summary aggregates a run of completed sessions.
type Summary struct {
	Sessions     int
	Hits         int
	MeanTempo    float64
	StdDevTempo  float64
	BestTempo    int64
	BestScore    int
	BestPeak     int
	MaxSeries    int
	MedianGapMs  float64
	TotalActive  time.Duration
	TempoHistory []float64
}

// Summarize computes totals, bests and tempo spread over sessions.
func Summarize(sessions []model.SessionRecord) Summary {
	sum := Summary{Sessions: len(sessions)}
	if len(sessions) == 0 {
		return sum
	}
	tempos := make([]float64, len(sessions))
	var gaps []float64
	for i, s := range sessions {
		tempos[i] = float64(s.TempoHPM)
		sum.Hits += s.Hits
		sum.TotalActive += time.Duration(s.DurationMs) * time.Millisecond
		sum.BestTempo = max(sum.BestTempo, s.TempoHPM)
		sum.BestScore = max(sum.BestScore, s.BestScore)
		sum.BestPeak = max(sum.BestPeak, s.BestPeak)
		sum.MaxSeries = max(sum.MaxSeries, s.MaxSeries)
		if s.IntervalP50Ms > 0 {
			gaps = append(gaps, float64(s.IntervalP50Ms))
		}
	}
	if len(tempos) > 1 {
		sum.MeanTempo, sum.StdDevTempo = stat.MeanStdDev(tempos, nil)
	} else {
		sum.MeanTempo = tempos[0]
	}
	if len(gaps) > 0 {
		sort.Float64s(gaps)
		sum.MedianGapMs = stat.Quantile(0.5, stat.Empirical, gaps, nil)
	}
	sum.TempoHistory = tempos
	return sum
}

// RenderSummary prints a summary block for sessions.
func RenderSummary(w io.Writer, sessions []model.SessionRecord, window int) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	s := Summarize(sessions)
	lines := []string{
		"Summary",
		fmt.Sprintf("Sessions: %d (%s active)", s.Sessions, s.TotalActive.Round(time.Second)),
		fmt.Sprintf("Hits: %s", humanize.Comma(int64(s.Hits))),
		fmt.Sprintf("Tempo: %.1f ± %.1f hits/min (best %d)", s.MeanTempo, s.StdDevTempo, s.BestTempo),
		fmt.Sprintf("Best score: %d  Best peak: %d  Longest series: %d", s.BestScore, s.BestPeak, s.MaxSeries),
	}
	if s.MedianGapMs > 0 {
		lines = append(lines, fmt.Sprintf("Typical gap: %.0f ms", s.MedianGapMs))
	}
	if len(s.TempoHistory) > 1 {
		lines = append(lines, "Tempo trend: "+Sparkline(MovingAverage(s.TempoHistory, window)))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// SessionHeaders are the column titles of the session table.
var SessionHeaders = []string{"When", "Mode", "Time", "Hits", "Tempo", "Series", "Best", "Gap", "Src"}

// SessionRows formats sessions newest first for tabular display.
func SessionRows(sessions []model.SessionRecord, now time.Time) [][]string {
	rows := make([][]string, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		source := "sensor"
		if s.Simulated {
			source = "sim"
		}
		mode := s.Mode
		if s.Mode != model.ModeFree.String() && !s.TimedOut {
			mode += "*"
		}
		gap := "-"
		if s.IntervalP50Ms > 0 {
			gap = fmt.Sprintf("%dms", s.IntervalP50Ms)
		}
		rows = append(rows, []string{
			humanize.RelTime(s.EndedAt, now, "ago", "from now"),
			mode,
			(time.Duration(s.DurationMs) * time.Millisecond).Round(100 * time.Millisecond).String(),
			fmt.Sprintf("%d", s.Hits),
			fmt.Sprintf("%d", s.TempoHPM),
			fmt.Sprintf("%d", s.MaxSeries),
			fmt.Sprintf("%d", s.BestScore),
			gap,
			source,
		})
	}
	return rows
}

// RenderSessions prints the session table, newest first. Timed sessions
// stopped early are marked with an asterisk.
func RenderSessions(w io.Writer, sessions []model.SessionRecord, now time.Time) error {
	if len(sessions) == 0 {
		return nil
	}
	rightAlign := map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true}
	for _, line := range formatTable(SessionHeaders, SessionRows(sessions, now), rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
