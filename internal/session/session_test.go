package session

import (
	"testing"

	"github.com/verte-zerg/kickshield/internal/model"
)

func TestRecordHitSeries(t *testing.T) {
	st := NewStats()
	cfg := model.DefaultSettings()
	var got []int
	for _, at := range []int64{0, 100, 800} {
		st.RecordHit(at, 2000, 276, cfg)
		got = append(got, st.Series)
	}
	want := []int{1, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("series sequence %v, want %v", got, want)
		}
	}
	if st.MaxSeries != 2 {
		t.Fatalf("expected maxSeries 2, got %d", st.MaxSeries)
	}
	if st.Hits != 3 {
		t.Fatalf("expected 3 hits, got %d", st.Hits)
	}
}

func TestRecordHitSetsLockoutAndBests(t *testing.T) {
	st := NewStats()
	cfg := model.DefaultSettings()
	st.RecordHit(5000, 3000, 621, cfg)
	st.RecordHit(5400, 2200, 345, cfg)
	if st.LockoutUntil != 5400+int64(cfg.LockoutMs) {
		t.Fatalf("unexpected lockout deadline %d", st.LockoutUntil)
	}
	if st.LastPeak != 2200 || st.LastScore != 345 {
		t.Fatalf("unexpected last peak/score %d/%d", st.LastPeak, st.LastScore)
	}
	if st.BestPeak != 3000 || st.BestScore != 621 {
		t.Fatalf("unexpected best peak/score %d/%d", st.BestPeak, st.BestScore)
	}
	if st.IntervalQuantile(50) != 400 {
		t.Fatalf("expected median interval 400, got %d", st.IntervalQuantile(50))
	}
}

func TestRecordHitCountsVeryLongGap(t *testing.T) {
	st := NewStats()
	cfg := model.DefaultSettings()
	st.RecordHit(0, 2000, 276, cfg)
	st.RecordHit(2*intervalMaxMs, 2000, 276, cfg)
	got := st.IntervalQuantile(50)
	if got < intervalMaxMs-4000 || got > intervalMaxMs+4000 {
		t.Fatalf("expected long gap recorded near %d, got %d", intervalMaxMs, got)
	}
}

func TestResetClearsStats(t *testing.T) {
	st := NewStats()
	cfg := model.DefaultSettings()
	for i := int64(1); i <= 5; i++ {
		st.RecordHit(i*200, 3000, 600, cfg)
	}
	st.Reset()
	if st.Hits != 0 || st.Series != 0 || st.MaxSeries != 0 || st.BestPeak != 0 || st.BestScore != 0 {
		t.Fatalf("stats not reset: %+v", st)
	}
	if st.History.Len() != 0 {
		t.Fatalf("history not reset")
	}
	if st.IntervalQuantile(50) != 0 {
		t.Fatalf("interval histogram not reset")
	}
}

func TestHitRingOverwritesOldest(t *testing.T) {
	var r HitRing
	for i := int64(1); i <= HistoryCapacity+6; i++ {
		r.Push(i)
	}
	if r.Len() != HistoryCapacity {
		t.Fatalf("expected %d entries, got %d", HistoryCapacity, r.Len())
	}
	if n := r.CountSince(0); n != HistoryCapacity {
		t.Fatalf("expected oldest entries overwritten, got %d", n)
	}
	if n := r.CountSince(8); n != HistoryCapacity-1 {
		t.Fatalf("expected entry 7 to be the oldest kept, got %d", n)
	}
	if n := r.CountSince(60); n != HistoryCapacity+6-60+1 {
		t.Fatalf("unexpected CountSince: %d", n)
	}
}

func TestSessionLifecycle(t *testing.T) {
	var s Session
	s.Start(model.Mode30, 1000)
	if !s.Running || s.DurationMs != 30000 {
		t.Fatalf("unexpected session after start: %+v", s)
	}
	if s.Expired(30999) {
		t.Fatalf("expired early")
	}
	if !s.Expired(31000) {
		t.Fatalf("expected expiry at 30s")
	}
	if s.Remaining(11000) != 20000 {
		t.Fatalf("unexpected remaining %d", s.Remaining(11000))
	}
	if !s.Stop(31000) {
		t.Fatalf("stop of running session reported false")
	}
	if s.Stop(32000) {
		t.Fatalf("stop of idle session reported true")
	}
	if s.StopMs != 31000 || s.Elapsed(99999) != 30000 {
		t.Fatalf("unexpected frozen timing: stop %d elapsed %d", s.StopMs, s.Elapsed(99999))
	}
	if s.Remaining(31000) != 0 {
		t.Fatalf("stopped session has time left")
	}
}

func TestFreeSessionNeverExpires(t *testing.T) {
	var s Session
	s.Start(model.ModeFree, 0)
	if s.Expired(1 << 40) {
		t.Fatalf("free session expired")
	}
	if s.Remaining(500) != 0 {
		t.Fatalf("free session reports time left")
	}
}

func TestAverageTempo(t *testing.T) {
	if got := AverageTempo(5, 0, 10000); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := AverageTempo(0, 0, 10000); got != 0 {
		t.Fatalf("expected 0 with no hits, got %d", got)
	}
	if got := AverageTempo(3, 500, 500); got != 0 {
		t.Fatalf("expected 0 with zero elapsed, got %d", got)
	}
}

func TestInstantTempo(t *testing.T) {
	st := NewStats()
	cfg := model.DefaultSettings()
	for _, at := range []int64{1000, 2000, 12500, 13000, 14000} {
		st.RecordHit(at, 3000, 600, cfg)
	}
	// Window is 10s ending at 15000: hits at 12500, 13000, 14000.
	if got := InstantTempo(st, 0, 15000); got != 18 {
		t.Fatalf("expected 18, got %d", got)
	}
	// Early in a session the window shrinks to the session age.
	if got := InstantTempo(st, 11000, 15000); got != 45 {
		t.Fatalf("expected 45, got %d", got)
	}
	if got := InstantTempo(st, 15000, 15000); got != 0 {
		t.Fatalf("expected 0 for empty window, got %d", got)
	}
}

func TestFinalTempo(t *testing.T) {
	st := NewStats()
	var s Session
	s.Start(model.Mode10, 0)
	for i := int64(1); i <= 4; i++ {
		st.RecordHit(i*1000, 3000, 600, model.DefaultSettings())
	}
	s.Stop(10000)
	if got := FinalTempo(st, &s); got != 24 {
		t.Fatalf("expected 24, got %d", got)
	}
}
