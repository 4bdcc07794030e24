package session

// TempoWindowMs is the trailing lookback of the instantaneous tempo.
const TempoWindowMs = 10000

const msPerMinute = 60000

// InstantTempo returns hits per minute over the trailing window ending at now.
// The window shrinks to the session age early in a session. Because History
// holds only HistoryCapacity entries, sustained rates above roughly one hit
// per 156 ms undercount.
func InstantTempo(st *Stats, startMs, now int64) int64 {
	window := now - startMs
	if window > TempoWindowMs {
		window = TempoWindowMs
	}
	if window <= 0 {
		return 0
	}
	count := st.History.CountSince(now - window)
	return int64(count) * msPerMinute / window
}

// AverageTempo returns whole-session hits per minute evaluated at endMs.
func AverageTempo(hits int, startMs, endMs int64) int64 {
	if hits == 0 {
		return 0
	}
	elapsed := endMs - startMs
	if elapsed <= 0 {
		return 0
	}
	return int64(hits) * msPerMinute / elapsed
}

// FinalTempo is the average evaluated at the stop time.
func FinalTempo(st *Stats, s *Session) int64 {
	return AverageTempo(st.Hits, s.StartMs, s.StopMs)
}
