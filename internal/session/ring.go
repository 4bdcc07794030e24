package session

// HistoryCapacity is the number of recent hit timestamps retained.
const HistoryCapacity = 64

// HitRing is a fixed-capacity circular buffer of hit timestamps.
// Once full, each push overwrites the oldest entry.
type HitRing struct {
	buf   [HistoryCapacity]int64
	pos   int
	count int
}

// Push adds a timestamp.
func (r *HitRing) Push(ms int64) {
	r.buf[r.pos] = ms
	r.pos = (r.pos + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// CountSince returns how many stored timestamps are >= since.
func (r *HitRing) CountSince(since int64) int {
	n := 0
	for i := 0; i < r.count; i++ {
		if r.buf[i] >= since {
			n++
		}
	}
	return n
}

// Len returns the number of stored timestamps.
func (r *HitRing) Len() int {
	return r.count
}

// Reset empties the ring.
func (r *HitRing) Reset() {
	*r = HitRing{}
}
