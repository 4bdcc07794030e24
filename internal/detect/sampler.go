package detect

import "github.com/verte-zerg/kickshield/internal/model"

// SampleIntervalUs is the intra-window polling period (10 kHz).
const SampleIntervalUs = 100

// Sensor yields one raw ADC reading per call.
type Sensor interface {
	Read() int
}

// SamplePeak polls s every SampleIntervalUs until windowMs has elapsed on c
// and returns the largest reading seen. A silent or missing sensor yields 0.
func SamplePeak(s Sensor, c Clock, windowMs int) int {
	windowUs := int64(windowMs) * 1000
	start := c.Micros()
	last := start - SampleIntervalUs
	peak := 0
	for {
		now := c.Micros()
		if now-start >= windowUs {
			return peak
		}
		if now-last < SampleIntervalUs {
			continue
		}
		last = now
		if v := model.ClampInt(s.Read(), model.ADCMin, model.ADCMax); v > peak {
			peak = v
		}
	}
}
