package detect

import (
	"math"

	"github.com/verte-zerg/kickshield/internal/model"
)

// MaxScore is the top of the intensity scale.
const MaxScore = 999

// Score maps peak linearly from (threshold, ADCMax] onto [0, MaxScore].
// A threshold at or above ADCMax leaves no span and scores MaxScore.
func Score(peak, threshold int) int {
	span := model.ADCMax - threshold
	if span <= 0 {
		return MaxScore
	}
	if peak <= threshold {
		return 0
	}
	scaled := math.Round(float64(peak-threshold) * MaxScore / float64(span))
	return model.ClampInt(int(scaled), 0, MaxScore)
}

// Classify accepts a strike when peak exceeds threshold and now is past the
// lockout deadline. Rejected peaks produce no score.
func Classify(peak int, now int64, threshold int, lockoutUntil int64) (int, bool) {
	if peak <= threshold || now <= lockoutUntil {
		return 0, false
	}
	return Score(peak, threshold), true
}
