package abr

import "math"

// Default tuning of the control loop.
const (
	// DefaultCoefficient is the safety margin between a tier's bitrate and
	// the throughput needed to select it.
	DefaultCoefficient = 2.2

	// DefaultMinChunk is the smallest range, in seconds, a fetch asks for.
	DefaultMinChunk = 0.5

	// DefaultLookahead is how far, in seconds, the buffered edge may run
	// ahead of playback before fetching pauses.
	DefaultLookahead = 5.0
)

// SelectTier returns the highest index whose bitrate times coefficient is
// below speed (bytes per second), or 0 when none qualifies.
func SelectTier(bitrates []float64, speed, coefficient float64) int {
	for i := len(bitrates) - 1; i >= 0; i-- {
		if bitrates[i]*coefficient < speed {
			return i
		}
	}
	return 0
}

// NextChunkLength converts the last observed speed into the number of
// seconds to request next, clamped to at least minChunk and at most the
// media left after cursor. A result <= 0 means the cursor reached the end.
func NextChunkLength(speed, tierLength, duration, cursor, minChunk float64) float64 {
	raw := 0.0
	if tierLength > 0 {
		raw = math.Round(speed / tierLength * duration)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = 0
	}
	return ClampChunk(raw, duration, cursor, minChunk)
}

// ClampChunk applies min(max(length, minChunk) + cursor, duration) - cursor.
func ClampChunk(length, duration, cursor, minChunk float64) float64 {
	return min(max(length, minChunk)+cursor, duration) - cursor
}

// HalveChunk shrinks length after a timeout, never below minChunk.
func HalveChunk(length, minChunk float64) float64 {
	return max(length/2, minChunk)
}

// toNanos converts seconds to the backend's wire unit.
func toNanos(seconds float64) int64 {
	return int64(math.Round(seconds * 1e9))
}

func fromNanos(ns int64) float64 {
	return float64(ns) / 1e9
}
