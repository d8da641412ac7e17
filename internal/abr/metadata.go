package abr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidMetadata is returned by Initialize for metadata that cannot
// drive tier selection.
var ErrInvalidMetadata = errors.New("invalid video metadata")

// VideoMetadata describes a video and its encoded tiers. Resolutions,
// Bitrates and Lengths are parallel and ordered by ascending bitrate.
type VideoMetadata struct {
	UUID        string    `json:"uuid"`
	Duration    float64   `json:"duration"`
	Resolutions []int     `json:"resolutions"`
	Bitrates    []float64 `json:"bitrates"`
	// Lengths holds the per-tier figure that converts observed throughput
	// into seconds of media per fetch.
	Lengths  []float64 `json:"lengths"`
	HasAudio bool      `json:"has_audio"`
}

// Validate checks the invariants tier selection relies on.
func (m VideoMetadata) Validate() error {
	if _, err := uuid.Parse(m.UUID); err != nil {
		return fmt.Errorf("%w: uuid %q", ErrInvalidMetadata, m.UUID)
	}
	if m.Duration <= 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidMetadata, m.Duration)
	}
	n := len(m.Resolutions)
	if n == 0 {
		return fmt.Errorf("%w: no resolutions", ErrInvalidMetadata)
	}
	if len(m.Bitrates) != n || len(m.Lengths) != n {
		return fmt.Errorf("%w: %d resolutions, %d bitrates, %d lengths",
			ErrInvalidMetadata, n, len(m.Bitrates), len(m.Lengths))
	}
	for i := 0; i < n; i++ {
		if m.Lengths[i] <= 0 {
			return fmt.Errorf("%w: length %d is %v", ErrInvalidMetadata, i, m.Lengths[i])
		}
		if i > 0 && m.Bitrates[i] < m.Bitrates[i-1] {
			return fmt.Errorf("%w: bitrates not ascending at %d", ErrInvalidMetadata, i)
		}
	}
	return nil
}

// MimeType is the media type the backend serves for this video.
func (m VideoMetadata) MimeType() string {
	if m.HasAudio {
		return `video/webm;codecs="vp9,opus"`
	}
	return `video/webm;codecs="vp9"`
}

func (m VideoMetadata) clone() VideoMetadata {
	m.Resolutions = append([]int(nil), m.Resolutions...)
	m.Bitrates = append([]float64(nil), m.Bitrates...)
	m.Lengths = append([]float64(nil), m.Lengths...)
	return m
}
