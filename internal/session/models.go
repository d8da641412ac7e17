package session

import (
	"context"
	"io"
	"time"

	"adaptive-stream/internal/abr"
	"adaptive-stream/internal/media"
	"adaptive-stream/internal/player"
)

// ID identifies a session. It is the uuid of the video being played, so a
// process plays each video at most once.
type ID string

// Session is one headless playback: a player driving an adaptive source
// that fills a media buffer.
type Session struct {
	ID       ID
	Metadata abr.VideoMetadata
	OpenedAt time.Time

	Source *abr.Source
	Player *player.Player
	Buffer *media.Buffer

	// out receives the appended media when the session writes to a file.
	out    io.Closer
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is the externally visible state of a session.
type Status struct {
	UUID         string    `json:"uuid"`
	OpenedAt     time.Time `json:"opened_at"`
	Position     float64   `json:"position"`
	Paused       bool      `json:"paused"`
	Waiting      bool      `json:"waiting"`
	Ended        bool      `json:"ended"`
	BytesWritten int64     `json:"bytes_written"`
	Stream       abr.Stats `json:"stream"`
}

// Status snapshots the session.
func (s *Session) Status() Status {
	return Status{
		UUID:         string(s.ID),
		OpenedAt:     s.OpenedAt,
		Position:     s.Player.CurrentTime(),
		Paused:       s.Player.Paused(),
		Waiting:      s.Player.Waiting(),
		Ended:        s.Player.Ended(),
		BytesWritten: s.Buffer.BytesWritten(),
		Stream:       s.Source.Stats(),
	}
}

// close stops the player loop, then the source, then releases the buffer.
// The source goes before the buffer so no append races the release.
func (s *Session) close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.Source.Close()
	s.Buffer.Close()
	if s.out != nil {
		return s.out.Close()
	}
	return nil
}
