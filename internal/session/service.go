// Package session runs headless playback sessions: each one wires a
// simulated player to an adaptive stream source and exposes playback
// control over HTTP.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"adaptive-stream/internal/abr"
	"adaptive-stream/internal/media"
	"adaptive-stream/internal/platform/metrics"
	"adaptive-stream/internal/player"
)

// DefaultTickInterval is how often the player advances, close to the rate a
// browser fires timeupdate.
const DefaultTickInterval = 250 * time.Millisecond

// Backend is what a session needs from the video backend. *fetch.Client
// satisfies it.
type Backend interface {
	abr.Fetcher
	Probe(ctx context.Context, id string) (float64, error)
}

// Config tunes new sessions.
type Config struct {
	// TickInterval is the player clock period. Defaults to DefaultTickInterval.
	TickInterval time.Duration

	// OutputDir, when set, receives one {uuid}.webm file per session with
	// every appended segment, in append order.
	OutputDir string

	// SourceOptions are applied to every abr.Source after the logger and
	// metrics options.
	SourceOptions []abr.Option
}

// Service opens, controls and disposes sessions.
type Service struct {
	repo    Repository
	backend Backend
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// NewService returns a Service. m may be nil.
func NewService(repo Repository, backend Backend, log *slog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Service{repo: repo, backend: backend, log: log, metrics: m, cfg: cfg}
}

// Open starts playing the video described by meta. The thumbnail probe
// seeds the first tier; if it fails playback starts at the lowest tier.
// An open session for the same video is closed and replaced.
func (s *Service) Open(ctx context.Context, meta abr.VideoMetadata) (Status, error) {
	if err := meta.Validate(); err != nil {
		return Status{}, err
	}
	log := s.log.With(slog.String("uuid", meta.UUID))

	estimate, err := s.backend.Probe(ctx, meta.UUID)
	if err != nil {
		log.Warn("throughput probe failed, starting at lowest tier", slog.String("error", err.Error()))
		estimate = 0
	}

	var (
		out io.Writer
		cl  io.Closer
	)
	// A session already open for this video still writes to the output
	// file; it goes before the file is truncated.
	if old, ok := s.repo.Delete(ID(meta.UUID)); ok {
		log.Info("replacing open session")
		s.dispose(old)
	}
	if s.cfg.OutputDir != "" {
		f, err := os.Create(filepath.Join(s.cfg.OutputDir, meta.UUID+".webm"))
		if err != nil {
			return Status{}, fmt.Errorf("creating output file: %w", err)
		}
		out, cl = f, f
	}

	buf := media.NewBuffer(out)
	pl := player.New()
	opts := append([]abr.Option{abr.WithLogger(log), abr.WithMetrics(s.metrics)}, s.cfg.SourceOptions...)
	src := abr.New(s.backend, buf, pl, opts...)
	if err := src.Initialize(meta, estimate); err != nil {
		if cl != nil {
			cl.Close()
		}
		return Status{}, err
	}
	pl.Attach(src)

	// Anything that may leave the buffer short of the lookahead restarts
	// the chain; Start is a no-op while one is running.
	for _, kind := range []player.EventKind{player.EventPlay, player.EventTimeUpdate, player.EventSeeking, player.EventWaiting} {
		pl.On(kind, func(player.Event) { src.Start() })
	}
	pl.On(player.EventEnded, func(ev player.Event) {
		log.Info("playback ended", slog.Float64("position", ev.Time))
	})

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:       ID(meta.UUID),
		Metadata: meta,
		OpenedAt: time.Now().UTC(),
		Source:   src,
		Player:   pl,
		Buffer:   buf,
		out:      cl,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(sess.done)
		pl.Run(runCtx, s.cfg.TickInterval)
	}()

	if old := s.repo.Put(sess); old != nil {
		s.dispose(old)
	}
	s.updateGauge()

	pl.Play()
	log.Info("session opened",
		slog.Float64("estimate_bytes_per_second", estimate),
		slog.Int("tier", src.Tier()),
	)
	return sess.Status(), nil
}

// Status returns the state of the session for id.
func (s *Service) Status(id ID) (Status, error) {
	sess, ok := s.repo.Get(id)
	if !ok {
		return Status{}, ErrNotFound
	}
	return sess.Status(), nil
}

// List returns the state of every open session.
func (s *Service) List() []Status {
	sessions := s.repo.List()
	out := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Status())
	}
	return out
}

// Seek moves playback of id to t seconds.
func (s *Service) Seek(id ID, t float64) (Status, error) {
	return s.with(id, func(sess *Session) { sess.Player.Seek(t) })
}

// Play resumes playback of id.
func (s *Service) Play(id ID) (Status, error) {
	return s.with(id, func(sess *Session) { sess.Player.Play() })
}

// Pause pauses playback of id. Buffering continues up to the lookahead.
func (s *Service) Pause(id ID) (Status, error) {
	return s.with(id, func(sess *Session) { sess.Player.Pause() })
}

// SetTier pins the tier of id.
func (s *Service) SetTier(id ID, index int) (Status, error) {
	return s.with(id, func(sess *Session) { sess.Source.SetTier(index) })
}

// SetAutoTier returns id to throughput-driven tier selection.
func (s *Service) SetAutoTier(id ID) (Status, error) {
	return s.with(id, func(sess *Session) { sess.Source.SetAutoTier() })
}

// Close disposes the session for id.
func (s *Service) Close(id ID) error {
	sess, ok := s.repo.Delete(id)
	if !ok {
		return ErrNotFound
	}
	s.dispose(sess)
	s.updateGauge()
	s.log.Info("session closed", slog.String("uuid", string(id)))
	return nil
}

// CloseAll disposes every session, for shutdown.
func (s *Service) CloseAll() {
	for _, sess := range s.repo.List() {
		if _, ok := s.repo.Delete(sess.ID); ok {
			s.dispose(sess)
		}
	}
	s.updateGauge()
}

// ActiveCount returns the number of open sessions.
func (s *Service) ActiveCount() int {
	return s.repo.ActiveCount()
}

func (s *Service) with(id ID, f func(*Session)) (Status, error) {
	sess, ok := s.repo.Get(id)
	if !ok {
		return Status{}, ErrNotFound
	}
	f(sess)
	return sess.Status(), nil
}

func (s *Service) dispose(sess *Session) {
	if err := sess.close(); err != nil {
		s.log.Warn("closing session output failed",
			slog.String("uuid", string(sess.ID)),
			slog.String("error", err.Error()))
	}
}

func (s *Service) updateGauge() {
	if s.metrics != nil {
		s.metrics.SetActiveSessions(s.repo.ActiveCount())
	}
}
