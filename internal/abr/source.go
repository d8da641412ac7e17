// Package abr implements the adaptive streaming client: it estimates
// throughput, picks a bitrate tier, fetches time-ranged segments from the
// backend and appends them, in order, to a buffered-media sink.
//
// A Source runs at most one fetch chain at a time. The chain pipelines:
// the next request goes out as soon as a segment is downloaded, while a
// separate appender hands queued segments to the sink one by one.
package abr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"adaptive-stream/internal/fetch"
	"adaptive-stream/internal/media"
	"adaptive-stream/internal/platform/metrics"
)

var (
	// ErrInitialized is returned when Initialize is called twice. Load a new
	// video with a new Source.
	ErrInitialized = errors.New("source already initialized")

	// ErrClosed is returned by Initialize after Close.
	ErrClosed = errors.New("source closed")

	errTimedOut = errors.New("request timed out")
)

// Timeout phases, used as metric labels.
const (
	phaseRequest  = "request"
	phaseDownload = "download"
)

// Fetcher issues segment requests against the backend.
type Fetcher interface {
	FetchRange(ctx context.Context, req fetch.RangeRequest) (*fetch.RangeResponse, error)
}

// Sink is the buffered-media target. Remove and Append return once the sink
// has finished processing the call.
type Sink interface {
	SetAppendWindow(start, end float64)
	Remove(ctx context.Context, start, end float64) error
	Append(ctx context.Context, timestampOffset float64, data []byte) error
	Buffered() media.TimeRanges
}

// Playhead reports the playback position in seconds.
type Playhead interface {
	CurrentTime() float64
}

// Segment is a downloaded time range waiting to be appended.
type Segment struct {
	Start float64
	End   float64
	Data  []byte
}

// Stats is a snapshot of the stream state.
type Stats struct {
	Tier            int              `json:"tier"`
	Resolution      int              `json:"resolution"`
	Bitrate         float64          `json:"bitrate"`
	ManualTier      bool             `json:"manual_tier"`
	Duration        float64          `json:"duration"`
	Cursor          float64          `json:"cursor"`
	ChunkLength     float64          `json:"chunk_length"`
	Loading         bool             `json:"loading"`
	Pending         int              `json:"pending"`
	AppendInFlight  bool             `json:"append_in_flight"`
	RequestLatency  time.Duration    `json:"request_latency"`
	DownloadLatency time.Duration    `json:"download_latency"`
	Buffered        media.TimeRanges `json:"buffered"`
}

// Option configures a Source.
type Option func(*Source)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option { return func(s *Source) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Source) { s.log = l } }

// WithMetrics records segment, timeout and failure metrics. m may be nil.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Source) { s.metrics = m } }

// WithCoefficient sets the bitrate safety margin used by tier selection.
func WithCoefficient(k float64) Option {
	return func(s *Source) {
		if k > 0 {
			s.coefficient = k
		}
	}
}

// WithMinChunk sets the smallest range, in seconds, a fetch asks for.
func WithMinChunk(seconds float64) Option {
	return func(s *Source) {
		if seconds > 0 {
			s.minChunk = seconds
		}
	}
}

// WithLookahead sets how far ahead of playback the source buffers.
func WithLookahead(seconds float64) Option {
	return func(s *Source) {
		if seconds > 0 {
			s.lookahead = seconds
		}
	}
}

// Source is the adaptive stream source. It exclusively owns its sink.
type Source struct {
	fetcher  Fetcher
	sink     Sink
	playhead Playhead
	clock    Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	coefficient float64
	minChunk    float64
	lookahead   float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	meta            VideoMetadata
	initialized     bool
	closed          bool
	tier            int
	manual          bool
	reset           bool
	cursor          float64
	origin          float64
	timerSeq        uint64
	armed           uint64
	chunkLength     float64
	loading         bool
	pending         []Segment
	appending       *Segment
	appendInFlight  bool
	requestLatency  time.Duration
	downloadLatency time.Duration
}

// New wires a Source. Call Initialize before Start.
func New(fetcher Fetcher, sink Sink, playhead Playhead, opts ...Option) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		fetcher:     fetcher,
		sink:        sink,
		playhead:    playhead,
		clock:       SystemClock(),
		log:         slog.Default(),
		coefficient: DefaultCoefficient,
		minChunk:    DefaultMinChunk,
		lookahead:   DefaultLookahead,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.chunkLength = s.minChunk
	return s
}

// Initialize loads the video metadata and picks the first tier from an
// initial throughput estimate in bytes per second (<= 0 selects tier 0).
// It makes no network call.
func (s *Source) Initialize(meta VideoMetadata, estimate float64) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return ErrInitialized
	}
	s.meta = meta.clone()
	s.tier = 0
	if estimate > 0 {
		s.tier = SelectTier(s.meta.Bitrates, estimate, s.coefficient)
	}
	s.cursor = 0
	s.chunkLength = s.minChunk
	s.initialized = true
	resolution := s.meta.Resolutions[s.tier]
	duration := s.meta.Duration
	s.mu.Unlock()

	s.sink.SetAppendWindow(0, duration)
	if s.metrics != nil {
		s.metrics.SetResolution(resolution)
	}
	s.log.Info("stream source initialized",
		slog.String("uuid", meta.UUID),
		slog.String("mime_type", meta.MimeType()),
		slog.Int("resolution", resolution),
		slog.Float64("estimate_bytes_per_second", estimate),
	)
	return nil
}

// Start begins a fetch chain from the playback position. It is a no-op
// while a chain is running or when the buffer is already far enough ahead.
func (s *Source) Start() {
	// The playhead is read before locking: the player may be calling back
	// into the source while holding its own lock.
	currentTime := s.playhead.CurrentTime()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized || s.closed || s.loading {
		return
	}
	cursor, ok := s.nextCursorLocked(currentTime)
	if !ok {
		return
	}
	s.cursor = cursor
	s.origin = cursor
	s.loading = true
	s.wg.Add(1)
	go s.run()
}

// SetTier pins the tier to index (clamped into range) until SetAutoTier.
// The next fetch restarts at the playback position so buffered media ahead
// of it is replaced at the new tier.
func (s *Source) SetTier(index int) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.tier = min(max(index, 0), len(s.meta.Resolutions)-1)
	s.manual = true
	s.reset = true
	resolution := s.meta.Resolutions[s.tier]
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetResolution(resolution)
	}
	s.Start()
}

// SetAutoTier resumes throughput-driven tier selection.
func (s *Source) SetAutoTier() {
	s.mu.Lock()
	s.manual = false
	s.mu.Unlock()
}

// Tier returns the selected tier index.
func (s *Source) Tier() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// Duration returns the stream duration, as narrowed by the backend.
func (s *Source) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Duration
}

// BufferedRanges returns the sink's buffered extents.
func (s *Source) BufferedRanges() media.TimeRanges {
	return s.sink.Buffered()
}

// Stats returns a snapshot of the stream state.
func (s *Source) Stats() Stats {
	buffered := s.sink.Buffered()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Tier:            s.tier,
		ManualTier:      s.manual,
		Duration:        s.meta.Duration,
		Cursor:          s.cursor,
		ChunkLength:     s.chunkLength,
		Loading:         s.loading,
		Pending:         len(s.pending),
		AppendInFlight:  s.appendInFlight,
		RequestLatency:  s.requestLatency,
		DownloadLatency: s.downloadLatency,
		Buffered:        buffered,
	}
	if s.initialized {
		st.Resolution = s.meta.Resolutions[s.tier]
		st.Bitrate = s.meta.Bitrates[s.tier]
	}
	return st
}

// Close cancels any in-flight request and waits for the fetch chain and the
// appender to exit. Queued segments are dropped.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.pending = nil
	s.loading = false
	s.mu.Unlock()
	return nil
}

// nextCursorLocked returns where a new chain starts and whether it should
// fetch at all. Without a pending reset the cursor is the end of the
// buffered extent containing the playback position, or the position itself
// when it is not buffered.
func (s *Source) nextCursorLocked(currentTime float64) (float64, bool) {
	if s.reset {
		s.reset = false
		return currentTime, currentTime < s.meta.Duration
	}
	edge := s.edgeLocked(currentTime)
	return edge, s.continueLocked(currentTime, edge)
}

// followCursorLocked picks the cursor after a segment that brought the
// chain to progress. The chain keeps its own position unless the playback
// position has left the region it has been filling since origin, which
// means a seek or a jump into other buffered media.
func (s *Source) followCursorLocked(currentTime, progress float64) (float64, bool) {
	if s.reset {
		s.reset = false
		s.origin = currentTime
		return currentTime, currentTime < s.meta.Duration
	}
	cursor := s.edgeLocked(currentTime)
	switch {
	case cursor >= s.origin && cursor < progress:
		cursor = progress
	case cursor != progress:
		s.origin = cursor
	}
	return cursor, s.continueLocked(currentTime, cursor)
}

func (s *Source) continueLocked(currentTime, cursor float64) bool {
	return currentTime > cursor-s.lookahead && cursor < s.meta.Duration
}

// edgeLocked counts queued and appending segments as buffered, since they
// are already downloaded.
func (s *Source) edgeLocked(currentTime float64) float64 {
	ranges := s.sink.Buffered()
	for _, seg := range s.pending {
		ranges = ranges.Add(seg.Start, seg.End)
	}
	if s.appending != nil {
		ranges = ranges.Add(s.appending.Start, s.appending.End)
	}
	if r, ok := ranges.Containing(currentTime); ok {
		return r.End
	}
	return currentTime
}

func (s *Source) run() {
	defer s.wg.Done()

	for {
		req, ok := s.prepare()
		if !ok {
			return
		}

		seg, speed, err := s.fetchSegment(req)
		if errors.Is(err, errTimedOut) {
			continue
		}
		if err != nil {
			s.fail(err)
			return
		}

		if !s.advance(seg, fromNanos(req.End), speed) {
			return
		}
	}
}

// prepare builds the next request, or ends the chain when the source is
// closed or the range is empty.
func (s *Source) prepare() (fetch.RangeRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.loading = false
		return fetch.RangeRequest{}, false
	}

	start := toNanos(s.cursor)
	end := toNanos(min(s.cursor+s.chunkLength, s.meta.Duration))
	if end <= start {
		s.loading = false
		s.log.Warn("request rejected: length of zero",
			slog.Float64("cursor", s.cursor),
			slog.Float64("duration", s.meta.Duration),
		)
		if s.metrics != nil {
			s.metrics.IncRejected()
		}
		return fetch.RangeRequest{}, false
	}

	return fetch.RangeRequest{
		UUID:       s.meta.UUID,
		Resolution: s.meta.Resolutions[s.tier],
		Start:      start,
		End:        end,
	}, true
}

// fetchSegment performs one request and reads its body, each phase under
// its own adaptive timeout. A timeout aborts the attempt and returns
// errTimedOut with the chunk length already halved.
func (s *Source) fetchSegment(req fetch.RangeRequest) (Segment, float64, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	var timedOut atomic.Bool

	timer, seq := s.armTimeout(phaseRequest, cancel, &timedOut)
	t0 := s.clock.Now()
	resp, err := s.fetcher.FetchRange(ctx, req)
	t1 := s.clock.Now()
	s.disarm(timer, seq)

	if err == nil {
		defer resp.Body.Close()
	}
	if timedOut.Load() {
		return Segment{}, 0, errTimedOut
	}
	if err != nil {
		return Segment{}, 0, err
	}

	requestLatency := clampLatency(t1.Sub(t0))

	s.mu.Lock()
	s.requestLatency = requestLatency
	if resp.Total > 0 {
		s.meta.Duration = min(fromNanos(resp.Total), s.meta.Duration)
	}
	duration := s.meta.Duration
	resolution := s.meta.Resolutions[s.tier]
	s.mu.Unlock()

	rangeStart := max(fromNanos(resp.Start), 0)
	rangeEnd := min(fromNanos(resp.End), duration)

	timer, seq = s.armTimeout(phaseDownload, cancel, &timedOut)
	t2 := s.clock.Now()
	data, err := io.ReadAll(resp.Body)
	t3 := s.clock.Now()
	s.disarm(timer, seq)

	// A timeout that fired first wins even if the body arrived: the chunk
	// length was already halved for the retry.
	if timedOut.Load() {
		return Segment{}, 0, errTimedOut
	}
	if err != nil {
		return Segment{}, 0, err
	}

	downloadLatency := clampLatency(t3.Sub(t2))
	s.mu.Lock()
	s.downloadLatency = downloadLatency
	s.mu.Unlock()

	speed := float64(len(data)) * 1000 / millis(downloadLatency)

	s.log.Debug("segment downloaded",
		slog.Int("resolution", resolution),
		slog.Float64("mbps", math.Round(speed*8/1e6*100)/100),
		slog.Float64("download_ms", millis(downloadLatency)),
		slog.Float64("request_ms", millis(requestLatency)),
		slog.Float64("range_start", rangeStart),
		slog.Float64("range_end", rangeEnd),
	)
	if s.metrics != nil {
		s.metrics.ObserveSegment(len(data), downloadLatency.Seconds(), speed)
	}

	return Segment{Start: rangeStart, End: rangeEnd, Data: data}, speed, nil
}

// armTimeout schedules an abort at twice the last observed latency of the
// phase. There is no timeout until a latency has been observed. The
// returned sequence number identifies the armed phase for disarm.
func (s *Source) armTimeout(phase string, cancel context.CancelFunc, timedOut *atomic.Bool) (Timer, uint64) {
	s.mu.Lock()
	last := s.requestLatency
	if phase == phaseDownload {
		last = s.downloadLatency
	}
	if last <= 0 {
		s.mu.Unlock()
		return nil, 0
	}
	s.timerSeq++
	seq := s.timerSeq
	s.armed = seq
	s.mu.Unlock()

	return s.clock.AfterFunc(2*last, func() {
		s.onTimeout(phase, seq, last, cancel, timedOut)
	}), seq
}

// disarm ends a timed phase. A timer that already fired but has not taken
// the lock yet finds its sequence gone and does nothing.
func (s *Source) disarm(t Timer, seq uint64) {
	if t == nil {
		return
	}
	t.Stop()
	s.mu.Lock()
	if s.armed == seq {
		s.armed = 0
	}
	s.mu.Unlock()
}

func (s *Source) onTimeout(phase string, seq uint64, last time.Duration, cancel context.CancelFunc, timedOut *atomic.Bool) {
	s.mu.Lock()
	if s.armed != seq {
		s.mu.Unlock()
		return
	}
	s.armed = 0
	if phase == phaseDownload {
		s.downloadLatency = 0
	} else {
		s.requestLatency = 0
	}
	s.chunkLength = HalveChunk(s.chunkLength, s.minChunk)
	chunk := s.chunkLength
	s.mu.Unlock()

	timedOut.Store(true)
	cancel()

	s.log.Warn("request timeout, likely a change in connection speed",
		slog.String("phase", phase),
		slog.Duration("last_latency", last),
		slog.Float64("chunk_length", chunk),
	)
	if s.metrics != nil {
		s.metrics.IncTimeouts(phase)
	}
}

// fail logs a failed attempt and stops the chain; the next Start resumes it.
func (s *Source) fail(err error) {
	s.mu.Lock()
	s.loading = false
	closed := s.closed
	s.mu.Unlock()

	if closed || errors.Is(err, context.Canceled) {
		s.log.Debug("fetch chain stopped", slog.String("error", err.Error()))
		return
	}

	var se *fetch.StatusError
	if errors.As(err, &se) {
		s.log.Warn("request failed",
			slog.Int("status", se.StatusCode),
			slog.String("body", se.Body),
		)
	} else {
		s.log.Warn("segment fetch failed", slog.String("error", err.Error()))
	}
	if s.metrics != nil {
		s.metrics.IncFailures()
	}
}

// advance queues seg for append, feeds speed back into tier selection and
// sizes the next request. It reports whether the chain continues.
//
// The chain moves on to the end of the range the backend returned. When that
// does not lie past the requested start, it moves to the requested end so
// the cursor never stands still.
func (s *Source) advance(seg Segment, requestedEnd, speed float64) bool {
	currentTime := s.playhead.CurrentTime()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.loading = false
		return false
	}

	s.pending = append(s.pending, seg)
	s.kickAppenderLocked()

	if !s.manual {
		s.tier = SelectTier(s.meta.Bitrates, speed, s.coefficient)
	}
	if s.metrics != nil {
		s.metrics.SetResolution(s.meta.Resolutions[s.tier])
	}

	progress := seg.End
	if progress <= s.cursor {
		progress = min(requestedEnd, s.meta.Duration)
	}
	cursor, ok := s.followCursorLocked(currentTime, progress)
	if ok {
		s.cursor = cursor
		next := NextChunkLength(speed, s.meta.Lengths[s.tier], s.meta.Duration, s.cursor, s.minChunk)
		s.chunkLength = max(next, s.minChunk)
		ok = next > 0
	}
	if !ok {
		s.loading = false
	}
	return ok
}

func (s *Source) kickAppenderLocked() {
	if s.appendInFlight || len(s.pending) == 0 || s.closed {
		return
	}
	s.appendInFlight = true
	s.wg.Add(1)
	go s.drain()
}

// drain hands queued segments to the sink strictly in FIFO order, one at a
// time.
func (s *Source) drain() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.closed {
			s.appending = nil
			s.appendInFlight = false
			s.mu.Unlock()
			return
		}
		seg := s.pending[0]
		s.pending[0] = Segment{}
		s.pending = s.pending[1:]
		s.appending = &seg
		duration := s.meta.Duration
		s.mu.Unlock()

		s.appendSegment(seg, duration)
	}
}

// appendSegment removes any buffered media the segment overlaps, so ranges
// from a superseded or retried request never stack, then appends it.
func (s *Source) appendSegment(seg Segment, duration float64) {
	if seg.End <= seg.Start {
		s.log.Debug("dropping empty segment", slog.Float64("start", seg.Start))
		return
	}

	if span, ok := s.sink.Buffered().Overlap(seg.Start, seg.End); ok {
		if err := s.sink.Remove(s.ctx, span.Start, span.End); err != nil && s.ctx.Err() == nil {
			s.log.Warn("remove overlapping range failed",
				slog.Float64("start", span.Start),
				slog.Float64("end", span.End),
				slog.String("error", err.Error()),
			)
		}
	}

	s.sink.SetAppendWindow(0, min(seg.End, duration))
	if err := s.sink.Append(s.ctx, seg.Start, seg.Data); err != nil && s.ctx.Err() == nil {
		s.log.Warn("append segment failed",
			slog.Float64("start", seg.Start),
			slog.Float64("end", seg.End),
			slog.String("error", err.Error()),
		)
	}
}

// clampLatency floors a measured latency at one millisecond.
func clampLatency(d time.Duration) time.Duration {
	return max(d, time.Millisecond)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
