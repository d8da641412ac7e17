package abr

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"adaptive-stream/internal/fetch"
	"adaptive-stream/internal/media"
)

// fakeClock only moves when Advance is called. Due timers run on the
// caller's goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// step scripts one FetchRange call.
type step struct {
	status       int
	err          error
	hang         bool
	gate         chan struct{}
	requestDelay time.Duration
	readDelay    time.Duration
	size         int
	contentRange *fetch.ContentRange
}

var defaultStep = step{requestDelay: 10 * time.Millisecond, readDelay: 100 * time.Millisecond, size: 100_000}

type fakeFetcher struct {
	clock *fakeClock
	total int64
	// shift moves every echoed range later, as a backend that answers
	// from the next keyframe would.
	shift int64

	mu            sync.Mutex
	steps         []step
	def           step
	calls         []fetch.RangeRequest
	aborts        int
	inFlight      int
	maxConcurrent int
	blocked       chan fetch.RangeRequest
}

func newFakeFetcher(clock *fakeClock, total int64, steps ...step) *fakeFetcher {
	return &fakeFetcher{
		clock:   clock,
		total:   total,
		steps:   steps,
		def:     defaultStep,
		blocked: make(chan fetch.RangeRequest, 16),
	}
}

func (f *fakeFetcher) FetchRange(ctx context.Context, req fetch.RangeRequest) (*fetch.RangeResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	st := f.def
	if len(f.steps) > 0 {
		st = f.steps[0]
		f.steps = f.steps[1:]
	}
	f.inFlight++
	f.maxConcurrent = max(f.maxConcurrent, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if st.hang {
		f.blocked <- req
		<-ctx.Done()
		f.mu.Lock()
		f.aborts++
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	if st.gate != nil {
		f.blocked <- req
		select {
		case <-st.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if st.err != nil {
		return nil, st.err
	}
	if st.requestDelay > 0 {
		f.clock.Advance(st.requestDelay)
	}
	if st.status != 0 && st.status != 200 {
		return nil, &fetch.StatusError{StatusCode: st.status, Body: "scripted failure"}
	}

	cr := fetch.ContentRange{Start: req.Start + f.shift, End: req.End + f.shift, Total: f.total}
	if st.contentRange != nil {
		cr = *st.contentRange
	}
	return &fetch.RangeResponse{
		ContentRange: cr,
		Body:         &fakeBody{ctx: ctx, clock: f.clock, delay: st.readDelay, data: make([]byte, st.size)},
	}, nil
}

func (f *fakeFetcher) Calls() []fetch.RangeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.RangeRequest(nil), f.calls...)
}

func (f *fakeFetcher) Aborts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

func (f *fakeFetcher) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

// fakeBody advances the clock by delay on its first read and fails once
// the request context is cancelled.
type fakeBody struct {
	ctx     context.Context
	clock   *fakeClock
	delay   time.Duration
	data    []byte
	started bool
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if !b.started {
		b.started = true
		if b.delay > 0 {
			b.clock.Advance(b.delay)
		}
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *fakeBody) Close() error { return nil }

// leakyClock hands out timers whose Stop never wins, so every timer fires
// even after the phase it guarded has finished.
type leakyClock struct {
	*fakeClock
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (c leakyClock) AfterFunc(d time.Duration, f func()) Timer {
	c.fakeClock.AfterFunc(d, f)
	return leakyTimer{}
}

type sinkOp struct {
	kind  string
	start float64
	end   float64
}

// recordingSink is a media.Buffer that records remove and append calls.
type recordingSink struct {
	*media.Buffer

	mu          sync.Mutex
	ops         []sinkOp
	appendDelay time.Duration
}

func newRecordingSink() *recordingSink {
	return &recordingSink{Buffer: media.NewBuffer(nil)}
}

func (r *recordingSink) Remove(ctx context.Context, start, end float64) error {
	r.record(sinkOp{"remove", start, end})
	return r.Buffer.Remove(ctx, start, end)
}

func (r *recordingSink) Append(ctx context.Context, offset float64, data []byte) error {
	_, end := r.Buffer.AppendWindow()
	r.record(sinkOp{"append", offset, end})
	if r.appendDelay > 0 {
		time.Sleep(r.appendDelay)
	}
	return r.Buffer.Append(ctx, offset, data)
}

func (r *recordingSink) record(op sinkOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingSink) Ops() []sinkOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinkOp(nil), r.ops...)
}

func (r *recordingSink) ResetOps() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

type fakePlayhead struct {
	mu sync.Mutex
	t  float64
}

func (p *fakePlayhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

func (p *fakePlayhead) Set(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t = t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitIdle blocks until no chain is running and the append queue is empty.
func waitIdle(t *testing.T, s *Source) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Stats()
		if !st.Loading && st.Pending == 0 && !st.AppendInFlight {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("source did not go idle: %+v", s.Stats())
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitBlocked(t *testing.T, f *fakeFetcher) fetch.RangeRequest {
	t.Helper()
	select {
	case req := <-f.blocked:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("fetcher was never called")
		return fetch.RangeRequest{}
	}
}
