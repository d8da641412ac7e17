// Package player provides the playback position source for a stream: a
// headless player that advances through buffered media in real time and
// reports what happens as typed events.
package player

import (
	"context"
	"sync"
	"time"

	"adaptive-stream/internal/media"
)

// endTolerance treats positions this close to the duration as the end.
const endTolerance = 1e-3

// Media is what the player plays: buffered extents and a total duration.
// abr.Source satisfies it.
type Media interface {
	BufferedRanges() media.TimeRanges
	Duration() float64
}

// Player is a simulated media element. It starts paused at position 0.
//
// While playing, each Tick moves the position forward through the buffered
// range that contains it and emits EventTimeUpdate. When the position is
// not buffered, or sits on the edge of buffered media, the player stalls
// and emits EventWaiting on every tick until media arrives. Reaching the
// duration pauses the player and emits EventEnded.
type Player struct {
	Emitter

	mu       sync.Mutex
	media    Media
	position float64
	rate     float64
	paused   bool
	waiting  bool
	ended    bool
}

// New returns a paused player with no media attached.
func New() *Player {
	return &Player{rate: 1, paused: true}
}

// Attach sets the media to play and rewinds to the start.
func (p *Player) Attach(m Media) {
	p.mu.Lock()
	p.media = m
	p.position = 0
	p.ended = false
	p.waiting = false
	p.mu.Unlock()
}

// SetRate sets the playback rate. Non-positive rates are ignored.
func (p *Player) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
}

// CurrentTime returns the playback position in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Ended reports whether playback reached the end of the media.
func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Waiting reports whether playback is stalled for lack of media.
func (p *Player) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Play resumes playback. Playing after the end restarts from 0.
func (p *Player) Play() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	var events []Event
	if p.ended {
		p.ended = false
		p.position = 0
		events = append(events, Event{Kind: EventSeeking, Time: 0})
	}
	p.paused = false
	events = append(events, Event{Kind: EventPlay, Time: p.position})
	p.mu.Unlock()

	p.emit(events...)
}

// Pause stops playback.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return
	}
	p.paused = true
	p.waiting = false
	ev := Event{Kind: EventPause, Time: p.position}
	p.mu.Unlock()

	p.emit(ev)
}

// Seek moves the position to t, clamped to [0, duration].
func (p *Player) Seek(t float64) {
	// The duration is read without the player lock; the source holds its
	// own lock while it asks for CurrentTime.
	p.mu.Lock()
	m := p.media
	p.mu.Unlock()

	t = max(t, 0)
	if m != nil {
		t = min(t, m.Duration())
	}

	p.mu.Lock()
	p.position = t
	p.ended = false
	ev := Event{Kind: EventSeeking, Time: t}
	p.mu.Unlock()

	p.emit(ev)
}

// Tick advances playback by elapsed wall time.
func (p *Player) Tick(elapsed time.Duration) {
	p.mu.Lock()
	if p.paused || p.ended || p.media == nil || elapsed <= 0 {
		p.mu.Unlock()
		return
	}
	m := p.media
	pos := p.position
	rate := p.rate
	p.mu.Unlock()

	// Media calls happen without the player lock; the source may be
	// calling CurrentTime concurrently.
	duration := m.Duration()
	r, ok := m.BufferedRanges().Containing(pos)

	p.mu.Lock()
	if p.paused || p.ended || p.position != pos {
		// Paused or seeked while the media was being queried.
		p.mu.Unlock()
		return
	}

	var events []Event
	switch {
	case duration-pos <= endTolerance:
		p.position = duration
		p.ended = true
		p.paused = true
		p.waiting = false
		events = append(events, Event{Kind: EventEnded, Time: duration})
	case !ok || r.End-pos <= endTolerance:
		p.waiting = true
		events = append(events, Event{Kind: EventWaiting, Time: pos})
	default:
		p.waiting = false
		p.position = min(pos+elapsed.Seconds()*rate, r.End, duration)
		events = append(events, Event{Kind: EventTimeUpdate, Time: p.position})
		if duration-p.position <= endTolerance {
			p.position = duration
			p.ended = true
			p.paused = true
			events = append(events, Event{Kind: EventEnded, Time: duration})
		}
	}
	p.mu.Unlock()

	p.emit(events...)
}

// Run ticks the player every interval until ctx is done.
func (p *Player) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Tick(now.Sub(last))
			last = now
		}
	}
}

func (p *Player) emit(events ...Event) {
	for _, ev := range events {
		p.Emit(ev)
	}
}
