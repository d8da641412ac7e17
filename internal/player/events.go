package player

import "sync"

// EventKind identifies a playback event.
type EventKind int

const (
	EventPlay EventKind = iota + 1
	EventPause
	EventTimeUpdate
	EventSeeking
	EventWaiting
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventTimeUpdate:
		return "timeupdate"
	case EventSeeking:
		return "seeking"
	case EventWaiting:
		return "waiting"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners with the playback position at the time
// it happened.
type Event struct {
	Kind EventKind
	Time float64
}

// Listener handles one event. Listeners run on the goroutine that caused
// the event and must not block for long.
type Listener func(Event)

// Emitter is a registry of listeners per event kind. The zero value is
// ready to use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
}

// On registers l for kind. Listeners are called in registration order.
func (e *Emitter) On(kind EventKind, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventKind][]Listener)
	}
	e.listeners[kind] = append(e.listeners[kind], l)
}

// Emit calls the listeners registered for ev.Kind. No lock is held while
// they run, so a listener may call back into the emitter or the player.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	ls := e.listeners[ev.Kind]
	e.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}
