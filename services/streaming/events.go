package streaming

import (
	"sync"
	"time"

	"github.com/VoidMesh/terrain/services/chunk"
)

// EventKind labels a chunk lifecycle transition visible to telemetry.
type EventKind string

const (
	EventLoad  EventKind = "load"
	EventEvict EventKind = "evict"
)

// Event notifies a debug/telemetry subscriber of a chunk entering or
// leaving the cache.
type Event struct {
	Kind  EventKind   `json:"kind"`
	Coord chunk.Coord `json:"coord"`
	At    time.Time   `json:"at"`
}

type subscribers struct {
	mu     sync.Mutex
	chans  map[int]chan Event
	nextID int
	buffer int
	closed bool
}

func newSubscribers(buffer int) *subscribers {
	return &subscribers{chans: make(map[int]chan Event), buffer: buffer}
}

// subscribe registers a new listener and returns its channel plus a cancel
// function. The channel is closed on cancel or manager shutdown.
func (s *subscribers) subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	ch := make(chan Event, s.buffer)
	s.chans[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.chans[id]; ok {
			delete(s.chans, id)
			close(c)
		}
	}
}

// emit fans an event out without blocking the update loop; a subscriber
// that cannot keep up loses events rather than stalling streaming.
// Returns how many sends were dropped.
func (s *subscribers) emit(ev Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, ch := range s.chans {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (s *subscribers) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.chans {
		delete(s.chans, id)
		close(ch)
	}
}
