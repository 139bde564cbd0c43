// Package broadcasttest provides an in-memory Emitter for tests.
package broadcasttest

import (
	"encoding/json"
	"sync"

	"github.com/mcdev12/olympia/go/internal/broadcast"
)

// Emission is one recorded delivery.
type Emission struct {
	Room  string
	Event *broadcast.Event
}

// Recorder records emissions in call order.
type Recorder struct {
	mu        sync.Mutex
	emissions []Emission
	mirrored  []*broadcast.Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements broadcast.Emitter.
func (r *Recorder) Emit(room string, event *broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = append(r.emissions, Emission{Room: room, Event: event})
}

// Mirror implements broadcast.Mirror.
func (r *Recorder) Mirror(event *broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrored = append(r.mirrored, event)
}

// Emissions returns a copy of everything emitted so far.
func (r *Recorder) Emissions() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emission, len(r.emissions))
	copy(out, r.emissions)
	return out
}

// Mirrored returns a copy of everything mirrored so far.
func (r *Recorder) Mirrored() []*broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*broadcast.Event, len(r.mirrored))
	copy(out, r.mirrored)
	return out
}

// OfType returns emissions of the given type, in order.
func (r *Recorder) OfType(typ broadcast.EventType) []Emission {
	var out []Emission
	for _, e := range r.Emissions() {
		if e.Event.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// InRoom returns emissions delivered to room, in order.
func (r *Recorder) InRoom(room string) []Emission {
	var out []Emission
	for _, e := range r.Emissions() {
		if e.Room == room {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = nil
	r.mirrored = nil
}

// Decode unmarshals the event data into v.
func Decode(e Emission, v any) error {
	return json.Unmarshal(e.Event.Data, v)
}
