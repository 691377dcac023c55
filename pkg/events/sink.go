package events

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives events. Publish must not block for long: the calibration
// engine calls it synchronously between protocol steps.
type Sink interface {
	Publish(name string, payload any)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(name string, payload any)

func (f SinkFunc) Publish(name string, payload any) {
	if f != nil {
		f(name, payload)
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(nil)

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(name string, payload any) {
		for _, s := range sinks {
			s.Publish(name, payload)
		}
	})
}

func encode(name string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	return Event{Name: name, Data: b}, nil
}

// JSONLines writes every event to w as one JSON object per line.
type JSONLines struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONLines(w io.Writer) *JSONLines { return &JSONLines{w: w} }

func (j *JSONLines) Publish(name string, payload any) {
	e, err := encode(name, payload)
	if err != nil {
		logrus.WithError(err).Warn("dropped event")
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Warn("dropped event")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := fmt.Fprintf(j.w, "%s\n", b); err != nil {
		logrus.WithError(err).Debug("failed to write event")
	}
}

// Recorder keeps every published event in memory, encoded the same way
// JSONLines writes it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(name string, payload any) {
	if r == nil {
		return
	}
	e, err := encode(name, payload)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events, optionally filtered by name.
func (r *Recorder) Events(names ...string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if len(names) == 0 || slices.Contains(names, e.Name) {
			out = append(out, e)
		}
	}
	return out
}
