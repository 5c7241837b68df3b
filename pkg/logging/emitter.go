package logging

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// EmitterConfig is stamped onto every event an Emitter produces.
type EmitterConfig struct {
	RunID  string // groups the events of one serve or fetch invocation
	Source string // "serve", "fetch" or a test name
}

// Emitter fans mocklock events out to its sinks. Methods on a nil
// *Emitter are no-ops, so components can hold an optional emitter without
// checking it at every call site.
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter returns an Emitter writing to sinks in order.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{config: cfg, sinks: sinks}
}

// Emit records one event. data is marshalled to JSON and stored in
// Event.Data; pass nil for events without a payload. Writing stops at the
// first failing sink and its error is returned. Shim and relay callers
// discard the error since a lost event never changes a mock decision.
func (e *Emitter) Emit(eventType, summary, component string, tags []string, data any) error {
	if e == nil {
		return nil
	}
	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     e.config.RunID,
		Source:    e.config.Source,
		EventType: eventType,
		Summary:   summary,
		Component: component,
		Tags:      tags,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		event.Data = raw
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, even after one fails, and reports all failures.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, sink := range e.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
