package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records events in memory for test assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *captureSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deep copy the event to avoid test races
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestEmitter_MetadataStamping(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{
		RunID:  "run-123",
		Source: "serve",
	}, sink)

	err := emitter.Emit(EventMockDecision, "test summary", "shim", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "run-123", event.RunID)
	assert.Equal(t, "serve", event.Source)
	assert.Equal(t, "shim", event.Component)
	assert.Equal(t, EventMockDecision, event.EventType)
	assert.Equal(t, "test summary", event.Summary)
	assert.True(t, event.Timestamp.UTC().Equal(event.Timestamp), "timestamp should be UTC")
}

func TestEmitter_DataMarshaling(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, sink)

	data := &MockDecisionData{
		Primitive:  "fetch",
		Method:     "POST",
		URL:        "https://api.x/users",
		Outcome:    "mocked",
		Status:     201,
		DurationMS: 3,
	}
	err := emitter.Emit(EventMockDecision, "test", "shim", nil, data)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.NotNil(t, sink.events[0].Data)

	var parsed MockDecisionData
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &parsed))
	assert.Equal(t, "POST", parsed.Method)
	assert.Equal(t, 201, parsed.Status)
}

func TestEmitter_NilData(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, sink)

	err := emitter.Emit(EventRulesChanged, "test", "", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Nil(t, sink.events[0].Data)
}

func TestEmitter_MultiSink(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, sink1, sink2)

	err := emitter.Emit(EventRulesChanged, "test", "", nil, nil)
	require.NoError(t, err)

	assert.Len(t, sink1.events, 1)
	assert.Len(t, sink2.events, 1)
}

func TestEmitter_NoSinks(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"})
	err := emitter.Emit(EventRulesChanged, "test", "", nil, nil)
	assert.NoError(t, err, "emitter with no sinks should not error")
}

type errorSink struct{ err error }

func (s *errorSink) Write(*Event) error { return s.err }
func (s *errorSink) Close() error       { return s.err }

func TestEmitter_SinkErrorPropagation(t *testing.T) {
	sink := &errorSink{err: errors.New("write failed")}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, sink)

	err := emitter.Emit(EventRulesChanged, "test", "", nil, nil)
	assert.Error(t, err)
}

func TestEmitter_UnmarshalableData(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, &captureSink{})
	err := emitter.Emit(EventRulesChanged, "test", "", nil, make(chan int))
	assert.ErrorIs(t, err, ErrMarshalData)
}

func TestEmitter_Close(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, sink1, sink2)

	err := emitter.Close()
	assert.NoError(t, err)
	assert.True(t, sink1.closed)
	assert.True(t, sink2.closed)
}

func TestEmitter_CloseErrorCollection(t *testing.T) {
	close1 := errors.New("close1")
	close2 := errors.New("close2")
	ok := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r", Source: "a"}, &errorSink{err: close1}, ok, &errorSink{err: close2})

	err := emitter.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, close1)
	assert.ErrorIs(t, err, close2)
	assert.True(t, ok.closed, "a failing sink must not stop the others closing")
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var emitter *Emitter
	assert.NoError(t, emitter.Emit(EventMockDecision, "ignored", "shim", nil, &MockDecisionData{}))
	assert.NoError(t, emitter.Close())
}
