package eventbridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Emitter stamps IDs, sequence numbers, and timestamps onto run events before
// handing them to a processor. The runner emits through one Emitter per run so
// subscribers can order events by Sequence.
type Emitter struct {
	runID string
	proc  EventProcessor
	clock func() time.Time

	mu  sync.Mutex
	seq int64
}

// NewEmitter creates an emitter bound to a run. A nil processor discards events.
func NewEmitter(runID string, proc EventProcessor) *Emitter {
	return &Emitter{
		runID: runID,
		proc:  proc,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Emit builds and dispatches one event. The payload is marshalled to JSON;
// unmarshalable payloads are sent without one.
func (e *Emitter) Emit(eventType, play, task, host string, payload any) {
	if e == nil || e.proc == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	event := Event{
		Version:    EventSchemaVersion,
		EventID:    uuid.NewString(),
		Sequence:   seq,
		Type:       eventType,
		ClientTime: e.clock(),
		RunID:      e.runID,
		Play:       play,
		Task:       task,
		Host:       host,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	event.Normalize()
	event.StampServerTime(e.clock())
	_ = e.proc.HandleEvent(event)
}

// RunID returns the run this emitter is bound to.
func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	return e.runID
}
