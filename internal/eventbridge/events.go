package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event types emitted over the lifetime of a run. Per-task outcomes carry the
// host they apply to; run and play boundaries do not.
const (
	TypeRunStart         = "run_start"
	TypePlayStart        = "play_start"
	TypeTaskStart        = "task_start"
	TypeTaskOK           = "task_ok"
	TypeTaskChanged      = "task_changed"
	TypeTaskFailed       = "task_failed"
	TypeTaskSkipped      = "task_skipped"
	TypeHostUnreachable  = "host_unreachable"
	TypeHandlerTriggered = "handler_triggered"
	TypeRunRecap         = "run_recap"
)

// Event captures a single notification emitted during a playbook run.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Sequence   int64           `json:"sequence"`
	Type       string          `json:"type"`
	ClientTime time.Time       `json:"client_time"`
	ServerTime time.Time       `json:"server_time"`
	RunID      string          `json:"run_id"`
	Play       string          `json:"play,omitempty"`
	Task       string          `json:"task,omitempty"`
	Host       string          `json:"host,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.TrimSpace(e.Type)
	e.RunID = strings.TrimSpace(e.RunID)
	e.Play = strings.TrimSpace(e.Play)
	e.Task = strings.TrimSpace(e.Task)
	e.Host = strings.TrimSpace(e.Host)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Fanout delivers each event to every processor in order. All processors see
// the event even when an earlier one errors; the first error is returned.
type Fanout []EventProcessor

// HandleEvent dispatches e to every member.
func (f Fanout) HandleEvent(e Event) error {
	var firstErr error
	for _, proc := range f {
		if proc == nil {
			continue
		}
		if err := proc.HandleEvent(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	RouterReady    bool   `json:"router_ready"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	EventsAccepted int64  `json:"events_accepted"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	Accepted   int       `json:"accepted"`
	ServerTime time.Time `json:"server_time"`
}
