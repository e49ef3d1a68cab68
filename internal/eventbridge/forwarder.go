package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// forwardBuffer bounds how many undelivered events a forwarder keeps. The
// oldest are dropped first; the recap is emitted last, so it survives.
const forwardBuffer = 512

// Forwarder delivers run events to a bridge server over HTTP. It implements
// EventProcessor, so a run whose bridge address is already held by another
// process (typically a dashboard) emits to that process the same way it
// emits to its local router. Events that cannot be delivered are buffered
// and ride along with the next attempt as one batch, the array form the
// intake accepts.
type Forwarder struct {
	base   string
	client *http.Client
	logger Logger

	mu      sync.Mutex
	pending []Event
}

// ForwarderOption customizes forwarder construction.
type ForwarderOption func(*Forwarder)

// ForwarderWithClient overrides the default HTTP client.
func ForwarderWithClient(client *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

// ForwarderWithLogger overrides the default no-op logger.
func ForwarderWithLogger(logger Logger) ForwarderOption {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewForwarder targets a bridge base URL, normally Settings.URL().
func NewForwarder(baseURL string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// HandleEvent queues the event and attempts to deliver everything pending.
// Delivery problems are logged, never returned: a run must not fail because
// its dashboard went away.
func (f *Forwarder) HandleEvent(evt Event) error {
	f.mu.Lock()
	f.pending = append(f.pending, evt)
	if len(f.pending) > forwardBuffer {
		f.pending = f.pending[len(f.pending)-forwardBuffer:]
	}
	f.mu.Unlock()

	if err := f.Flush(); err != nil {
		f.logger.Printf("eventbridge: forward to %s: %v", f.base, err)
	}
	return nil
}

// Flush posts everything pending as one batch. Callers invoke it once more
// after the run so a recap buffered during an outage still lands.
func (f *Forwarder) Flush() error {
	f.mu.Lock()
	batch := make([]Event, len(f.pending))
	copy(batch, f.pending)
	f.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := f.post(batch); err != nil {
		return err
	}
	f.mu.Lock()
	if len(f.pending) >= len(batch) {
		f.pending = f.pending[len(batch):]
	} else {
		f.pending = nil
	}
	f.mu.Unlock()
	return nil
}

// Pending reports how many events await delivery.
func (f *Forwarder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Forwarder) post(events []Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	resp, err := f.client.Post(f.base+"/events", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("bridge returned %s", resp.Status)
	}
	return nil
}

// PingBridge reports whether a bridge server answers /health at the base
// URL. A run whose listen attempt loses the address uses this to tell a
// live bridge apart from an unrelated bind failure.
func PingBridge(ctx context.Context, baseURL string) bool {
	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
