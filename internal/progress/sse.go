package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StartSSE writes the event-stream headers and returns the flusher.
func StartSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	// Streams outlive the server write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return flusher, nil
}

// WriteSSE writes a single event in event-stream format.
func WriteSSE(w http.ResponseWriter, flusher http.Flusher, evt Event) error {
	data, err := json.Marshal(wireEvent{
		Type:    evt.WireType(),
		Payload: evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.WireType(), data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}

// Stream relays sub to w until the subscription closes or ctx is done.
// A comment line is sent every heartbeat interval to keep idle connections open;
// a zero interval disables heartbeats. Events matched by skip, which may be
// nil, are not written.
func Stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub *Subscription, heartbeat time.Duration, skip func(Event) bool) error {
	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			flusher.Flush()
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if skip != nil && skip(evt) {
				continue
			}
			if err := WriteSSE(w, flusher, evt); err != nil {
				return err
			}
		}
	}
}
