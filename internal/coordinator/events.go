package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/secchiware/coordinator/internal/httputil"
)

// environmentEvent is the payload republished on the "environments"
// pub/sub channel and echoed verbatim to every /events subscriber.
// Grounded on spec.md §4.5.1's "Publish a start event ... with the new
// session's id, start timestamp, ip, port" and the symmetric stop event.
type environmentEvent struct {
	Type         string `json:"type"`
	SessionID    int64  `json:"session_id"`
	IP           string `json:"ip"`
	Port         int    `json:"port"`
	SessionStart string `json:"session_start,omitempty"`
	SessionEnd   string `json:"session_end,omitempty"`
}

func (d *Deps) publishEvent(ctx context.Context, ev environmentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("coordinator: marshal event: %w", err)
	}
	return d.Cache.Publish(ctx, string(payload))
}

// Events handles GET /events: an unauthenticated, long-lived
// Server-Sent-Events stream echoing the "environments" pub/sub channel,
// one message per "data:" frame (spec.md §4.5.1 "Subscribe"). Grounded on
// the original's Flask generator-based SSE view and the coroutine-style
// producer/consumer decoupling called out in spec.md §9.
func (d *Deps) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pubsub := d.Cache.Subscribe(r.Context())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
