package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// handleStreamEvents streams lifecycle transitions as server-sent events. The
// stream ends with a "done" event when the engine shuts down.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing after shutdown returns a closed channel, so the loop below
	// sends "done" straight away.
	ch, unsub := s.runtime.Events().Subscribe()
	defer unsub()
	eventStreams.Inc()
	defer eventStreams.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "engine shut down")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(tr)
			if err != nil {
				s.logger.Error("encode transition", "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, per the SSE spec.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
