package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// streamHeartbeat keeps idle proxies from closing the connection
var streamHeartbeat = 15 * time.Second

// handleEventStream relays newly persisted events as server-sent events
// until either side goes away
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn().Err(err).Msg("Event stream not supported by response writer")
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error().Err(err).Uint64("event_id", ev.ID).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Category, data); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
