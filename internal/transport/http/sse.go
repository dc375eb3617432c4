package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/munnerz/goautoneg"

	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
)

const (
	mimeJSON        = "application/json"
	mimeEventStream = "text/event-stream"
	keepAlive       = 15 * time.Second
)

func wantsEventStream(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return goautoneg.Negotiate(accept, []string{mimeJSON, mimeEventStream}) == mimeEventStream
}

// streamGame sends the current game view followed by every committed change
// of the game's records as server-sent events. The stream ends when the
// client goes away or the subscription is dropped for falling behind.
func (h *Handler) streamGame(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}
	code := mux.Vars(r)["code"]
	ctx := r.Context()

	events, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cancel()

	view, err := h.service.GetGame(ctx, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	seq := broadcast.NewSequencer()
	seq.Admit(domain.GameEvent(view.Game))

	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", mimeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", view.Version, view); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				glog.V(1).Infof("game %s: sse subscriber dropped", code)
				_ = writeSSE(w, "reload", 0, map[string]string{"code": code})
				flusher.Flush()
				return
			}
			if !seq.Admit(event) {
				continue
			}
			if err := writeSSE(w, string(event.Kind), event.Version, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, id int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
