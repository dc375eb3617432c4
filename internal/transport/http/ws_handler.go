package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer   string   `json:"answer"`
	TimeLeft *float64 `json:"timeLeft"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type snapshotPayload struct {
	Game        domain.GameView     `json:"game"`
	Leaderboard domain.Leaderboard  `json:"leaderboard"`
	Participant *domain.Participant `json:"participant,omitempty"`
}

func errorMessage(err error) outboundMessage {
	status, _, message := classify(err)
	return outboundMessage{Type: "error", Payload: errorPayload{Status: status, Message: message}}
}

// ServeWS streams a game's record changes to a viewer. When participantId is
// given the connection also accepts "answer" messages for that participant.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	participantID := r.URL.Query().Get("participantId")
	if code == "" {
		returnHTTPMessage(w, http.StatusBadRequest, "BadRequest", "missing code")
		return
	}
	ctx := r.Context()

	events, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cancel()

	snapshot, err := h.snapshot(r, code, participantID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	seq := broadcast.NewSequencer()
	seq.Admit(domain.GameEvent(snapshot.Game.Game))
	if snapshot.Participant != nil {
		seq.Admit(domain.ParticipantEvent(*snapshot.Participant))
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections support one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				glog.V(1).Infof("game %s: ws write error: %v", code, err)
				return
			}
			if msg.Type == "reload" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "reload"),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		case <-writerDone:
			return false
		}
	}

	// the snapshot goes out ahead of any update committed after it was read
	send <- outboundMessage{Type: "snapshot", Payload: snapshot}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					// dropped for falling behind; the client reconnects and reloads
					glog.V(1).Infof("game %s: ws subscriber dropped", code)
					enqueue(outboundMessage{Type: "reload"})
					return
				}
				if !seq.Admit(event) {
					continue
				}
				if !enqueue(outboundMessage{Type: string(event.Kind), Payload: event}) {
					return
				}
				if showsScores(event) {
					board, err := h.service.Leaderboard(ctx, code)
					if err != nil {
						glog.Warningf("game %s: leaderboard: %v", code, err)
						continue
					}
					if !enqueue(outboundMessage{Type: "leaderboard", Payload: board}) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var reply outboundMessage
		switch {
		case inbound.Type == "answer" && participantID != "":
			reply = h.answer(r, code, participantID, inbound.Payload)
		case inbound.Type == "answer":
			reply = errorMessage(domain.ErrNotHost)
		default:
			reply = outboundMessage{Type: "error", Payload: errorPayload{Status: http.StatusBadRequest, Message: "unsupported message type"}}
		}
		if !enqueue(reply) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *Handler) snapshot(r *http.Request, code, participantID string) (snapshotPayload, error) {
	view, err := h.service.GetGame(r.Context(), code)
	if err != nil {
		return snapshotPayload{}, err
	}
	board, err := h.service.Leaderboard(r.Context(), code)
	if err != nil {
		return snapshotPayload{}, err
	}
	out := snapshotPayload{Game: view, Leaderboard: board}
	if participantID != "" {
		p, err := h.service.Participant(r.Context(), code, participantID)
		if err != nil {
			return snapshotPayload{}, err
		}
		out.Participant = &p
	}
	return out, nil
}

func (h *Handler) answer(r *http.Request, code, participantID string, raw json.RawMessage) outboundMessage {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return outboundMessage{Type: "error", Payload: errorPayload{Status: http.StatusBadRequest, Message: "invalid answer payload"}}
	}
	timeLeft := 0.0
	if payload.TimeLeft != nil {
		timeLeft = *payload.TimeLeft
	}
	result, err := h.service.Submit(r.Context(), code, participantID, payload.Answer, timeLeft)
	if err != nil {
		if status, _, _ := classify(err); status == http.StatusInternalServerError {
			glog.Errorf("game %s: submit for %s: %v", code, participantID, err)
		}
		return errorMessage(err)
	}
	return outboundMessage{Type: "answerResult", Payload: result}
}

// showsScores reports whether a game change reveals results, after which
// viewers get a fresh leaderboard.
func showsScores(event domain.Event) bool {
	if event.Kind != domain.EventGame || event.Game == nil {
		return false
	}
	return event.Game.State == domain.StateQuestionResults || event.Game.State == domain.StateFinalResults
}
