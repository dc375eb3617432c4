package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const qrSize = 256

// Handler exposes the game service over REST, SSE and websockets.
type Handler struct {
	service   *app.GameService
	auth      *Authenticator
	publicURL string
	upgrader  websocket.Upgrader
}

func NewHandler(service *app.GameService, auth *Authenticator, publicURL string) *Handler {
	return &Handler{
		service:   service,
		auth:      auth,
		publicURL: strings.TrimRight(publicURL, "/"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type createGameRequest struct {
	QuizID string `json:"quizId"`
}

type joinRequest struct {
	Pseudonym string `json:"pseudonym"`
}

type answerRequest struct {
	ParticipantID string   `json:"participantId"`
	Answer        string   `json:"answer"`
	TimeLeft      *float64 `json:"timeLeft"`
}

type quizRefreshResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	QuestionCount int    `json:"questionCount"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createGameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.QuizID == "" {
		writeError(w, r, fmt.Errorf("%w: quizId is required", domain.ErrInvalidInput))
		return
	}
	game, err := h.service.Create(r.Context(), req.QuizID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	if wantsEventStream(r) {
		h.streamGame(w, r)
		return
	}
	view, err := h.service.GetGame(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) startGame(w http.ResponseWriter, r *http.Request) {
	h.hostTransition(w, r, h.service.Start)
}

func (h *Handler) nextQuestion(w http.ResponseWriter, r *http.Request) {
	h.hostTransition(w, r, h.service.AdvanceQuestion)
}

func (h *Handler) revealResults(w http.ResponseWriter, r *http.Request) {
	h.hostTransition(w, r, h.service.RevealResults)
}

type transitionFunc func(ctx context.Context, code, userID string) (domain.Game, error)

func (h *Handler) hostTransition(w http.ResponseWriter, r *http.Request, transition transitionFunc) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	game, err := transition(r.Context(), mux.Vars(r)["code"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *Handler) refreshQuiz(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz, err := h.service.RefreshQuiz(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizRefreshResponse{ID: quiz.ID, Title: quiz.Title, QuestionCount: len(quiz.Questions)})
}

func (h *Handler) joinGame(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	participant, err := h.service.Join(r.Context(), mux.Vars(r)["code"], req.Pseudonym)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, r, fmt.Errorf("%w: participantId is required", domain.ErrInvalidInput))
		return
	}
	// an absent timeLeft scores like any other unusable timing value
	timeLeft := 0.0
	if req.TimeLeft != nil {
		timeLeft = *req.TimeLeft
	}
	result, err := h.service.Submit(r.Context(), mux.Vars(r)["code"], req.ParticipantID, req.Answer, timeLeft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Leaderboard(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) currentQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.service.CurrentQuestion(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *Handler) questionSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.service.QuestionSummary(r.Context(), mux.Vars(r)["code"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// joinQR renders a QR code that opens the join page for the game.
func (h *Handler) joinQR(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if _, err := h.service.GetGame(r.Context(), code); err != nil {
		writeError(w, r, err)
		return
	}
	png, err := qrcode.Encode(h.JoinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// JoinURL is the link participants open to join a game.
func (h *Handler) JoinURL(code string) string {
	return h.publicURL + "/join?code=" + code
}
