package http

import (
	"net/http"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

var (
	corsAllowedHeaders = handlers.AllowedHeaders([]string{"Authorization", "Content-Type", devUserHeader})
	corsAllowedMethods = handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
	corsAllowedOrigins = handlers.AllowedOrigins([]string{"*"})
)

// NewRouter wires every endpoint of the handler behind CORS and access logging.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)

	r.HandleFunc("/games", h.createGame).Methods(http.MethodPost)
	r.HandleFunc("/quizzes/{id}/refresh", h.refreshQuiz).Methods(http.MethodPost)

	games := r.PathPrefix("/games/{code}").Subrouter()
	games.HandleFunc("", h.getGame).Methods(http.MethodGet)
	games.HandleFunc("/start", h.startGame).Methods(http.MethodPost)
	games.HandleFunc("/next", h.nextQuestion).Methods(http.MethodPost)
	games.HandleFunc("/results", h.revealResults).Methods(http.MethodPost)
	games.HandleFunc("/participants", h.joinGame).Methods(http.MethodPost)
	games.HandleFunc("/answers", h.submitAnswer).Methods(http.MethodPost)
	games.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)
	games.HandleFunc("/question", h.currentQuestion).Methods(http.MethodGet)
	games.HandleFunc("/summary", h.questionSummary).Methods(http.MethodGet)
	games.HandleFunc("/qr", h.joinQR).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		returnHTTPMessage(w, http.StatusNotFound, "NotFound", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		returnHTTPMessage(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	cors := handlers.CORS(corsAllowedHeaders, corsAllowedMethods, corsAllowedOrigins)
	return handlers.LoggingHandler(accessLog{}, cors(r))
}

// accessLog routes combined-format access lines into glog.
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	glog.V(1).Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
