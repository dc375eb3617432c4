package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/golang/glog"

	"live-quiz-service/internal/domain"
)

// HTTPMessage is the error envelope returned by every endpoint.
type HTTPMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func returnHTTPMessage(w http.ResponseWriter, httpStatus int, messageType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(HTTPMessage{
		Type:    messageType,
		Status:  strconv.Itoa(httpStatus),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, httpStatus int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		glog.Warningf("encode response: %v", err)
	}
}

// classify maps an error to its HTTP status, envelope type and the message
// that is safe to show the caller.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NotFound", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "PermissionDenied", "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "InvalidState", err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "BadRequest", err.Error()
	case errors.Is(err, domain.ErrTransactionConflict):
		return http.StatusServiceUnavailable, "Conflict", "too many concurrent updates, retry"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "Unauthorized", err.Error()
	default:
		return http.StatusInternalServerError, "ServerError", "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, message := classify(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	returnHTTPMessage(w, status, kind, message)
}
