package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/rs/zerolog"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

func fail(w http.ResponseWriter, code int, msg, kind string, fields map[string]string) {
	writeJSON(w, code, envelope{Success: false, Message: msg, Error: kind, Errors: fields})
}

func badJSON(w http.ResponseWriter, err error) {
	fail(w, http.StatusBadRequest, "Invalid JSON body", "bad_request", map[string]string{"body": err.Error()})
}

// respondError maps service errors onto status codes. Causes of storage
// failures are logged, never returned to the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *orders.Error
	if !errors.As(err, &oe) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		fail(w, http.StatusInternalServerError, "Internal server error", "internal", nil)
		return
	}

	switch oe.Kind {
	case orders.KindValidation:
		fail(w, http.StatusUnprocessableEntity, oe.Message, string(oe.Kind), oe.Fields)
	case orders.KindNotFound:
		fail(w, http.StatusNotFound, oe.Message, string(oe.Kind), nil)
	case orders.KindPersistence:
		zerolog.Ctx(r.Context()).Error().Err(oe.Err).Msg(oe.Message)
		fail(w, http.StatusServiceUnavailable, oe.Message, string(oe.Kind), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		fail(w, http.StatusInternalServerError, "Internal server error", "internal", nil)
	}
}
