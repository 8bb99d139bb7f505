package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/trustplane"
)

// ErrorBody is the JSON shape of every error response that has no more
// specific contract.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err through [trustplane.HTTPStatus] and
// [trustplane.ErrorCode]. Internal errors never echo their message.
func WriteError(w http.ResponseWriter, err error) {
	status := trustplane.HTTPStatus(err)
	body := ErrorBody{Error: trustplane.ErrorCode(err)}
	if status < http.StatusInternalServerError {
		body.Message = err.Error()
	}
	WriteJSON(w, status, body)
}
