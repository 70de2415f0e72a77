// Package api exposes the HTTP surface for the mobile client.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/daybreak-app/daybreak/internal/errs"
)

// errorBody is the unified JSON error envelope. Code is
// machine-readable; Message is safe to show the user.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error through the taxonomy and writes the
// envelope. Internal details reach the log, not the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := errs.HTTPStatus(err)
	code := errs.Code(err)

	message := err.Error()
	if status >= 500 {
		logger.Error("request failed", "code", code, "error", err)
		message = "something went wrong, please try again later"
	}

	writeJSON(w, status, errorBody{Code: code, Message: message})
}
