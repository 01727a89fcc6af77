package errors

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the wire shape for every error the API returns.
// Clients key off "error"; "detail" is optional extra context.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes an HTTP response for the given error.
// Handles *AppError directly and wraps anything else as internal.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Error:  appErr.Message,
		Detail: appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
