package server

import (
	"encoding/json"
	"net/http"
)

// User-visible error codes. Every HTTP failure body is {"error":"<CODE>"}.
const (
	codeBadRequest           = "BAD_REQUEST"
	codeUnauthorized         = "UNAUTHORIZED"
	codeNotFound             = "NOT_FOUND"
	codeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	codeTooManyRequests      = "TOO_MANY_REQUESTS"
	codeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	codeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
