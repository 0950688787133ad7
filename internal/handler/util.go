package handler

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON envelope every error response shares.
type errorBody struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, errorBody{Error: message})
}
