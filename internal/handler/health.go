package handler

import (
	"net/http"
	"time"
)

var startTime = time.Now()

// Health returns the liveness endpoint handler.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
		})
	}
}
