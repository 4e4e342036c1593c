package proxy

import (
	"net/http"

	"github.com/rs/zerolog"
)

// NewHandler mounts the forwarder at route next to a health check and
// wraps everything in the request ID, access log and recovery middleware
func NewHandler(route string, fwd http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(route, fwd)
	mux.HandleFunc("GET /healthz", handleHealth)

	httpLogger := logger.With().Str("component", "http").Logger()
	return Chain(mux,
		RequestID,
		AccessLog(httpLogger),
		Recover(httpLogger),
	)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
