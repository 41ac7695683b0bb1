package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telegram-queue-bridge/common/httputil"
	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/middleware"
)

// NewRouter constructs a ServeMux with the ops endpoints registered.
func NewRouter(client messaging.Client, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	// Liveness only reports that the process is serving.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}
		status := messaging.CheckClientHealth(client)
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}
