package server

import (
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"
)

// Routes mounts h on / for every method and wraps it with the access log.
func Routes(h http.Handler, logger *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	return AccessLog(mux, logger)
}

// New returns an http.Server with the timeouts used by tally-server.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func AccessLog(next http.Handler, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logger.Infow("access",
			"method", r.Method,
			"path", r.URL.Path,
			"action", r.URL.Query().Get("action"),
			"status", m.Code,
			"bytes", m.Written,
			"dur", m.Duration,
			"remote", r.RemoteAddr,
		)
	})
}
