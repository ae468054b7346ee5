package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodec "github.com/drblury/safetynet/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/safetynet/internal/runtime/logging"
)

// SubscriptionInfo describes one router handler in the status API.
type SubscriptionInfo struct {
	Name  string `json:"name"`
	Topic string `json:"topic"`
}

// StatusHandler serves the subscriptions, the retry metrics snapshot and,
// when the registerer can gather, the Prometheus metrics:
//
//	GET /api/subscriptions
//	GET /api/retries
//	GET /metrics
func (s *Service) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions", s.handleGetSubscriptions)
	mux.HandleFunc("/api/retries", s.handleGetRetries)
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Service) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}
	topics := s.Topics()
	subs := make([]SubscriptionInfo, 0, len(topics))
	for name, topic := range topics {
		subs = append(subs, SubscriptionInfo{Name: name, Topic: topic})
	}
	s.writeJSON(w, subs)
}

func (s *Service) handleGetRetries(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}
	metrics := s.catcher.Metrics()
	if metrics == nil {
		http.Error(w, "retry metrics are disabled", http.StatusNotFound)
		return
	}
	s.writeJSON(w, metrics.GetSnapshot())
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode status response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeCORS sets CORS headers and reports whether the request was a
// preflight that has been answered.
func (s *Service) writeCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowedOrigin := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// startStatusServer serves StatusHandler on StatusAddr until ctx is done.
func (s *Service) startStatusServer(ctx context.Context) {
	if s.Conf.StatusAddr == "" {
		return
	}
	server := &http.Server{
		Addr:              s.Conf.StatusAddr,
		Handler:           s.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.Logger.Info("Starting status server", loggingpkg.LogFields{"address": s.Conf.StatusAddr})

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Status server failed", err, loggingpkg.LogFields{"address": s.Conf.StatusAddr})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
