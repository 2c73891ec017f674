package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sysmetrics-app/internal/config"
	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/endpoints"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

// Services are the pipeline components the routes are bound to.
type Services struct {
	Store     domain.MetricStore
	Ingestor  endpoints.Ingestor
	Latest    endpoints.LatestReader
	Hub       endpoints.Subscribers
	Telemetry *telemetry.Pipeline
}

func NewRouter(svc Services, allowedOrigins []string, webSlogger *util.MetricsLogger) *mux.Router {
	r := mux.NewRouter()

	addRoutes(r, svc, webSlogger)

	r.Use(loggingMiddleware(webSlogger))
	r.Use(corsMiddleware(allowedOrigins))

	return r
}

func addRoutes(r *mux.Router, svc Services, webSlogger *util.MetricsLogger) {

	metricsHandler := &endpoints.Metrics{}
	metricsHandler.Init(svc.Ingestor, svc.Latest, svc.Store, webSlogger)

	systemHandler := &endpoints.System{}
	systemHandler.Init(svc.Store, svc.Hub, webSlogger)

	r.HandleFunc("/metrics", metricsHandler.IngestHandler).Methods("POST")
	r.HandleFunc("/metrics/latest", metricsHandler.LatestHandler).Methods("GET")
	r.HandleFunc("/metrics/history", metricsHandler.HistoryHandler).Methods("GET")
	r.HandleFunc("/metrics/range", metricsHandler.RangeHandler).Methods("GET")
	r.HandleFunc("/metrics/stats", metricsHandler.StatsHandler).Methods("GET")
	r.HandleFunc("/metrics/complete", metricsHandler.CompleteHandler).Methods("GET")

	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/clients", systemHandler.ClientsHandler).Methods("GET")
	r.HandleFunc("/ws", systemHandler.WebSocketHandler).Methods("GET")

	r.Handle("/internal/prometheus", svc.Telemetry.Handler()).Methods("GET")

	// preflight for every path; the CORS middleware answers it
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts the server down gracefully
// within maximumTime.
func Run(ctx context.Context, server *http.Server, webSlogger *util.MetricsLogger, maximumTime time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Listening on", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Shutting down server...")
	if err := gracefulShutdown(server, maximumTime); err != nil {
		webSlogger.LogEvent(util.LOG_LEVEL_ERROR, "Server stopped with error:", err)
		return err
	}
	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Server stopped gracefully.")
	return nil
}

func gracefulShutdown(server *http.Server, maximumTime time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), maximumTime)
	defer cancel()

	return server.Shutdown(ctx)
}

func loggingMiddleware(logger *util.MetricsLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger.LogEvent(util.LOG_LEVEL_INFO, fmt.Sprintf("Request: %s %s", r.Method, r.RequestURI))
			next.ServeHTTP(w, r)
			logger.LogEvent(util.LOG_LEVEL_DEBUG, fmt.Sprintf("Handled: %s %s in %s", r.Method, r.RequestURI, time.Since(start)))
		})
	}
}

// corsMiddleware echoes allowed origins. "*" allows any origin.
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	wildcard := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowedOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Accept"}, ","))
				w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{"GET", "POST", "OPTIONS"}, ","))
			}
			next.ServeHTTP(w, r)
		})
	}
}
