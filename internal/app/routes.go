package app

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatekeeper/internal/common/logging"
	"gatekeeper/internal/handlers"
	"gatekeeper/internal/middleware"
)

// Version is reported by the health endpoint
var Version = "dev"

// SetupRoutes configures the gateway routes. Every request gets a request id,
// an identity and a log line; everything but health and metrics passes
// admission control. A nil upstream leaves unknown paths unrouted.
func (app *App) SetupRoutes(upstream *url.URL) *mux.Router {
	h := handlers.New(app.Guard, app.redisHealth(), app.Ledger, Version)

	admission := middleware.NewAdmission(middleware.AdmissionConfig{
		Resolver:  app.Resolver,
		General:   app.General,
		Metered:   app.Metered,
		Guard:     app.Guard,
		Estimator: app.Estimator,
		Metrics:   app.Metrics,
		Logger:    app.Logger.WithFields(logging.String("component", "admission")),
	})

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Identify(app.Resolver))
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	gated := router.PathPrefix("/").Subrouter()
	gated.Use(admission.Middleware)
	gated.HandleFunc("/api/quota", h.GetQuota).Methods(http.MethodGet)

	if upstream != nil {
		gated.PathPrefix("/").Handler(handlers.NewProxy(upstream))
	}

	return router
}

// redisHealth avoids handing the handlers a typed nil
func (app *App) redisHealth() handlers.HealthChecker {
	if app.RedisClient == nil {
		return nil
	}
	return app.RedisClient
}
