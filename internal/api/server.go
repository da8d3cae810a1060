// Package api is the HTTP front door: job submission, run control, live
// event streams, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/config"
	"github.com/snarg/clip-engine/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the route tree. Health and metrics skip auth.
func NewRouter(cfg *config.Config, jobs *JobsHandler, exports *ExportsHandler, evts *EventsHandler, health *HealthHandler, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.WriteTimeout))
			jobs.Routes(r)
			exports.Routes(r)
		})
		evts.Routes(r)
	})
	return r
}

func NewServer(cfg *config.Config, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			IdleTimeout: cfg.IdleTimeout,
			// no WriteTimeout: event streams stay open. Request routes are
			// bounded by middleware.Timeout instead.
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
