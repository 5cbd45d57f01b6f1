package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbocsi/skybridge/adapters"
	"github.com/mbocsi/skybridge/client"
)

// Controller is the part of the bridge the control surface drives.
type Controller interface {
	State() client.State
	URL() string
	Topics() []client.TopicInfo
	Connect(ctx context.Context) error
	Disconnect() error
}

// StateSource exposes what the adapters currently hold.
type StateSource interface {
	Poses() []adapters.PoseSnapshot
	Pose(name string) (adapters.PoseSnapshot, bool)
	Telemetry() map[string]any
}

// Server is the HTTP control surface: connection status, connect/disconnect, topics, adapter
// state and prometheus metrics.
type Server struct {
	addr       string
	controller Controller
	state      StateSource
	gatherer   prometheus.Gatherer
}

func NewServer(addr string, controller Controller, state StateSource, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{addr: addr, controller: controller, state: state, gatherer: gatherer}
}

// Routes returns the HTTP routes of the control surface
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/status", s.HandleStatus)
	r.Post("/api/connect", s.HandleConnect)
	r.Post("/api/disconnect", s.HandleDisconnect)
	r.Get("/api/topics", s.HandleTopics)
	r.Get("/api/poses", s.HandlePoses)
	r.Get("/api/poses/{name}", s.HandlePose)
	r.Get("/api/telemetry", s.HandleTelemetry)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP control surface", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("Shutting down HTTP control surface", "addr", s.addr)
	return srv.Shutdown(shutdownCtx)
}
