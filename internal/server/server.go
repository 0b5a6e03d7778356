package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/headline-goat/funnel-engine/internal/alert"
	"github.com/headline-goat/funnel-engine/internal/experiment"
	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/telemetry"
	"github.com/headline-goat/funnel-engine/internal/timeseries"
)

// DefaultRangeDays is the report window when a request gives no dates.
const DefaultRangeDays = 30

// Deps are the collaborators the HTTP surface dispatches to.
type Deps struct {
	Store         store.Store
	Router        *experiment.Router
	Evaluator     *metric.Evaluator
	Assembler     *timeseries.Assembler
	Monitor       *alert.Monitor
	Log           logrus.FieldLogger
	SessionCookie string
	Location      *time.Location
	Now           func() time.Time
}

type Server struct {
	deps      Deps
	port      int
	router    *mux.Router
	startTime time.Time
}

func New(d Deps, port int) *Server {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SessionCookie == "" {
		d.SessionCookie = "fnl_sid"
	}

	srv := &Server{
		deps:      d,
		port:      port,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/x/{slug}", s.handleRedirect).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/metrics/{id:[0-9]+}/value", s.handleMetricValue).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id:[0-9]+}/series", s.handleMetricSeries).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id:[0-9]+}", s.handleMetricDelete).Methods(http.MethodDelete)
	api.HandleFunc("/funnels/{id:[0-9]+}/breakdown", s.handleFunnelBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/alerts/check", s.handleAlertsCheck).Methods(http.MethodPost)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.WithField("port", s.port).Info("fnl server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.deps.Log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		telemetry.ObserveRequest(route, rec.status, elapsed)
		s.deps.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   rec.status,
			"duration": elapsed.String(),
		}).Debug("request")
	})
}
