// Package api exposes the reminder services over a JSON HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/service"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg       *config.Config
	users     *service.UserService
	variables *service.VariableService
	schedules *service.ScheduleManager
	queue     *service.NotificationQueue
	clock     service.Clock
	log       *logger.Logger
	router    *mux.Router
	db        Pinger
}

func New(cfg *config.Config, users *service.UserService, variables *service.VariableService, schedules *service.ScheduleManager, queue *service.NotificationQueue, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		users:     users,
		variables: variables,
		schedules: schedules,
		queue:     queue,
		clock:     service.SystemClock,
		log:       log,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// SetHealthCheck makes /health fail while p cannot be reached.
func (s *Server) SetHealthCheck(p Pinger) {
	s.db = p
}

// Handle mounts an extra handler, e.g. the Telegram webhook.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if !s.cfg.APIAuthEnabled() {
		s.log.WithComponent("api").Warn("API credentials not set, REST API disabled")
		return
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.basicAuth)

	api.HandleFunc("/users", s.registerUser).Methods(http.MethodPost)
	api.HandleFunc("/variables", s.listVariables).Methods(http.MethodGet)
	api.HandleFunc("/variables", s.createVariable).Methods(http.MethodPost)

	owner := api.PathPrefix("/owners/{ownerID:[0-9]+}").Subrouter()

	owner.HandleFunc("/variables", s.ensureOwnerLink).Methods(http.MethodPost)

	owner.HandleFunc("/schedules", s.listSchedules).Methods(http.MethodGet)
	owner.HandleFunc("/schedules", s.createSchedule).Methods(http.MethodPost)
	owner.HandleFunc("/schedules/{id:[0-9]+}", s.getSchedule).Methods(http.MethodGet)
	owner.HandleFunc("/schedules/{id:[0-9]+}", s.updateSchedule).Methods(http.MethodPut)
	owner.HandleFunc("/schedules/{id:[0-9]+}", s.deleteSchedule).Methods(http.MethodDelete)
	owner.HandleFunc("/schedules/{id:[0-9]+}/deactivate", s.deactivateSchedule).Methods(http.MethodPost)
	owner.HandleFunc("/schedules/{id:[0-9]+}/preview", s.previewSchedule).Methods(http.MethodGet)
	owner.HandleFunc("/schedules/{id:[0-9]+}/history", s.scheduleHistory).Methods(http.MethodGet)

	owner.HandleFunc("/notifications/due", s.dueNotifications).Methods(http.MethodGet)
	owner.HandleFunc("/notifications/{id:[0-9]+}/resolve", s.resolveNotification).Methods(http.MethodPost)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.WithComponent("api").WithError(err).Warn("Health check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.cfg.APIUsername || password != s.cfg.APIPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="Health Reminders API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.WithComponent("api").WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
