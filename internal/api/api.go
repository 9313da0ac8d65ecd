// Package api exposes the scheduler's management interface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/climate-tools/climate-scheduler/internal/coordinator"
	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// SettingsStore reads and writes the global clamp bounds.
type SettingsStore interface {
	Settings() store.Settings
	SetSettings(store.Settings) error
}

type Server struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	ledger      *overrides.Ledger
	settings    SettingsStore
	logger      *slog.Logger
	router      *mux.Router
}

func New(reg *registry.Registry, coord *coordinator.Coordinator, ledger *overrides.Ledger, settings SettingsStore, healthHandler http.Handler, logger *slog.Logger) *Server {
	s := Server{
		registry:    reg,
		coordinator: coord,
		ledger:      ledger,
		settings:    settings,
		logger:      logger,
		router:      mux.NewRouter(),
	}
	s.router.Use(func(next http.Handler) http.Handler {
		return handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{logger: logger}))(next)
	})
	s.router.Handle("/health", healthHandler).Methods(http.MethodGet)

	r := s.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/groups", s.listGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups", s.createGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group}", s.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}", s.deleteGroup).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/name", s.renameGroup).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/entities", s.addEntity).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group}/entities/{entity}", s.removeEntity).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/enabled", s.setEnabled).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/ignored", s.setIgnored).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/schedule", s.getSchedule).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/schedule", s.setSchedule).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/schedule", s.clearSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/profiles", s.listProfiles).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/profiles", s.createProfile).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group}/profiles/{profile}", s.deleteProfile).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/profiles/{profile}/name", s.renameProfile).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/profiles/{profile}/activate", s.activateProfile).Methods(http.MethodPost)
	r.HandleFunc("/entities", s.registerEntity).Methods(http.MethodPost)
	r.HandleFunc("/advance/{target}", s.advance).Methods(http.MethodPost)
	r.HandleFunc("/cancel/{target}", s.cancel).Methods(http.MethodPost)
	r.HandleFunc("/status/{target}", s.advanceStatus).Methods(http.MethodGet)
	r.HandleFunc("/history/{target}", s.history).Methods(http.MethodGet)
	r.HandleFunc("/history", s.clearHistory).Methods(http.MethodDelete)
	r.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", s.setSettings).Methods(http.MethodPut)
	r.HandleFunc("/sync", s.sync).Methods(http.MethodPost)
	r.HandleFunc("/factory-reset", s.factoryReset).Methods(http.MethodPost)
	return &s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (r *recoveryLogger) Println(v ...any) {
	r.logger.Error("panic in http handler", "err", v)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write response", "err", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, registry.ErrInvalidOperation), errors.Is(err, coordinator.ErrNoSchedule):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrActuation):
		code = http.StatusBadGateway
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
