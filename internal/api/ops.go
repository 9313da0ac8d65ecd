package api

import (
	"net/http"
	"time"

	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/store"
	"github.com/gorilla/mux"
)

// advance skips the target (an entity id or a group name) ahead to its next
// schedule node.
func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.ResolveTarget(mux.Vars(r)["target"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if target.IsEntity() {
		entry, err := s.coordinator.Advance(r.Context(), target.EntityID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entry)
		return
	}

	results, err := s.coordinator.AdvanceGroup(r.Context(), target.GroupName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type result struct {
		EntityID string           `json:"entity_id"`
		Entry    *overrides.Entry `json:"entry,omitempty"`
		Error    string           `json:"error,omitempty"`
	}
	response := make([]result, 0, len(results))
	for _, res := range results {
		out := result{EntityID: res.EntityID}
		if res.Err != nil {
			out.Error = res.Err.Error()
		} else {
			entry := res.Entry
			out.Entry = &entry
		}
		response = append(response, out)
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.ResolveTarget(mux.Vars(r)["target"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var cancelled int
	if target.IsEntity() {
		ok, err := s.coordinator.Cancel(target.EntityID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if ok {
			cancelled = 1
		}
	} else {
		if cancelled, err = s.coordinator.CancelGroup(target.GroupName); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

func (s *Server) advanceStatus(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.ResolveTarget(mux.Vars(r)["target"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	type status struct {
		EntityID string     `json:"entity_id"`
		Active   bool       `json:"active"`
		Until    *time.Time `json:"until,omitempty"`
	}
	statusOf := func(entityID string) status {
		st := status{EntityID: entityID}
		if until, ok := s.coordinator.AdvanceStatus(entityID); ok {
			st.Active = true
			st.Until = &until
		}
		return st
	}
	if target.IsEntity() {
		s.writeJSON(w, http.StatusOK, statusOf(target.EntityID))
		return
	}
	g, err := s.registry.Group(target.GroupName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	statuses := make([]status, 0, len(g.Entities))
	for _, entityID := range g.Entities {
		statuses = append(statuses, statusOf(entityID))
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

// history returns a target's advance history, newest first. An optional
// ?since=RFC3339 query bounds the window.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.ResolveTarget(mux.Vars(r)["target"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since: " + err.Error()})
			return
		}
	}
	id := target.EntityID
	if !target.IsEntity() {
		id = target.GroupName
	}
	entries := s.ledger.History(id, since)
	if entries == nil {
		entries = []overrides.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) clearHistory(w http.ResponseWriter, _ *http.Request) {
	if err := s.ledger.ClearHistory(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Settings())
}

func (s *Server) setSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if !s.decode(w, r, &settings) {
		return
	}
	if err := s.settings.SetSettings(settings); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	// clamp bounds feed the change detector, so re-apply everything
	s.coordinator.ForceUpdateAll()
	w.WriteHeader(http.StatusNoContent)
}

// sync drops the coordinator's caches and forces a full re-apply.
func (s *Server) sync(w http.ResponseWriter, _ *http.Request) {
	s.coordinator.ForceUpdateAll()
	w.WriteHeader(http.StatusAccepted)
}

// factoryReset wipes groups, history, settings and caches.
func (s *Server) factoryReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.registry.FactoryReset(); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ledger.ClearHistory(); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.settings.SetSettings(store.Settings{MinTemp: store.DefaultMinTemp, MaxTemp: store.DefaultMaxTemp}); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}
