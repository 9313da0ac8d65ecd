package api

import (
	"net/http"

	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/gorilla/mux"
)

func (s *Server) listGroups(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Groups())
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	g, err := s.registry.CreateGroup(body.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.registry.Group(mux.Vars(r)["group"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteGroup(mux.Vars(r)["group"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.RenameGroup(mux.Vars(r)["group"], body.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addEntity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID string `json:"entity_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.AddEntity(mux.Vars(r)["group"], body.EntityID); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.registry.RemoveEntity(vars["group"], vars["entity"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

// registerEntity puts a new climate entity under schedule control by giving
// it an auto-group with the default schedule.
func (s *Server) registerEntity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID string `json:"entity_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	g, err := s.registry.EnsureEntity(body.EntityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.SetEnabled(mux.Vars(r)["group"], body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setIgnored(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ignored bool `json:"ignored"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.SetIgnored(mux.Vars(r)["group"], body.Ignored); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	g, err := s.registry.Group(mux.Vars(r)["group"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Mode      schedule.Mode        `json:"schedule_mode"`
		Schedules schedule.ScheduleSet `json:"schedules"`
	}{Mode: g.Mode, Schedules: g.Schedules})
}

func (s *Server) setSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day   schedule.Bucket `json:"day"`
		Mode  schedule.Mode   `json:"schedule_mode"`
		Nodes schedule.Nodes  `json:"nodes"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.SetSchedule(mux.Vars(r)["group"], body.Day, body.Mode, body.Nodes); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ClearSchedule(mux.Vars(r)["group"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	names, active, err := s.registry.Profiles(mux.Vars(r)["group"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Profiles []string `json:"profiles"`
		Active   string   `json:"active"`
	}{Profiles: names, Active: active})
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.registry.CreateProfile(mux.Vars(r)["group"], body.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.registry.DeleteProfile(vars["group"], vars["profile"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	if err := s.registry.RenameProfile(vars["group"], vars["profile"], body.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.registry.ActivateProfile(vars["group"], vars["profile"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.coordinator.Refresh()
	w.WriteHeader(http.StatusNoContent)
}
