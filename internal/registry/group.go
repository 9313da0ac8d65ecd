package registry

import (
	"strings"

	"github.com/climate-tools/climate-scheduler/internal/schedule"
)

// DefaultProfile is the profile every group starts with.
const DefaultProfile = "Default"

// autoKeyPrefix keys the auto-created single-entity groups. The prefix keeps
// them out of the user-visible namespace; their display name is the entity id.
const autoKeyPrefix = "entity:"

// A Profile is a named, stored copy of a group's schedule that can be swapped
// in and out as the group's live schedule.
type Profile struct {
	Name      string               `json:"name"`
	Mode      schedule.Mode        `json:"schedule_mode"`
	Schedules schedule.ScheduleSet `json:"schedules"`
}

func (p Profile) copy() Profile {
	p.Schedules = p.Schedules.Copy()
	return p
}

// A Group owns a live schedule (mode + buckets) shared by its member
// entities, plus the named profiles it can switch between. Every entity
// belongs to exactly one group; entities without a user-created group live in
// an auto-created single-entity group.
type Group struct {
	Key           string               `json:"key"`
	Name          string               `json:"name"`
	Entities      []string             `json:"entities"`
	Enabled       bool                 `json:"enabled"`
	Ignored       bool                 `json:"ignored"`
	Auto          bool                 `json:"auto,omitempty"`
	Mode          schedule.Mode        `json:"schedule_mode"`
	Schedules     schedule.ScheduleSet `json:"schedules"`
	ActiveProfile string               `json:"active_profile"`
	Profiles      map[string]Profile   `json:"profiles"`
}

// Reconcilable reports whether the group's entities take part in
// reconciliation ticks.
func (g Group) Reconcilable() bool {
	return g.Enabled && !g.Ignored
}

// Copy returns a deep copy of the group.
func (g Group) Copy() Group {
	g.Entities = append([]string(nil), g.Entities...)
	g.Schedules = g.Schedules.Copy()
	profiles := make(map[string]Profile, len(g.Profiles))
	for name, p := range g.Profiles {
		profiles[name] = p.copy()
	}
	g.Profiles = profiles
	return g
}

func (g *Group) contains(entityID string) bool {
	for _, e := range g.Entities {
		if e == entityID {
			return true
		}
	}
	return false
}

// DefaultNodes is the schedule new groups start with.
func DefaultNodes() schedule.Nodes {
	return schedule.Nodes{
		{Time: "00:00", Temp: schedule.Float(18)},
		{Time: "07:00", Temp: schedule.Float(21)},
		{Time: "23:00", Temp: schedule.Float(18)},
	}
}

func newGroup(key, name string, auto bool) *Group {
	schedules := schedule.ScheduleSet{schedule.BucketAllDays: DefaultNodes()}
	return &Group{
		Key:           key,
		Name:          name,
		Enabled:       true,
		Auto:          auto,
		Mode:          schedule.ModeAllDays,
		Schedules:     schedules,
		ActiveProfile: DefaultProfile,
		Profiles: map[string]Profile{
			DefaultProfile: {Name: DefaultProfile, Mode: schedule.ModeAllDays, Schedules: schedules.Copy()},
		},
	}
}

func autoKey(entityID string) string {
	return autoKeyPrefix + entityID
}

func isAutoKey(key string) bool {
	return strings.HasPrefix(key, autoKeyPrefix)
}
