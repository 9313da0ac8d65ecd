package registry

import (
	"fmt"
	"io"

	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML shape used to bootstrap an empty registry.
type seedFile struct {
	Groups []seedGroup `yaml:"groups"`
}

type seedGroup struct {
	Name      string                `yaml:"name"`
	Entities  []string              `yaml:"entities"`
	Mode      schedule.Mode         `yaml:"schedule_mode"`
	Schedules map[string][]seedNode `yaml:"schedules"`
}

type seedNode struct {
	Time       string   `yaml:"time"`
	Temp       *float64 `yaml:"temp"`
	HVACMode   string   `yaml:"hvac_mode"`
	FanMode    string   `yaml:"fan_mode"`
	SwingMode  string   `yaml:"swing_mode"`
	PresetMode string   `yaml:"preset_mode"`
	NoChange   bool     `yaml:"no_change"`
}

// Bootstrap seeds an empty registry from a YAML document. It is a no-op when
// the registry already contains groups.
func (r *Registry) Bootstrap(reader io.Reader) error {
	if !r.Empty() {
		return nil
	}
	var seed seedFile
	if err := yaml.NewDecoder(reader).Decode(&seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sg := range seed.Groups {
		if sg.Name == "" || isAutoKey(sg.Name) {
			return fmt.Errorf("%w: invalid seed group name %q", ErrInvalidOperation, sg.Name)
		}
		if _, ok := r.lookup(sg.Name); ok {
			return fmt.Errorf("seed group %q: %w", sg.Name, ErrAlreadyExists)
		}
		g := newGroup(sg.Name, sg.Name, false)
		g.Entities = append([]string(nil), sg.Entities...)
		if sg.Mode != "" {
			if !sg.Mode.Valid() {
				return fmt.Errorf("%w: unknown schedule mode %q in seed group %q", ErrInvalidOperation, sg.Mode, sg.Name)
			}
			g.Mode = sg.Mode
		}
		if len(sg.Schedules) > 0 {
			g.Schedules = schedule.ScheduleSet{}
			for bucket, seedNodes := range sg.Schedules {
				nodes := make(schedule.Nodes, 0, len(seedNodes))
				for _, n := range seedNodes {
					nodes = append(nodes, schedule.Node{
						Time:       n.Time,
						Temp:       n.Temp,
						HVACMode:   n.HVACMode,
						FanMode:    n.FanMode,
						SwingMode:  n.SwingMode,
						PresetMode: n.PresetMode,
						NoChange:   n.NoChange,
					})
				}
				if err := nodes.Validate(); err != nil {
					return fmt.Errorf("seed group %q, bucket %q: %w", sg.Name, bucket, err)
				}
				g.Schedules[schedule.Bucket(bucket)] = nodes
			}
		}
		g.Profiles[DefaultProfile] = Profile{Name: DefaultProfile, Mode: g.Mode, Schedules: g.Schedules.Copy()}
		r.groups[g.Key] = g
	}
	r.logger.Info("registry bootstrapped from seed file", "groups", len(seed.Groups))
	return r.save()
}
