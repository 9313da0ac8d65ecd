// Package schedule resolves time-of-day climate schedules: given a set of
// nodes and a wall-clock time, it determines which node should currently be
// applied and which one comes next.
package schedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// A Node is one schedule entry: a time of day plus the setpoint and modes to
// apply from that time onward. A nil Temp (or NoChange) means the transition
// leaves the device's temperature alone, which is what preset-only devices need.
type Node struct {
	Time       string   `json:"time"`
	Temp       *float64 `json:"temp"`
	HVACMode   string   `json:"hvac_mode,omitempty"`
	FanMode    string   `json:"fan_mode,omitempty"`
	SwingMode  string   `json:"swing_mode,omitempty"`
	PresetMode string   `json:"preset_mode,omitempty"`
	NoChange   bool     `json:"no_change,omitempty"`
}

// Minutes returns the node's time as minutes since midnight.
func (n Node) Minutes() (int, error) {
	return ParseClock(n.Time)
}

// ParseClock converts an "HH:MM" string to minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hours in %q", s)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}
	return hours*60 + minutes, nil
}

// Nodes is a list of schedule entries for one bucket.
type Nodes []Node

// Sorted returns a copy of the list, sorted by time of day. Entries with an
// unparsable time sort first so they surface early during validation.
func (n Nodes) Sorted() Nodes {
	sorted := slices.Clone(n)
	slices.SortStableFunc(sorted, func(a, b Node) int {
		ma, _ := a.Minutes()
		mb, _ := b.Minutes()
		return ma - mb
	})
	return sorted
}

// Validate checks that every node has a valid HH:MM time and that no two
// nodes share the same time.
func (n Nodes) Validate() error {
	seen := make(map[int]string, len(n))
	for _, node := range n {
		minutes, err := node.Minutes()
		if err != nil {
			return err
		}
		if previous, ok := seen[minutes]; ok {
			return fmt.Errorf("duplicate node time %q (also %q)", node.Time, previous)
		}
		seen[minutes] = node.Time
	}
	return nil
}

// Clamp limits a temperature to the configured range.
func Clamp(temp, minTemp, maxTemp float64) float64 {
	return min(max(temp, minTemp), maxTemp)
}

// Float is a convenience constructor for node temperatures.
func Float(f float64) *float64 {
	return &f
}
