// Package actuator applies schedule decisions to climate devices.
package actuator

import (
	"context"

	"github.com/clambin/go-common/set"
)

// ModeKind names one of the settable climate mode dimensions.
type ModeKind string

const (
	HVACMode   ModeKind = "hvac_mode"
	FanMode    ModeKind = "fan_mode"
	SwingMode  ModeKind = "swing_mode"
	PresetMode ModeKind = "preset_mode"
)

// Capabilities describes what a climate entity can do. Mode sets hold the
// values the device accepts; a mode dimension the device lacks has an empty
// set.
type Capabilities struct {
	HasTemperatureSensor bool
	HVACModes            set.Set[string]
	FanModes             set.Set[string]
	SwingModes           set.Set[string]
	PresetModes          set.Set[string]
}

// Supports reports whether the entity accepts the given value for a mode
// dimension.
func (c Capabilities) Supports(kind ModeKind, value string) bool {
	switch kind {
	case HVACMode:
		return c.HVACModes.Contains(value)
	case FanMode:
		return c.FanModes.Contains(value)
	case SwingMode:
		return c.SwingModes.Contains(value)
	case PresetMode:
		return c.PresetModes.Contains(value)
	}
	return false
}

// Actuator is the device-side interface the coordinator drives.
type Actuator interface {
	TurnOff(ctx context.Context, entityID string) error
	SetTemperature(ctx context.Context, entityID string, temp float64) error
	SetMode(ctx context.Context, entityID string, kind ModeKind, value string) error
	Capabilities(ctx context.Context, entityID string) (Capabilities, error)
}
