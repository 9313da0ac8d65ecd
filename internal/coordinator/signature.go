package coordinator

import (
	"github.com/climate-tools/climate-scheduler/internal/actuator"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/climate-tools/climate-scheduler/internal/store"
)

// A Signature captures the device-visible state a node resolves to, after
// clamping and capability checks. Two nodes with the same signature need no
// re-actuation; comparison is plain struct equality.
type Signature struct {
	Temp       float64
	HasTemp    bool
	HVACMode   string
	FanMode    string
	SwingMode  string
	PresetMode string
}

func signatureFor(node schedule.Node, caps actuator.Capabilities, bounds store.Settings) Signature {
	sig := Signature{
		HVACMode:   node.HVACMode,
		FanMode:    node.FanMode,
		SwingMode:  node.SwingMode,
		PresetMode: node.PresetMode,
	}
	if node.Temp != nil && !node.NoChange && caps.HasTemperatureSensor {
		sig.HasTemp = true
		sig.Temp = schedule.Clamp(*node.Temp, bounds.MinTemp, bounds.MaxTemp)
	}
	return sig
}
