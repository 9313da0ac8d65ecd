// Package notifier forwards coordinator events to one or more channels: the
// log, Slack, MQTT.
package notifier

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/climate-tools/climate-scheduler/internal/coordinator"
)

type Notifier interface {
	Notify(event coordinator.Event)
}

var _ Notifier = Notifiers{}

// Notifiers sends a notification to multiple notifiers.
type Notifiers []Notifier

func (n Notifiers) Notify(event coordinator.Event) {
	for _, notifier := range n {
		notifier.Notify(event)
	}
}

var _ Notifier = &SLogNotifier{}

// SLogNotifier sends a notification to the logger.
type SLogNotifier struct {
	Logger *slog.Logger
}

func (s *SLogNotifier) Notify(event coordinator.Event) {
	s.Logger.Info(describe(event),
		slog.String("entity", event.EntityID),
		slog.String("group", event.GroupName),
		slog.String("trigger", string(event.Trigger)),
	)
}

// describe renders an event as a one-line human-readable message.
func describe(event coordinator.Event) string {
	var parts []string
	node := event.Node
	if node.HVACMode == "off" {
		parts = append(parts, "turned off")
	} else {
		if node.Temp != nil {
			parts = append(parts, fmt.Sprintf("set to %.1f°", *node.Temp))
		}
		for _, mode := range []string{node.HVACMode, node.FanMode, node.SwingMode, node.PresetMode} {
			if mode != "" {
				parts = append(parts, mode)
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no change")
	}
	verb := "schedule applied"
	if event.Trigger == coordinator.TriggerManualAdvance {
		verb = "schedule advanced"
	}
	return event.EntityID + ": " + verb + " (" + strings.Join(parts, ", ") + ")"
}
