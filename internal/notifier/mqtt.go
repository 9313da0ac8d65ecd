package notifier

import (
	"encoding/json"
	"log/slog"

	"github.com/climate-tools/climate-scheduler/internal/coordinator"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var _ Notifier = &MQTTNotifier{}

// MQTTNotifier publishes events as JSON to climate/scheduler/events/<entity>,
// so home automation flows can react to schedule changes.
type MQTTNotifier struct {
	Publisher MQTTPublisher
	Logger    *slog.Logger
}

type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

const eventTopicPrefix = "climate/scheduler/events/"

func (m *MQTTNotifier) Notify(event coordinator.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.Logger.Error("failed to encode mqtt notification", "err", err)
		return
	}
	token := m.Publisher.Publish(eventTopicPrefix+event.EntityID, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		m.Logger.Error("failed to publish mqtt notification", "err", token.Error())
	}
}

// Connect dials the broker and returns a client ready to publish.
func Connect(brokerURL, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}
