package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/go-resty/resty/v2"
)

// HomeAssistantClient drives climate entities through the Home Assistant REST
// API. Calls are not retried: the coordinator re-applies state on the next
// tick anyway.
type HomeAssistantClient struct {
	client *resty.Client
}

const defaultCallTimeout = 10 * time.Second

func NewHomeAssistantClient(baseURL, token string) *HomeAssistantClient {
	return &HomeAssistantClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetTimeout(defaultCallTimeout),
	}
}

func (c *HomeAssistantClient) callService(ctx context.Context, service string, body any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/services/climate/" + service)
	if err != nil {
		return fmt.Errorf("climate.%s: %w", service, err)
	}
	if resp.IsError() {
		return fmt.Errorf("climate.%s: %s", service, resp.Status())
	}
	return nil
}

func (c *HomeAssistantClient) TurnOff(ctx context.Context, entityID string) error {
	return c.callService(ctx, "turn_off", map[string]string{"entity_id": entityID})
}

func (c *HomeAssistantClient) SetTemperature(ctx context.Context, entityID string, temp float64) error {
	return c.callService(ctx, "set_temperature", map[string]any{
		"entity_id":   entityID,
		"temperature": temp,
	})
}

func (c *HomeAssistantClient) SetMode(ctx context.Context, entityID string, kind ModeKind, value string) error {
	return c.callService(ctx, "set_"+string(kind), map[string]string{
		"entity_id":  entityID,
		string(kind): value,
	})
}

type stateResponse struct {
	Attributes struct {
		CurrentTemperature *float64 `json:"current_temperature"`
		HVACModes          []string `json:"hvac_modes"`
		FanModes           []string `json:"fan_modes"`
		SwingModes         []string `json:"swing_modes"`
		PresetModes        []string `json:"preset_modes"`
	} `json:"attributes"`
}

func (c *HomeAssistantClient) Capabilities(ctx context.Context, entityID string) (Capabilities, error) {
	var state stateResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&state).
		Get("/api/states/" + entityID)
	if err != nil {
		return Capabilities{}, fmt.Errorf("get state %s: %w", entityID, err)
	}
	if resp.IsError() {
		return Capabilities{}, fmt.Errorf("get state %s: %s", entityID, resp.Status())
	}
	return Capabilities{
		HasTemperatureSensor: state.Attributes.CurrentTemperature != nil,
		HVACModes:            set.New(state.Attributes.HVACModes...),
		FanModes:             set.New(state.Attributes.FanModes...),
		SwingModes:           set.New(state.Attributes.SwingModes...),
		PresetModes:          set.New(state.Attributes.PresetModes...),
	}, nil
}
