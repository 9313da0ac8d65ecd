// Package monitor runs the scheduler: the reconciliation loop, the
// management API, the metrics endpoint and the notifiers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/climate-tools/climate-scheduler/internal/actuator"
	"github.com/climate-tools/climate-scheduler/internal/api"
	"github.com/climate-tools/climate-scheduler/internal/coordinator"
	"github.com/climate-tools/climate-scheduler/internal/health"
	"github.com/climate-tools/climate-scheduler/internal/notifier"
	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "runs the climate scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cmd.Root().Version, viper.GetViper())
	},
}

func run(ctx context.Context, version string, v *viper.Viper) error {
	logger := makeLogger(v)
	logger.Info("climate-scheduler starting", "version", version)
	defer logger.Info("climate-scheduler stopped")

	m, err := makeTaskManager(v, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

func makeLogger(v *viper.Viper) *slog.Logger {
	var opts slog.HandlerOptions
	if v.GetBool("debug") {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &opts))
}

func makeTaskManager(v *viper.Viper, registerer prometheus.Registerer, logger *slog.Logger) (*taskmanager.Manager, error) {
	fileStore, err := store.New(v.GetString("storage.path"), logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	reg, err := registry.New(fileStore, logger.With("component", "registry"))
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if err = maybeSeed(reg, v.GetString("storage.seed")); err != nil {
		return nil, err
	}
	ledger, err := overrides.New(fileStore, logger.With("component", "overrides"))
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}

	devices := actuator.NewHomeAssistantClient(v.GetString("homeassistant.url"), v.GetString("homeassistant.token"))
	coord := coordinator.New(reg, ledger, devices, fileStore,
		v.GetDuration("scheduler.interval"),
		coordinator.NewMetrics(registerer),
		logger.With("component", "coordinator"),
	)

	notifiers, err := makeNotifiers(v, logger)
	if err != nil {
		return nil, err
	}
	listener := notifier.Listener{Events: coord.Publisher, Notifiers: notifiers}

	h := health.Health{Coordinator: coord, Logger: logger.With("component", "health")}
	server := api.New(reg, coord, ledger, fileStore, &h, logger.With("component", "api"))

	return taskmanager.New(
		coord,
		&listener,
		httpserver.New(v.GetString("scheduler.addr"), server),
		promserver.New(promserver.WithAddr(v.GetString("prometheus.addr"))),
	), nil
}

// maybeSeed applies a YAML seed file to an empty registry. A missing seed
// file is not an error.
func maybeSeed(reg *registry.Registry, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err = reg.Bootstrap(f); err != nil {
		return fmt.Errorf("seed file: %w", err)
	}
	return nil
}

func makeNotifiers(v *viper.Viper, logger *slog.Logger) (notifier.Notifiers, error) {
	notifiers := notifier.Notifiers{
		&notifier.SLogNotifier{Logger: logger.With("component", "notifier")},
	}
	if token := v.GetString("slack.token"); token != "" {
		notifiers = append(notifiers, &notifier.SlackNotifier{
			Sender:  slack.New(token),
			Channel: v.GetString("slack.channel"),
			Logger:  logger.With("component", "slack"),
		})
	}
	if broker := v.GetString("mqtt.broker"); broker != "" {
		client, err := notifier.Connect(broker, "climate-scheduler")
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		notifiers = append(notifiers, &notifier.MQTTNotifier{
			Publisher: client,
			Logger:    logger.With("component", "mqtt"),
		})
	}
	return notifiers, nil
}
