// Package cmd implements the climate-scheduler command line interface.
package cmd

import (
	"log/slog"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/climate-tools/climate-scheduler/internal/cmd/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "climate-scheduler",
		Short: "schedule-driven climate control for Home Assistant",
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&monitor.Cmd)
}

var args = charmer.Arguments{
	"debug":               charmer.Argument{Default: false, Help: "Log debug messages"},
	"scheduler.interval":  charmer.Argument{Default: time.Minute, Help: "Reconciliation interval"},
	"scheduler.addr":      charmer.Argument{Default: ":8080", Help: "Address of the management API"},
	"prometheus.addr":     charmer.Argument{Default: ":9090", Help: "Address of the Prometheus metrics endpoint"},
	"storage.path":        charmer.Argument{Default: "/var/lib/climate-scheduler/state.json", Help: "State file path"},
	"storage.seed":        charmer.Argument{Default: "", Help: "YAML seed file, applied when the registry is empty"},
	"homeassistant.url":   charmer.Argument{Default: "http://localhost:8123", Help: "Home Assistant base URL"},
	"homeassistant.token": charmer.Argument{Default: "", Help: "Home Assistant long-lived access token"},
	"slack.token":         charmer.Argument{Default: "", Help: "Slack token (empty: no Slack notifications)"},
	"slack.channel":       charmer.Argument{Default: "", Help: "Slack channel for notifications"},
	"mqtt.broker":         charmer.Argument{Default: "", Help: "MQTT broker URL (empty: no MQTT notifications)"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/climate-scheduler/")
		viper.AddConfigPath("$HOME/.climate-scheduler")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("CLIMATE_SCHEDULER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Warn("failed to read config file", "err", err)
	}
}
