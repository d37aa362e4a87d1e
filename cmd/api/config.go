package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/berfenger/wbec2mqtt/internal/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func initConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {

	// alias PORT => WBEC_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("WBEC_PORT", port)
	}

	setConfigDefaults(v)

	v.SetEnvPrefix("wbec")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			err = v.ReadInConfig()
			if err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg config.Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch v.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	rootTopic, err := config.CheckRootTopic(cfg.MQTT.RootTopic)
	if err != nil {
		return nil, err
	}
	cfg.MQTT.RootTopic = rootTopic

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)
	v.SetDefault("tick_interval_millis", 1000)
	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "wbec")
	v.SetDefault("mqtt.root_topic", "openWB")
	v.SetDefault("mqtt.publish_interval_millis", 30000)
	v.SetDefault("mqtt.reconnect_interval_millis", 5000)
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("modbus.url", "rtu:///dev/ttyUSB0")
	v.SetDefault("modbus.speed", 19200)
	v.SetDefault("modbus.timeout_millis", 500)
	v.SetDefault("boxes", []map[string]any{{"unit_id": 1, "loadpoint": 1}})
	v.SetDefault("pv.active", false)
	v.SetDefault("pv.offset", 0)
	v.SetDefault("pv.phase_factor", 69)
	v.SetDefault("pv.lim_start", 61)
	v.SetDefault("pv.lim_stop", 50)
	v.SetDefault("pv.min_time_minutes", 0)
	v.SetDefault("pv.cycle_time_seconds", 30)
	v.SetDefault("pv.off_current", -1)
	v.SetDefault("pv.invert", false)
	v.SetDefault("current.abs_min", config.DEFAULT_CURR_ABS_MIN)
	v.SetDefault("current.abs_max", config.DEFAULT_CURR_ABS_MAX)
	v.SetDefault("persistence.state_file", "/run/wbec/pv_state.cbor")
	v.SetDefault("diag_log.path", "")
	v.SetDefault("diag_log.min_free_bytes", 512000)
	v.SetDefault("diag_log.max_timestamp", 2085000000)
	v.SetDefault("diag_log.max_bytes", 1048576)
	v.SetDefault("grid_meter.enabled", false)
	v.SetDefault("grid_meter.port", 502)
	v.SetDefault("grid_meter.meter_id", 200)
	v.SetDefault("grid_meter.ignore_fronius", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
