package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Hardware limits of the charge point in deci-amps (6 A .. 16 A).
const (
	DEFAULT_CURR_ABS_MIN = 60
	DEFAULT_CURR_ABS_MAX = 160
)

type Config struct {
	LogLevel           zapcore.Level
	MQTT               MQTTConfig        `mapstructure:"mqtt"`
	Modbus             ModbusConfig      `mapstructure:"modbus"`
	Boxes              []BoxConfig       `mapstructure:"boxes"`
	PV                 PVConfig          `mapstructure:"pv"`
	Current            CurrentConfig     `mapstructure:"current"`
	Persistence        PersistenceConfig `mapstructure:"persistence"`
	DiagLog            DiagLogConfig     `mapstructure:"diag_log"`
	GridMeter          GridMeterConfig   `mapstructure:"grid_meter"`
	TickIntervalMillis uint32            `mapstructure:"tick_interval_millis"`
	Port               uint              `mapstructure:"port"`
	HttpLog            bool              `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host                    string
	Port                    int
	Username                string
	Password                string
	BaseTopic               string `mapstructure:"base_topic"`
	RootTopic               string `mapstructure:"root_topic"`
	PublishIntervalMillis   uint32 `mapstructure:"publish_interval_millis"`
	ReconnectIntervalMillis uint32 `mapstructure:"reconnect_interval_millis"`
	HADiscoveryEnable       bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic        string `mapstructure:"ha_discovery_topic"`
}

// Enabled reports whether a broker is configured. Without a host the bridge stays inert.
func (c MQTTConfig) Enabled() bool {
	return c.Host != ""
}

type ModbusConfig struct {
	URL           string
	Speed         uint
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

// BoxConfig describes one charge point on the modbus. Loadpoint 0 means
// the box is not mapped to an external loadpoint.
type BoxConfig struct {
	UnitId    uint8 `mapstructure:"unit_id"`
	Loadpoint uint8 `mapstructure:"loadpoint"`
}

type PVConfig struct {
	Active           bool
	Offset           int32
	PhaseFactor      int32  `mapstructure:"phase_factor"`
	LimStart         int32  `mapstructure:"lim_start"`
	LimStop          int32  `mapstructure:"lim_stop"`
	MinTimeMinutes   uint32 `mapstructure:"min_time_minutes"`
	CycleTimeSeconds uint32 `mapstructure:"cycle_time_seconds"`
	// OffCurrent is written on the transition to mode off. Values outside
	// {0} and the absolute bounds disable the feature.
	OffCurrent int32 `mapstructure:"off_current"`
	Invert     bool
}

type CurrentConfig struct {
	AbsMin uint16 `mapstructure:"abs_min"`
	AbsMax uint16 `mapstructure:"abs_max"`
}

type PersistenceConfig struct {
	StateFile string `mapstructure:"state_file"`
}

type DiagLogConfig struct {
	Path         string
	MinFreeBytes uint64 `mapstructure:"min_free_bytes"`
	MaxTimestamp int64  `mapstructure:"max_timestamp"`
	MaxBytes     int64  `mapstructure:"max_bytes"`
}

type GridMeterConfig struct {
	Enabled       bool
	Host          string
	Port          uint
	MeterId       uint `mapstructure:"meter_id"`
	IgnoreFronius bool `mapstructure:"ignore_fronius"`
}

// Loadpoints returns the loadpoint id of every box, indexed by box id.
func (c Config) Loadpoints() []uint8 {
	lps := make([]uint8, len(c.Boxes))
	for i, b := range c.Boxes {
		lps[i] = b.Loadpoint
	}
	return lps
}

func (c Config) Validate() error {
	if len(c.Boxes) == 0 {
		return errors.New("config param boxes must contain at least one box")
	}
	if len(c.Boxes) > 16 {
		return errors.New("config param boxes supports at most 16 boxes")
	}
	if c.Current.AbsMin == 0 || c.Current.AbsMin > c.Current.AbsMax {
		return fmt.Errorf("config params current.abs_min (%d) and current.abs_max (%d) are inconsistent",
			c.Current.AbsMin, c.Current.AbsMax)
	}
	if c.PV.LimStop > c.PV.LimStart {
		return errors.New("config param pv.lim_stop must be <= pv.lim_start")
	}
	if c.PV.PhaseFactor < 0 {
		return errors.New("config param pv.phase_factor must be >= 0")
	}
	if c.TickIntervalMillis < 100 {
		return errors.New("config param tick_interval_millis should be >= 100")
	}
	if c.MQTT.Enabled() && c.MQTT.ReconnectIntervalMillis < 1000 {
		return errors.New("config param mqtt.reconnect_interval_millis should be >= 1000")
	}
	if c.MQTT.Enabled() && c.MQTT.PublishIntervalMillis < 1000 {
		return errors.New("config param mqtt.publish_interval_millis should be >= 1000")
	}
	if c.Persistence.StateFile == "" {
		return errors.New("config param persistence.state_file must not be empty")
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckRootTopic validates the external energy-management root topic. Unlike
// the bridge base topic it keeps its case (openWB) and may span several levels.
func CheckRootTopic(rootTopic string) (string, error) {
	trimmed := strings.Trim(rootTopic, "/")
	rootTopicRegexp := regexp.MustCompile("^[A-Za-z0-9_]+(/[A-Za-z0-9_]+)*$")
	if !rootTopicRegexp.MatchString(trimmed) {
		return "", errors.New("invalid root topic. levels can only contain letters, numbers and underscores")
	}
	return trimmed, nil
}
