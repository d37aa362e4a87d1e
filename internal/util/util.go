package util

import (
	"github.com/berfenger/wbec2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:                    "localhost",
			Port:                    1883,
			BaseTopic:               "wbec",
			RootTopic:               "openWB",
			PublishIntervalMillis:   30000,
			ReconnectIntervalMillis: 5000,
		},
		Modbus: config.ModbusConfig{
			URL:           "rtu:///dev/ttyUSB0",
			Speed:         19200,
			TimeoutMillis: 500,
		},
		Boxes: []config.BoxConfig{
			{UnitId: 1, Loadpoint: 1},
			{UnitId: 2, Loadpoint: 2},
		},
		PV: config.PVConfig{
			Active:           true,
			PhaseFactor:      69,
			LimStart:         61,
			LimStop:          50,
			CycleTimeSeconds: 30,
			OffCurrent:       -1,
		},
		Current: config.CurrentConfig{
			AbsMin: config.DEFAULT_CURR_ABS_MIN,
			AbsMax: config.DEFAULT_CURR_ABS_MAX,
		},
		Persistence: config.PersistenceConfig{
			StateFile: "/run/wbec/pv_state.cbor",
		},
		DiagLog: config.DiagLogConfig{
			Path:         "/var/lib/wbec/pv.txt",
			MinFreeBytes: 512000,
			MaxTimestamp: 2085000000,
		},
		TickIntervalMillis: 1000,
		Port:               8080,
	}
}
