package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfigYAML = `
log_level: debug
mqtt:
  host: broker.local
  base_topic: WBEC_Garage
  root_topic: /openWB/
boxes:
  - unit_id: 1
    loadpoint: 1
  - unit_id: 2
    loadpoint: 0
pv:
  active: true
  lim_start: 65
  lim_stop: 55
grid_meter:
  enabled: true
  host: 192.168.1.20
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitConfigDefaults(t *testing.T) {

	assert := assert.New(t)

	cfg, err := initConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(zap.WarnLevel, cfg.LogLevel)
	assert.False(cfg.MQTT.Enabled())
	assert.Equal("wbec", cfg.MQTT.BaseTopic)
	assert.Equal("openWB", cfg.MQTT.RootTopic)
	assert.Len(cfg.Boxes, 1)
	assert.Equal(uint8(1), cfg.Boxes[0].UnitId)
	assert.Equal(int32(69), cfg.PV.PhaseFactor)
	assert.Equal(int32(-1), cfg.PV.OffCurrent)
	assert.Equal(uint16(60), cfg.Current.AbsMin)
	assert.Equal("/run/wbec/pv_state.cbor", cfg.Persistence.StateFile)
	assert.Equal(uint(8080), cfg.Port)
}

func TestInitConfigFile(t *testing.T) {

	assert := assert.New(t)

	cfg, err := initConfig(viper.New(), writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(zap.DebugLevel, cfg.LogLevel)
	assert.True(cfg.MQTT.Enabled())
	assert.Equal("wbec_garage", cfg.MQTT.BaseTopic)
	assert.Equal("openWB", cfg.MQTT.RootTopic)
	assert.Equal([]uint8{1, 0}, cfg.Loadpoints())
	assert.True(cfg.PV.Active)
	assert.Equal(int32(65), cfg.PV.LimStart)
	assert.True(cfg.GridMeter.Enabled)
	assert.Equal(uint(502), cfg.GridMeter.Port)
}

func TestInitConfigEnv(t *testing.T) {
	t.Setenv("WBEC_MQTT_HOST", "env-broker")
	t.Setenv("WBEC_PORT", "")
	t.Setenv("PORT", "9090")

	cfg, err := initConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "env-broker", cfg.MQTT.Host)
	assert.Equal(t, uint(9090), cfg.Port)
}

func TestInitConfigInvalid(t *testing.T) {
	_, err := initConfig(viper.New(), writeConfig(t, "mqtt:\n  base_topic: wbec/garage\n"))
	assert.Error(t, err, "base topic with levels")

	_, err = initConfig(viper.New(), writeConfig(t, "pv:\n  lim_start: 40\n  lim_stop: 50\n"))
	assert.Error(t, err, "stop limit above start limit")

	_, err = initConfig(viper.New(), writeConfig(t, "boxes: []\n"))
	assert.Error(t, err, "no boxes")
}
