package mqtt

import (
	"testing"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := selectCommandExtractor("wbec")
	matches := r.FindAllStringSubmatch("wbec/select/pv_mode/set", 1)

	assert.Equal("pv_mode", matches[0][1], "select extract")
	assert.Empty(r.FindAllStringSubmatch("wbec/select/pv_mode/state", 1), "state topic")
	assert.Empty(r.FindAllStringSubmatch("other/wbec/select/pv_mode/set", 1), "anchored")
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := inputNumberCommandExtractor("wbec")
	matches := r.FindAllStringSubmatch("wbec/number/pv_target_box/set", 1)

	assert.Equal("pv_target_box", matches[0][1], "number_id extract")
	assert.Empty(r.FindAllStringSubmatch("wbec/select/pv_target_box/set", 1), "no matches")
}

func TestParseMQTTCommand(t *testing.T) {

	require := require.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	cmd, err := client.ParseMQTTCommand("wbec/select/pv_mode/set", []byte("minpv\n"))
	require.NoError(err)
	require.Equal(ParsedMQTTCommand{DeviceId: domain.SELECT_ID_PV_MODE, Command: MQTT_COMMAND_SELECT, Payload: "minpv"}, *cmd)

	cmd, err = client.ParseMQTTCommand("wbec/number/pv_grid_power_set/set", []byte(" -2300 "))
	require.NoError(err)
	require.Equal(ParsedMQTTCommand{DeviceId: domain.INPUT_NUMBER_ID_PV_GRID_POWER, Command: MQTT_COMMAND_NUMBER, Payload: "-2300"}, *cmd)

	_, err = client.ParseMQTTCommand("wbec/number/pv_target_box/set", []byte("one"))
	require.Error(err)

	_, err = client.ParseMQTTCommand("wbec/sensor/pv_grid_power/state", []byte("1"))
	require.Error(err)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	assert.Equal("wbec/bridge/state", client.BridgeStateTopic())
	assert.Equal("wbec/select/pv_mode/state", client.SelectStateTopic(domain.SELECT_ID_PV_MODE))
	assert.Equal([]string{"wbec/#", "openWB/lp/1/AConfigured"}, client.CommandTopics("openWB/lp/1/AConfigured"))
	assert.Equal("homeassistant", client.DiscoveryPrefix())
}

func TestOptsFromConfig(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	opts := OptsFromConfig(&cfg)

	assert.False(opts.AutoReconnect)
	assert.False(opts.ConnectRetry)
	assert.True(opts.WillEnabled)
	assert.True(opts.WillRetained)
	assert.Equal("wbec/bridge/state", opts.WillTopic)
	assert.Equal([]byte(MQTT_PAYLOAD_OFFLINE), opts.WillPayload)
	assert.Regexp("^wbec_[0-9a-f]{4}$", opts.ClientID)
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
	dev := domain.BridgeDevice("wbec")

	sel := domain.PvSelects(dev)[0]
	msg := GenericSelectToHADiscoveryMessage(client, sel)
	assert.Equal("wbec/select/pv_mode/set", msg.CommandTopic)
	assert.Equal(domain.PvModeNames(), msg.Options)
	assert.Equal("homeassistant/select/"+dev.Id+"/pv_mode/config", client.HADiscoverySelectTopic(sel))

	bridge := GenericSensorToHADiscoveryMessage(client, domain.BridgeSensors(dev)[0])
	assert.Equal("wbec/bridge/state", bridge.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)

	number := GenericInputNumberToHADiscoveryMessage(client, domain.PvInputNumbers(dev, 2)[0])
	assert.Equal(0.0, *number.Min)
	assert.Equal(1.0, *number.Max)
}
