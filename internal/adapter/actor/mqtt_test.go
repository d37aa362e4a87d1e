package actor

import (
	"testing"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/util"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, logger) })
	pid := context.Spawn(props)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_PV_GRID_POWER,
		},
		Value: -245,
	})
	es.Publish(domain.SelectSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SELECT_ID_PV_MODE,
		},
		Value: domain.PV_MODE_NAME_MINPV,
	})

	result, err = context.RequestFuture(pid, domain.PublishMessageRequest{Topic: "openWB/set/lp/1/W", Payload: "0"}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(t, result.(domain.PublishMessageResponse).GetResponseError())

	context.Stop(pid)

	as.Shutdown()
}

func TestMQTTActorWithoutBroker(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MQTT.Host = "127.0.0.1"
	cfg.MQTT.Port = 1

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMQTTActor(&cfg, &es, clock.NewMock(), []string{"openWB/lp/1/AConfigured"}, logger)
	})
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	health := result.(domain.ActorHealthResponse)
	assert.False(t, health.Healthy)
	assert.Equal(t, "disconnected", health.State)

	result, err = context.RequestFuture(pid, domain.PublishMessageRequest{Topic: "openWB/set/lp/1/W", Payload: "0"}, 15*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, result.(domain.PublishMessageResponse).GetResponseError(), domain.ErrTransientIO)

	context.Stop(pid)
	as.Shutdown()
}

func TestEvent2MQTTMessage(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	act := NewTestMQTTActor(&cfg, nil, logger)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return act }))
	_, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)

	msg := act.event2MQTTMessage(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_PV_AVAILABLE_POWER},
		Value:                  1234.56,
		Decimals:               1,
	})
	if assert.NotNil(msg) {
		assert.Equal("wbec/sensor/pv_available_power/state", msg.topic)
		assert.Equal("1234.6", msg.message)
		assert.False(msg.retain)
	}

	msg = act.event2MQTTMessage(domain.SelectSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SELECT_ID_PV_MODE},
		Value:                  domain.PV_MODE_NAME_PV,
	})
	if assert.NotNil(msg) {
		assert.Equal("wbec/select/pv_mode/state", msg.topic)
		assert.Equal("pv", msg.message)
		assert.True(msg.retain, "select state is retained")
	}

	msg = act.event2MQTTMessage(domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "wallbox_0_plugged"},
		Value:                  true,
	})
	if assert.NotNil(msg) {
		assert.Equal("on", msg.message)
	}

	assert.Nil(act.event2MQTTMessage("unknown"))

	as.Root.Stop(pid)
	as.Shutdown()
}
