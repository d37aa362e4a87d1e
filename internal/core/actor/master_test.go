package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/wbec2mqtt/internal/adapter/actor"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/persistence"
	"github.com/berfenger/wbec2mqtt/internal/util"
	"github.com/berfenger/wbec2mqtt/pkg/mbreader"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	wallbox := mbreader.CreateTestWallboxModbusReader(1, 2)
	store := persistence.NewFileControlStateStore(afero.NewMemMapFs(), cfg.Persistence.StateFile)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.ModbusActor {
			return adactor.NewModbusActor(cfg.Boxes, wallbox, mbreader.TestGridMeterModbusReader{PowerWatt: -2000}, nil, logger)
		}, func(eventStream *eventstream.EventStream, _ []string) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, eventStream, logger)
		}, func(modbusActor, mqttActor *actor.PID, eventStream *eventstream.EventStream) *ChargeControlActor {
			return NewChargeControlActor(&cfg, modbusActor, mqttActor, eventStream, store, nil, nil, clock.NewMock(), logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	// control requests are routed to the charge control actor
	res, err = context.RequestFuture(pid, domain.SetPvModeRequest{Mode: domain.PvModeMinPV}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, domain.PvModeMinPV, res.(domain.SetPvModeResponse).Mode)

	res, err = context.RequestFuture(pid, domain.GetPvStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	state := res.(domain.GetPvStateResponse)
	assert.Equal(t, domain.PvModeMinPV, state.State.Mode)
	assert.Equal(t, int32(-2000), state.GridPower, "grid meter is polled on control ticks")

	// firmware update suspends the ticks and shows in the health state
	res, err = context.RequestFuture(pid, domain.FirmwareUpdateRequest{Active: true}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.FirmwareUpdateResponse).Active)

	res, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, "firmware_update", res.(domain.ActorHealthResponse).State)

	context.Stop(pid)

	as.Shutdown()
}
