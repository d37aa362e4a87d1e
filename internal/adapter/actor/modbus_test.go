package actor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"
	"github.com/berfenger/wbec2mqtt/pkg/mbreader"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testBoxes = []config.BoxConfig{
	{UnitId: 1, Loadpoint: 1},
	{UnitId: 2, Loadpoint: 0},
}

func spawnTestModbusActor(t *testing.T, wallbox mbreader.WallboxModbusReader, gridMeter mbreader.GridMeterModbusReader,
	opts ...func(*ModbusActor)) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		act := NewModbusActor(testBoxes, wallbox, gridMeter, nil, logger)
		for _, opt := range opts {
			opt(act)
		}
		return act
	})
	pid := as.Root.Spawn(props)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func TestGetDevicesInfoModbusActor(t *testing.T) {

	assert := assert.New(t)

	wallbox := mbreader.CreateTestWallboxModbusReader(1, 2)
	as, pid := spawnTestModbusActor(t, wallbox, mbreader.TestGridMeterModbusReader{PowerWatt: 120})

	result, err := as.Root.RequestFuture(pid, domain.GetDevicesInfoRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetDevicesInfoResponse)

	assert.NoError(resp.GetResponseError())
	assert.Len(resp.Boxes, 2)
	assert.Equal(uint8(1), resp.Boxes[0].UnitId)
	assert.Equal(uint8(1), resp.Boxes[0].Loadpoint)
	assert.Equal(uint16(0x0108), resp.Boxes[0].LayoutVersion)
	assert.Equal(uint16(6), resp.Boxes[1].HwMinCurrent)
	assert.Equal(uint16(16), resp.Boxes[1].HwMaxCurrent)
	if assert.NotNil(resp.GridMeter) {
		assert.Equal("Fronius", resp.GridMeter.Manufacturer, "grid meter manufacturer")
		assert.Equal("Smart Meter TS 65A-3", resp.GridMeter.Model, "grid meter model")
	}
}

func TestPollBoxesModbusActor(t *testing.T) {

	assert := assert.New(t)

	wallbox := mbreader.CreateTestWallboxModbusReader(1, 2)
	wallbox.SetStatus(1, 7, 4100)
	wallbox.SetFailing(2, true)
	as, pid := spawnTestModbusActor(t, wallbox, mbreader.TestGridMeterModbusReader{PowerWatt: -1234.6})

	result, err := as.Root.RequestFuture(pid, domain.PollBoxesRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.PollBoxesResponse)

	assert.Len(resp.Snapshots, 2)
	assert.True(resp.Snapshots[0].Valid)
	assert.Equal(uint16(7), resp.Snapshots[0].Status)
	assert.Equal(uint16(4100), resp.Snapshots[0].PowerWatt)
	assert.False(resp.Snapshots[1].Valid, "failed box is reported invalid")
	assert.Equal(uint8(1), resp.Snapshots[1].BoxId)
	if assert.NotNil(resp.GridPowerWatt) {
		assert.Equal(int32(-1235), *resp.GridPowerWatt)
	}
}

func TestPollBoxesWithoutGridMeter(t *testing.T) {

	wallbox := mbreader.CreateTestWallboxModbusReader(1, 2)
	as, pid := spawnTestModbusActor(t, wallbox, nil)

	result, err := as.Root.RequestFuture(pid, domain.PollBoxesRequest{}, 15*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.PollBoxesResponse)

	assert.Nil(t, resp.GridPowerWatt)
	assert.True(t, resp.Snapshots[1].Valid)
}

func TestWriteCurrentLimitModbusActor(t *testing.T) {

	assert := assert.New(t)

	wallbox := mbreader.CreateTestWallboxModbusReader(1, 2)
	as, pid := spawnTestModbusActor(t, wallbox, nil)

	result, err := as.Root.RequestFuture(pid, domain.WriteCurrentLimitRequest{BoxId: 1, DeciAmps: 100, Source: domain.WRITE_SOURCE_PV}, 15*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.WriteCurrentLimitResponse)
	assert.NoError(resp.GetResponseError())
	assert.Equal(uint8(1), resp.BoxId)
	assert.Equal([]mbreader.TestCurrentWrite{{UnitId: 2, DeciAmps: 100}}, wallbox.Writes())

	result, err = as.Root.RequestFuture(pid, domain.WriteCurrentLimitRequest{BoxId: 5, DeciAmps: 100}, 15*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(result.(domain.WriteCurrentLimitResponse).GetResponseError(), domain.ErrValidationRejected)

	wallbox.SetFailing(1, true)
	result, err = as.Root.RequestFuture(pid, domain.WriteCurrentLimitRequest{BoxId: 0, DeciAmps: 60}, 15*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(result.(domain.WriteCurrentLimitResponse).GetResponseError(), domain.ErrTransientIO)
	assert.Len(wallbox.Writes(), 1)
}

func TestModbusActorHealth(t *testing.T) {

	as, pid := spawnTestModbusActor(t, mbreader.CreateTestWallboxModbusReader(1, 2), nil)

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_MODBUS, resp.Id)
}

// slowWallboxBus delays reads of one unit and records how many bus accesses
// overlap.
type slowWallboxBus struct {
	*mbreader.TestWallboxModbusReader
	slowUnit  uint8
	delay     time.Duration
	active    atomic.Int32
	maxActive atomic.Int32
	mu        sync.Mutex
	ops       []string
}

func (bus *slowWallboxBus) enter(op string) {
	n := bus.active.Add(1)
	for {
		m := bus.maxActive.Load()
		if n <= m || bus.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	bus.mu.Lock()
	bus.ops = append(bus.ops, op)
	bus.mu.Unlock()
}

func (bus *slowWallboxBus) leave() {
	bus.active.Add(-1)
}

func (bus *slowWallboxBus) Ops() []string {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return append([]string(nil), bus.ops...)
}

func (bus *slowWallboxBus) ReadWallbox(unitId uint8) (*mbreader.WallboxRegisters, error) {
	bus.enter(fmt.Sprintf("read:%d", unitId))
	defer bus.leave()
	if unitId == bus.slowUnit {
		time.Sleep(bus.delay)
	}
	return bus.TestWallboxModbusReader.ReadWallbox(unitId)
}

func (bus *slowWallboxBus) WriteCurrentLimit(unitId uint8, deciAmps uint16) error {
	bus.enter(fmt.Sprintf("write:%d", unitId))
	defer bus.leave()
	return bus.TestWallboxModbusReader.WriteCurrentLimit(unitId, deciAmps)
}

func TestTimedOutPollKeepsBusUntilDone(t *testing.T) {

	assert := assert.New(t)

	bus := &slowWallboxBus{
		TestWallboxModbusReader: mbreader.CreateTestWallboxModbusReader(1, 2),
		slowUnit:                1,
		delay:                   600 * time.Millisecond,
	}
	as, pid := spawnTestModbusActor(t, bus, nil, func(act *ModbusActor) {
		act.taskTimeout = 200 * time.Millisecond
	})

	pollFuture := as.Root.RequestFuture(pid, domain.PollBoxesRequest{}, 5*time.Second)
	healthFuture := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second)
	writeFuture := as.Root.RequestFuture(pid, domain.WriteCurrentLimitRequest{BoxId: 0, DeciAmps: 80, Source: domain.WRITE_SOURCE_BRIDGE}, 5*time.Second)

	result, err := pollFuture.Result()
	require.NoError(t, err)
	assert.Error(result.(domain.PollBoxesResponse).GetResponseError(), "poll answered with timeout")

	result, err = healthFuture.Result()
	require.NoError(t, err)
	assert.Equal("busy", result.(domain.ActorHealthResponse).State)

	result, err = writeFuture.Result()
	require.NoError(t, err)
	assert.NoError(result.(domain.WriteCurrentLimitResponse).GetResponseError())

	assert.Equal(int32(1), bus.maxActive.Load(), "bus accesses never overlap")
	assert.Equal([]string{"read:1", "read:2", "write:1"}, bus.Ops())
	assert.Equal([]mbreader.TestCurrentWrite{{UnitId: 1, DeciAmps: 80}}, bus.Writes())
}
