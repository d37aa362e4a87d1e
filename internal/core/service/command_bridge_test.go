package service

import (
	"testing"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBridge(loadpoints []uint8) (*CommandBridge, *SnapshotRegistry, *recordingWriter) {
	writer := &recordingWriter{}
	registry := NewSnapshotRegistry(len(loadpoints), testCurrentConfig(), writer)
	return NewCommandBridge("openWB", loadpoints, testCurrentConfig(), registry, zap.NewNop()), registry, writer
}

func TestBridgeSubscriptionTopics(t *testing.T) {

	bridge, _, _ := newTestBridge([]uint8{1, 0, 2})

	assert.Equal(t, []string{"openWB/lp/1/AConfigured", "openWB/lp/2/AConfigured"}, bridge.SubscriptionTopics())
}

func TestBridgeApplyWritesDeciAmps(t *testing.T) {

	require := require.New(t)

	bridge, _, writer := newTestBridge([]uint8{1, 2})

	require.NoError(bridge.Apply(domain.ExternalCommand{LoadpointId: 2, RequestedAmps: 6}))
	require.NoError(bridge.Apply(domain.ExternalCommand{LoadpointId: 2, RequestedAmps: 0}))
	require.NoError(bridge.Apply(domain.ExternalCommand{LoadpointId: 1, RequestedAmps: 16}))

	require.Equal([]currentWrite{
		{boxId: 1, deciAmps: 60, source: domain.WRITE_SOURCE_BRIDGE},
		{boxId: 1, deciAmps: 0, source: domain.WRITE_SOURCE_BRIDGE},
		{boxId: 0, deciAmps: 160, source: domain.WRITE_SOURCE_BRIDGE},
	}, writer.writes)
}

func TestBridgeApplyRejectsOutOfRange(t *testing.T) {

	require := require.New(t)

	bridge, _, writer := newTestBridge([]uint8{1, 2})

	for _, amps := range []int{5, 17, 20, 200, -1, 1 << 40} {
		err := bridge.Apply(domain.ExternalCommand{LoadpointId: 2, RequestedAmps: amps})
		require.ErrorIs(err, domain.ErrValidationRejected, "amps %d", amps)
	}
	require.Empty(writer.writes)
}

func TestBridgeApplyLowerAbsMin(t *testing.T) {

	cfg := config.CurrentConfig{AbsMin: 50, AbsMax: config.DEFAULT_CURR_ABS_MAX}
	writer := &recordingWriter{}
	registry := NewSnapshotRegistry(2, cfg, writer)
	bridge := NewCommandBridge("openWB", []uint8{1, 2}, cfg, registry, zap.NewNop())

	require.NoError(t, bridge.Apply(domain.ExternalCommand{LoadpointId: 2, RequestedAmps: 5}))

	assert.Equal(t, []currentWrite{{boxId: 1, deciAmps: 50, source: domain.WRITE_SOURCE_BRIDGE}}, writer.writes)
}

func TestBridgeApplyUnmappedLoadpoint(t *testing.T) {

	bridge, _, writer := newTestBridge([]uint8{1, 2})

	err := bridge.Apply(domain.ExternalCommand{LoadpointId: 3, RequestedAmps: 6})

	require.ErrorIs(t, err, domain.ErrValidationRejected)
	assert.Empty(t, writer.writes)
}

func TestBridgeApplyFirstMatchingBox(t *testing.T) {

	bridge, _, writer := newTestBridge([]uint8{0, 4, 4})

	require.NoError(t, bridge.Apply(domain.ExternalCommand{LoadpointId: 4, RequestedAmps: 10}))

	assert.Equal(t, []currentWrite{{boxId: 1, deciAmps: 100, source: domain.WRITE_SOURCE_BRIDGE}}, writer.writes)
}

func TestBridgeTelemetry(t *testing.T) {

	require := require.New(t)

	bridge, registry, _ := newTestBridge([]uint8{1, 0})
	registry.Update(domain.ChargePointSnapshot{
		BoxId:         0,
		Status:        7,
		PowerWatt:     4140,
		PhaseVoltages: [3]uint16{230, 231, 229},
		PhaseCurrents: [3]uint16{60, 61, 0},
		EnergyHigh:    0,
		EnergyLow:     1000,
		Valid:         true,
	})
	registry.Update(domain.ChargePointSnapshot{BoxId: 1, Status: 7, Valid: true})

	pubs := bridge.Telemetry()

	expected := []domain.Publication{
		{Topic: "openWB/set/lp/1/plugStat", Payload: "1", Retain: true},
		{Topic: "openWB/set/lp/1/chargeStat", Payload: "1", Retain: true},
		{Topic: "openWB/set/lp/1/W", Payload: "4140", Retain: true},
		{Topic: "openWB/set/lp/1/kWhCounter", Payload: "1.000", Retain: true},
		{Topic: "openWB/set/lp/1/VPhase1", Payload: "230", Retain: true},
		{Topic: "openWB/set/lp/1/VPhase2", Payload: "231", Retain: true},
		{Topic: "openWB/set/lp/1/VPhase3", Payload: "229", Retain: true},
		{Topic: "openWB/set/lp/1/APhase1", Payload: "6.0", Retain: true},
		{Topic: "openWB/set/lp/1/APhase2", Payload: "6.1", Retain: true},
		{Topic: "openWB/set/lp/1/APhase3", Payload: "0.0", Retain: true},
	}
	require.Equal(expected, pubs)
}

func TestBridgeTelemetrySkipsNeverPolledBoxes(t *testing.T) {

	bridge, _, _ := newTestBridge([]uint8{1, 2})

	assert.Empty(t, bridge.Telemetry())
}

func TestPlugAndChargeState(t *testing.T) {

	cases := map[uint16][2]string{
		0: {"0", "0"},
		2: {"0", "0"},
		3: {"0", "0"},
		4: {"1", "0"},
		5: {"1", "0"},
		6: {"1", "0"},
		7: {"1", "1"},
		8: {"0", "0"},
		9: {"0", "0"},
	}
	for status, expected := range cases {
		plug, charge := plugAndChargeState(status)
		assert.Equal(t, expected[0], plug, "plugStat of status %d", status)
		assert.Equal(t, expected[1], charge, "chargeStat of status %d", status)
	}
}

func TestTelemetryFormatting(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("0.000", formatKWh(0))
	assert.Equal("1.000", formatKWh(1000))
	assert.Equal("65.537", formatKWh(uint32(1)<<16|1))
	assert.Equal("4294967.295", formatKWh(^uint32(0)))
	assert.Equal("0.0", formatDeciAmps(0))
	assert.Equal("16.0", formatDeciAmps(160))
	assert.Equal("6.5", formatDeciAmps(65))
}
