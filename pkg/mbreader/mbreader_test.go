package mbreader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWallboxRegisters(t *testing.T) {

	require := require.New(t)

	input := []uint16{
		0x0108,    // layout
		7,         // status
		60, 61, 0, // currents
		0xFF9C,        // -10.0 °C
		230, 231, 229, // voltages
		1,      // lock
		4140,   // power
		0, 500, // energy since power-on
		0x0001, 0x0002, // energy since install
	}
	regs, err := DecodeWallboxRegisters(input, []uint16{16, 6}, 100)
	require.NoError(err)

	require.EqualValues(0x0108, regs.LayoutVersion)
	require.EqualValues(7, regs.Status)
	require.Equal([3]uint16{60, 61, 0}, regs.PhaseCurrents)
	require.EqualValues(-100, regs.Temperature)
	require.Equal([3]uint16{230, 231, 229}, regs.PhaseVoltages)
	require.EqualValues(1, regs.ExternalLock)
	require.EqualValues(4140, regs.PowerWatt)
	require.EqualValues(500, regs.EnergyPowerOn)
	require.EqualValues(1, regs.EnergyHigh)
	require.EqualValues(2, regs.EnergyLow)
	require.EqualValues(16, regs.HwMaxCurrent)
	require.EqualValues(6, regs.HwMinCurrent)
	require.EqualValues(100, regs.CurrentLimit)
}

func TestDecodeWallboxRegistersShortRead(t *testing.T) {

	_, err := DecodeWallboxRegisters(make([]uint16, 14), []uint16{16, 6}, 0)
	assert.Error(t, err)

	_, err = DecodeWallboxRegisters(make([]uint16, WALLBOX_REG_INPUT_COUNT), []uint16{16}, 0)
	assert.Error(t, err)
}

func TestApplyScaleFactor(t *testing.T) {

	assert.InDelta(t, -1250.0, ApplyScaleFactor(-125, 1), 0.001)
	assert.InDelta(t, 12.5, ApplyScaleFactor(125, 0xFFFF), 0.001)
	assert.InDelta(t, 300.0, ApplyScaleFactor(300, 0), 0.001)
}

func TestTestWallboxReader(t *testing.T) {

	require := require.New(t)

	reader := CreateTestWallboxModbusReader(1, 2)
	require.NoError(reader.Open())
	defer reader.Close()

	reader.SetStatus(2, 7, 4140)
	regs, err := reader.ReadWallbox(2)
	require.NoError(err)
	require.EqualValues(7, regs.Status)
	require.EqualValues(4140, regs.PowerWatt)

	require.NoError(reader.WriteCurrentLimit(1, 80))
	regs, err = reader.ReadWallbox(1)
	require.NoError(err)
	require.EqualValues(80, regs.CurrentLimit)

	_, err = reader.ReadWallbox(3)
	require.ErrorIs(err, ErrTestBusFailure)

	reader.SetFailing(1, true)
	require.ErrorIs(reader.WriteCurrentLimit(1, 60), ErrTestBusFailure)
	require.Equal([]TestCurrentWrite{{UnitId: 1, DeciAmps: 80}}, reader.Writes())
}
