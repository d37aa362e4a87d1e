package mbreader

import "fmt"

// Heidelberg Energy Control register map.
const (
	WALLBOX_REG_INPUT_BASE    = 4
	WALLBOX_REG_INPUT_COUNT   = 15
	WALLBOX_REG_HW_BASE       = 100
	WALLBOX_REG_HW_COUNT      = 2
	WALLBOX_REG_CURRENT_LIMIT = 261
)

// WallboxRegisters is the decoded register content of one box.
type WallboxRegisters struct {
	LayoutVersion uint16
	Status        uint16
	// deci-amps
	PhaseCurrents [3]uint16
	// deci-degrees celsius
	Temperature   int16
	PhaseVoltages [3]uint16
	ExternalLock  uint16
	PowerWatt     uint16
	// energy since power-on, VAh
	EnergyPowerOn uint32
	// energy since installation, VAh, as high and low word
	EnergyHigh uint16
	EnergyLow  uint16
	// amps
	HwMaxCurrent uint16
	HwMinCurrent uint16
	// deci-amps
	CurrentLimit uint16
}

type WallboxModbusReader interface {
	Open() error
	Close() error
	ReadWallbox(unitId uint8) (*WallboxRegisters, error)
	WriteCurrentLimit(unitId uint8, deciAmps uint16) error
}

// DecodeWallboxRegisters maps the raw input block (regs 4..18), the hardware
// current block (regs 100..101) and the current limit holding register.
func DecodeWallboxRegisters(input []uint16, hw []uint16, limit uint16) (*WallboxRegisters, error) {
	if len(input) != WALLBOX_REG_INPUT_COUNT {
		return nil, fmt.Errorf("wallbox: expected %d input registers, got %d", WALLBOX_REG_INPUT_COUNT, len(input))
	}
	if len(hw) != WALLBOX_REG_HW_COUNT {
		return nil, fmt.Errorf("wallbox: expected %d hardware registers, got %d", WALLBOX_REG_HW_COUNT, len(hw))
	}
	return &WallboxRegisters{
		LayoutVersion: input[0],
		Status:        input[1],
		PhaseCurrents: [3]uint16{input[2], input[3], input[4]},
		Temperature:   int16(input[5]),
		PhaseVoltages: [3]uint16{input[6], input[7], input[8]},
		ExternalLock:  input[9],
		PowerWatt:     input[10],
		EnergyPowerOn: uint32(input[11])<<16 | uint32(input[12]),
		EnergyHigh:    input[13],
		EnergyLow:     input[14],
		HwMaxCurrent:  hw[0],
		HwMinCurrent:  hw[1],
		CurrentLimit:  limit,
	}, nil
}
