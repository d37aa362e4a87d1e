package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PvMode is the operating mode of the surplus controller. Modes are ordered,
// everything above PvModeOff runs the surplus algorithm.
type PvMode uint8

const (
	PvModeDisabled PvMode = iota
	PvModeOff
	PvModeMinPV
	PvModePvOnly
)

const (
	PV_MODE_NAME_DISABLED = "disabled"
	PV_MODE_NAME_OFF      = "off"
	PV_MODE_NAME_MINPV    = "minpv"
	PV_MODE_NAME_PV       = "pv"
)

func (m PvMode) Active() bool {
	return m > PvModeOff
}

func (m PvMode) IsMinPV() bool {
	return m == PvModeMinPV
}

func (m PvMode) Valid() bool {
	return m <= PvModePvOnly
}

func (m PvMode) String() string {
	switch m {
	case PvModeDisabled:
		return PV_MODE_NAME_DISABLED
	case PvModeOff:
		return PV_MODE_NAME_OFF
	case PvModeMinPV:
		return PV_MODE_NAME_MINPV
	case PvModePvOnly:
		return PV_MODE_NAME_PV
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// PvModeNames lists the mode names in mode order.
func PvModeNames() []string {
	return []string{PV_MODE_NAME_DISABLED, PV_MODE_NAME_OFF, PV_MODE_NAME_MINPV, PV_MODE_NAME_PV}
}

// ParsePvMode accepts a mode name or its ordinal.
func ParsePvMode(value string) (PvMode, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for i, name := range PvModeNames() {
		if value == name {
			return PvMode(i), nil
		}
	}
	ordinal, err := strconv.ParseUint(value, 10, 8)
	if err == nil && PvMode(ordinal).Valid() {
		return PvMode(ordinal), nil
	}
	return PvModeDisabled, fmt.Errorf("invalid pv mode %q: %w", value, ErrValidationRejected)
}

// ControlState is everything the surplus controller keeps across ticks. It is
// persisted as a single record.
type ControlState struct {
	Mode                   PvMode
	PreviousMode           PvMode
	FilteredAvailablePower int32
	LastActivation         time.Time
	LastCycle              time.Time
	TargetBoxId            uint8
}

// ColdBootControlState is the state used when nothing valid survived a reset.
func ColdBootControlState() ControlState {
	return ControlState{
		Mode:         PvModeOff,
		PreviousMode: PvModeOff,
	}
}

// ChargePointSnapshot is the last polled register image of a box.
type ChargePointSnapshot struct {
	BoxId  uint8
	Status uint16
	// instantaneous charging power (W)
	PowerWatt     uint16
	PhaseVoltages [3]uint16
	// phase currents in deci-amps
	PhaseCurrents [3]uint16
	EnergyHigh    uint16
	EnergyLow     uint16
	// hardware minimum current in amps
	HwMinCurrent uint16
	HwMaxCurrent uint16
	// active current limit in deci-amps
	CurrentLimit uint16
	Valid        bool
}

// Connected reports whether a vehicle is plugged in.
func (s ChargePointSnapshot) Connected() bool {
	return s.Status >= 4 && s.Status <= 7
}

func (s ChargePointSnapshot) EnergyCounter() uint32 {
	return uint32(s.EnergyHigh)<<16 | uint32(s.EnergyLow)
}

type ChargeRequest struct {
	BoxId          uint8
	DesiredCurrent uint16
}

// ExternalCommand is a current request received from the energy management
// system, addressed by loadpoint id and expressed in whole amps.
type ExternalCommand struct {
	LoadpointId   uint8
	RequestedAmps int
}

type DiagnosticRecord struct {
	Timestamp     time.Time
	GridPower     int32
	BoxPower      uint16
	ActualCurrent uint16
	TargetCurrent uint16
}

type Publication struct {
	Topic   string
	Payload string
	Retain  bool
}

// WriteSource tags a current-limit write with the component that issued it.
type WriteSource string

const (
	WRITE_SOURCE_PV     WriteSource = "pv"
	WRITE_SOURCE_BRIDGE WriteSource = "bridge"
)
