package mbreader

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTestBusFailure = errors.New("test bus failure")

// TestWallboxModbusReader is an in-memory bus for tests and local runs
// without hardware. Unknown unit ids fail like an unanswered request.
type TestWallboxModbusReader struct {
	mu     sync.Mutex
	boxes  map[uint8]WallboxRegisters
	writes []TestCurrentWrite
	failed map[uint8]bool
}

type TestCurrentWrite struct {
	UnitId   uint8
	DeciAmps uint16
}

func CreateTestWallboxModbusReader(unitIds ...uint8) *TestWallboxModbusReader {
	reader := &TestWallboxModbusReader{
		boxes:  map[uint8]WallboxRegisters{},
		failed: map[uint8]bool{},
	}
	for _, id := range unitIds {
		reader.boxes[id] = WallboxRegisters{
			LayoutVersion: 0x0108,
			Status:        2,
			PhaseVoltages: [3]uint16{230, 230, 230},
			Temperature:   245,
			HwMaxCurrent:  16,
			HwMinCurrent:  6,
		}
	}
	return reader
}

func (reader *TestWallboxModbusReader) Open() error {
	return nil
}

func (reader *TestWallboxModbusReader) Close() error {
	return nil
}

func (reader *TestWallboxModbusReader) ReadWallbox(unitId uint8) (*WallboxRegisters, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	box, ok := reader.boxes[unitId]
	if !ok || reader.failed[unitId] {
		return nil, fmt.Errorf("wallbox %d: %w", unitId, ErrTestBusFailure)
	}
	return &box, nil
}

func (reader *TestWallboxModbusReader) WriteCurrentLimit(unitId uint8, deciAmps uint16) error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	box, ok := reader.boxes[unitId]
	if !ok || reader.failed[unitId] {
		return fmt.Errorf("wallbox %d: %w", unitId, ErrTestBusFailure)
	}
	box.CurrentLimit = deciAmps
	reader.boxes[unitId] = box
	reader.writes = append(reader.writes, TestCurrentWrite{UnitId: unitId, DeciAmps: deciAmps})
	return nil
}

// SetStatus changes the charging state of a box and its drawn power.
func (reader *TestWallboxModbusReader) SetStatus(unitId uint8, status uint16, powerWatt uint16) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	box := reader.boxes[unitId]
	box.Status = status
	box.PowerWatt = powerWatt
	reader.boxes[unitId] = box
}

func (reader *TestWallboxModbusReader) SetFailing(unitId uint8, failing bool) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.failed[unitId] = failing
}

func (reader *TestWallboxModbusReader) Writes() []TestCurrentWrite {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return append([]TestCurrentWrite(nil), reader.writes...)
}

type TestGridMeterModbusReader struct {
	PowerWatt float64
}

func (reader TestGridMeterModbusReader) Open() error {
	return nil
}

func (reader TestGridMeterModbusReader) Close() error {
	return nil
}

func (reader TestGridMeterModbusReader) Validate() error {
	return nil
}

func (reader TestGridMeterModbusReader) GetInfo() (*GridMeterInfo, error) {
	return &GridMeterInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 65A-3",
		Version:      "1.3",
	}, nil
}

func (reader TestGridMeterModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	return reader.PowerWatt, nil
}
