package mbreader

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// WallboxBusReader talks to every box sharing one bus. The unit id is
// switched before each access; mu holds the bus from the switch until the
// last register of that box is transferred.
type WallboxBusReader struct {
	ModbusClient
	mu sync.Mutex
}

func CreateWallboxBusReader(url string, speed uint, timeout time.Duration, logger *zap.Logger,
	instrumentation *ModbusInstrument) (WallboxModbusReader, error) {
	conf := &modbus.ClientConfiguration{
		URL:     url,
		Timeout: timeout,
	}
	if strings.HasPrefix(url, "rtu://") {
		conf.Speed = speed
		conf.DataBits = 8
		conf.Parity = modbus.PARITY_EVEN
		conf.StopBits = 1
	}
	client, err := modbus.NewClient(conf)
	if err != nil {
		return nil, err
	}
	return &WallboxBusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: instruments(logger.With(zap.String("target", "wallbox")), instrumentation),
		},
	}, nil
}

func (reader *WallboxBusReader) Open() error {
	return reader.client.Open()
}

func (reader *WallboxBusReader) Close() error {
	return reader.client.Close()
}

func (reader *WallboxBusReader) ReadWallbox(unitId uint8) (*WallboxRegisters, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.setUnitId(unitId); err != nil {
		return nil, err
	}
	input, err := reader.readRegisters(WALLBOX_REG_INPUT_BASE, WALLBOX_REG_INPUT_COUNT, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, fmt.Errorf("wallbox %d: read status block: %w", unitId, err)
	}
	hw, err := reader.readRegisters(WALLBOX_REG_HW_BASE, WALLBOX_REG_HW_COUNT, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, fmt.Errorf("wallbox %d: read hardware limits: %w", unitId, err)
	}
	limit, err := reader.readRegister(WALLBOX_REG_CURRENT_LIMIT, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, fmt.Errorf("wallbox %d: read current limit: %w", unitId, err)
	}
	return DecodeWallboxRegisters(input, hw, limit)
}

func (reader *WallboxBusReader) WriteCurrentLimit(unitId uint8, deciAmps uint16) error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.setUnitId(unitId); err != nil {
		return err
	}
	if err := reader.writeRegister(WALLBOX_REG_CURRENT_LIMIT, deciAmps); err != nil {
		return fmt.Errorf("wallbox %d: write current limit: %w", unitId, err)
	}
	return nil
}
