package mbreader

import (
	"slices"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// ModbusClient wraps a bus client and reports the duration of every
// register access to the attached instruments.
type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readString(address uint16, size uint16) (string, error) {
	bytes, err := reader.readRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

func (reader ModbusClient) setUnitId(unitId uint8) error {
	return reader.client.SetUnitId(unitId)
}

func (reader ModbusClient) readRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	defer RecordTimer("ReadRegister", reader.instrument)()
	return reader.client.ReadRegister(addr, regType)
}

func (reader ModbusClient) readRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	return reader.client.ReadRegisters(addr, quantity, regType)
}

func (reader ModbusClient) readRawBytes(addr uint16, quantity uint16, regType modbus.RegType) ([]byte, error) {
	defer RecordTimer("ReadRawBytes", reader.instrument)()
	return reader.client.ReadRawBytes(addr, quantity, regType)
}

func (reader ModbusClient) writeRegister(addr uint16, value uint16) error {
	defer RecordTimer("WriteRegister", reader.instrument)()
	return reader.client.WriteRegister(addr, value)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func debugLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func instruments(logger *zap.Logger, extra *ModbusInstrument) []ModbusInstrument {
	var inst []ModbusInstrument
	if logInst := debugLoggerInstrumentation(logger); logInst != nil {
		inst = append(inst, *logInst)
	}
	if extra != nil {
		inst = append(inst, *extra)
	}
	return inst
}
