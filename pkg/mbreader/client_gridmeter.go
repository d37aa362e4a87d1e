package mbreader

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const (
	SUNSPEC_WK_COMMON       = 1
	SUNSPEC_WK_AC_METER_MIN = 201
	SUNSPEC_WK_AC_METER_MAX = 204
	SUNSPEC_BASE_ADDR       = 40000
)

type gridMeterModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *gridMeterModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

// SunSpecGridMeterReader reads a SunSpec AC meter (models 201..204) with
// integer scale factors.
type SunSpecGridMeterReader struct {
	ModbusClient
	blocks        gridMeterModbusBlocks
	ignoreFronius bool
}

func CreateSunSpecGridMeterReader(ip string, port uint, meterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (GridMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(meterAddress); err != nil {
		return nil, err
	}
	reader := SunSpecGridMeterReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: instruments(logger.With(zap.String("target", "gridMeter"), zap.Uint8("meter", meterAddress)), instrumentation),
		},
		ignoreFronius: ignoreFronius,
	}
	return &reader, nil
}

func (reader *SunSpecGridMeterReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	return reader.survey()
}

func (reader *SunSpecGridMeterReader) Close() error {
	return reader.client.Close()
}

func (reader *SunSpecGridMeterReader) Validate() error {
	if err := reader.checkSunSpec(); err != nil {
		return err
	}
	if reader.ignoreFronius {
		return nil
	}
	str, err := reader.readString(SUNSPEC_BASE_ADDR+4, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *SunSpecGridMeterReader) GetInfo() (*GridMeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}
	return &GridMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (reader *SunSpecGridMeterReader) GetCurrentPowerFlowWatt() (float64, error) {
	totalRealPower, err := reader.readRegister(reader.blocks.acMeter+18, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	totalRealPowerSF, err := reader.readRegister(reader.blocks.acMeter+22, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return ApplyScaleFactor(int16(totalRealPower), totalRealPowerSF), nil
}

// ApplyScaleFactor scales a signed SunSpec value by 10^sf.
func ApplyScaleFactor(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader *SunSpecGridMeterReader) checkSunSpec() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec smart meter")
	}
	return nil
}

func (reader *SunSpecGridMeterReader) survey() error {
	if err := reader.checkSunSpec(); err != nil {
		return err
	}

	blocks := gridMeterModbusBlocks{}
	var baseAddr uint16 = SUNSPEC_BASE_ADDR + 2
	n := 0
	for {
		block, err := reader.surveyModbusBlock(baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			break
		}
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.id >= SUNSPEC_WK_AC_METER_MIN && block.id <= SUNSPEC_WK_AC_METER_MAX:
			blocks.acMeter = block.baseAddr
		}
		baseAddr = baseAddr + block.length + 2
		// ensure the loop has an ending
		if blocks.AllBlocksDefined() || n > 10 {
			break
		}
		n++
	}
	if !blocks.AllBlocksDefined() {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.blocks = blocks
	return nil
}

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == 0xFFFF
}

func (reader *SunSpecGridMeterReader) surveyModbusBlock(baseAddr uint16) (*modbusBlock, error) {
	header, err := reader.readRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       header[0],
		length:   header[1],
		baseAddr: baseAddr,
	}, nil
}
