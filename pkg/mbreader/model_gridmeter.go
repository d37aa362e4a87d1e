package mbreader

type GridMeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

type GridMeterModbusReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*GridMeterInfo, error)
	// GetCurrentPowerFlowWatt returns the grid power. Positive = import, negative = export.
	GetCurrentPowerFlowWatt() (float64, error)
}
