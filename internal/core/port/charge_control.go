package port

import (
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
)

// BoxRegistry is the register table of all configured charge points.
type BoxRegistry interface {
	NumBoxes() int
	Snapshot(boxId uint8) (domain.ChargePointSnapshot, bool)
	// WriteCurrentLimit validates and enqueues a current limit write. Transport
	// failures are reported asynchronously.
	WriteCurrentLimit(boxId uint8, deciAmps uint16, source domain.WriteSource) error
}

// LoadManager accepts charging current requests for a box.
type LoadManager interface {
	StoreRequest(req domain.ChargeRequest)
}

// CurrentLimitWriter performs the register write of a validated current limit.
type CurrentLimitWriter interface {
	WriteCurrentLimit(boxId uint8, deciAmps uint16, source domain.WriteSource)
}

// ControlStateStore is the tier that survives a warm reset. Load reports
// warm=false when no valid record exists.
type ControlStateStore interface {
	Load() (state domain.ControlState, warm bool, err error)
	Save(state domain.ControlState) error
}

type DiagnosticLog interface {
	Append(record domain.DiagnosticRecord) error
}
