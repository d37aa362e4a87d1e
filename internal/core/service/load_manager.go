package service

import (
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// PassThroughLoadManager forwards every request to the box registry without
// arbitration.
type PassThroughLoadManager struct {
	registry port.BoxRegistry
	logger   *zap.Logger
}

func NewPassThroughLoadManager(registry port.BoxRegistry, logger *zap.Logger) *PassThroughLoadManager {
	return &PassThroughLoadManager{
		registry: registry,
		logger:   logger,
	}
}

func (lm *PassThroughLoadManager) StoreRequest(req domain.ChargeRequest) {
	err := lm.registry.WriteCurrentLimit(req.BoxId, req.DesiredCurrent, domain.WRITE_SOURCE_PV)
	if err != nil {
		lm.logger.Warn("loadmanager@store request rejected", zap.Uint8("box", req.BoxId),
			zap.Uint16("current", req.DesiredCurrent), zap.Error(err))
	}
}

// ensure interface compliance
var _ port.LoadManager = (*PassThroughLoadManager)(nil)
