package service

import (
	"fmt"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const (
	// grid power bounds in watts, +-100 kW
	GRID_POWER_MIN int32 = -100000
	GRID_POWER_MAX int32 = 100000
)

// PvController turns the grid power reading into a charging current for the
// selected box. It owns the ControlState and persists it after every change.
type PvController struct {
	cfg         config.PVConfig
	currMin     uint16
	currMax     uint16
	registry    port.BoxRegistry
	loadManager port.LoadManager
	store       port.ControlStateStore
	diagLog     port.DiagnosticLog
	state       domain.ControlState
	gridPower   int32
	logger      *zap.Logger
}

func NewPvController(pvCfg config.PVConfig, currentCfg config.CurrentConfig, registry port.BoxRegistry,
	loadManager port.LoadManager, store port.ControlStateStore, diagLog port.DiagnosticLog, logger *zap.Logger) *PvController {
	return &PvController{
		cfg:         pvCfg,
		currMin:     currentCfg.AbsMin,
		currMax:     currentCfg.AbsMax,
		registry:    registry,
		loadManager: loadManager,
		store:       store,
		diagLog:     diagLog,
		state:       domain.ColdBootControlState(),
		logger:      logger,
	}
}

// Restore loads the state that survived a warm reset. Without a valid record
// the controller starts from cold boot defaults.
func (c *PvController) Restore() {
	if !c.cfg.Active {
		c.state = domain.ControlState{
			Mode:         domain.PvModeDisabled,
			PreviousMode: domain.PvModeDisabled,
		}
		c.logger.Info("pv@restore pv control disabled by configuration")
		return
	}
	state, warm, err := c.store.Load()
	if err != nil {
		c.logger.Warn("pv@restore could not load control state", zap.Error(err))
	}
	if err != nil || !warm {
		c.state = domain.ColdBootControlState()
		c.logger.Info("pv@restore cold boot", zap.Stringer("mode", c.state.Mode))
		return
	}
	if int(state.TargetBoxId) >= c.registry.NumBoxes() {
		c.logger.Warn("pv@restore restored target box is not configured, using box 0", zap.Uint8("box", state.TargetBoxId))
		state.TargetBoxId = 0
	}
	// the first tick after a reset always runs
	state.LastCycle = time.Time{}
	c.state = state
	c.logger.Info("pv@restore warm reset", zap.Stringer("mode", state.Mode), zap.Uint8("box", state.TargetBoxId),
		zap.Int32("filtered", state.FilteredAvailablePower))
}

// SetGridPower stores a new grid power reading in watts (negative = feed-in).
// Readings outside +-100 kW are dropped.
func (c *PvController) SetGridPower(watt int32) bool {
	if watt < GRID_POWER_MIN || watt > GRID_POWER_MAX {
		c.logger.Debug("pv@grid reading out of range dropped", zap.Int32("watt", watt))
		return false
	}
	if c.cfg.Invert {
		watt = -watt
	}
	c.gridPower = watt
	return true
}

func (c *PvController) GridPower() int32 {
	return c.gridPower
}

func (c *PvController) Mode() domain.PvMode {
	return c.state.Mode
}

func (c *PvController) TargetBoxId() uint8 {
	return c.state.TargetBoxId
}

func (c *PvController) State() domain.ControlState {
	return c.state
}

func (c *PvController) SetMode(mode domain.PvMode) error {
	if !mode.Valid() {
		return fmt.Errorf("pv mode %d: %w", uint8(mode), domain.ErrValidationRejected)
	}
	c.logger.Info("pv@mode changed", zap.Stringer("from", c.state.Mode), zap.Stringer("to", mode))
	c.state.Mode = mode
	c.state.LastCycle = time.Time{}
	c.persist()
	return nil
}

func (c *PvController) SetTargetBoxId(boxId uint8) bool {
	if int(boxId) >= c.registry.NumBoxes() {
		c.logger.Warn("pv@box target box is not configured", zap.Uint8("box", boxId))
		return false
	}
	c.state.TargetBoxId = boxId
	c.state.LastCycle = time.Time{}
	c.persist()
	return true
}

// Tick runs one control cycle if the cycle interval has elapsed.
func (c *PvController) Tick(now time.Time) {
	if c.state.Mode == domain.PvModeDisabled || !c.cycleDue(now) {
		return
	}
	c.state.LastCycle = now

	if c.state.Mode.Active() {
		c.runAlgorithm(now)
	} else {
		c.state.FilteredAvailablePower = 0
	}

	if c.state.PreviousMode.Active() && c.state.Mode == domain.PvModeOff {
		c.applyOffCurrent()
	}
	c.state.PreviousMode = c.state.Mode

	c.persist()
}

func (c *PvController) cycleDue(now time.Time) bool {
	if c.state.LastCycle.IsZero() {
		return true
	}
	elapsed := now.Sub(c.state.LastCycle)
	// a clock step backwards must not stall the controller
	return elapsed < 0 || elapsed >= time.Duration(c.cfg.CycleTimeSeconds)*time.Second
}

func (c *PvController) runAlgorithm(now time.Time) {
	snapshot, _ := c.registry.Snapshot(c.state.TargetBoxId)
	actual := snapshot.CurrentLimit

	var target uint16
	if snapshot.Connected() {
		raw := int32(snapshot.PowerWatt) - c.gridPower - c.cfg.Offset
		available := (c.state.FilteredAvailablePower + raw) / 2
		c.state.FilteredAvailablePower = available

		var wanted int32
		if available > 0 && c.cfg.PhaseFactor != 0 {
			wanted = available / c.cfg.PhaseFactor
		}
		if (actual == 0 && wanted < c.cfg.LimStart) || (actual != 0 && wanted < c.cfg.LimStop) {
			wanted = 0
			if c.state.Mode.IsMinPV() || c.minimumOnTimeRunning(now) {
				wanted = int32(snapshot.HwMinCurrent) * 10
			}
		}
		target = c.saturate(wanted)

		if actual == 0 && target >= c.currMin {
			c.state.LastActivation = now
		}
		c.logger.Debug("pv@tick target current", zap.Int32("grid", c.gridPower), zap.Int32("available", available),
			zap.Uint16("actual", actual), zap.Uint16("target", target))
	} else {
		c.state.FilteredAvailablePower = 0
		c.logger.Debug("pv@tick no vehicle connected", zap.Uint8("box", c.state.TargetBoxId), zap.Uint16("status", snapshot.Status))
	}

	if c.diagLog != nil {
		err := c.diagLog.Append(domain.DiagnosticRecord{
			Timestamp:     now,
			GridPower:     c.gridPower,
			BoxPower:      snapshot.PowerWatt,
			ActualCurrent: actual,
			TargetCurrent: target,
		})
		if err != nil {
			c.logger.Debug("pv@tick diagnostic log append failed", zap.Error(err))
		}
	}

	if target != actual {
		c.loadManager.StoreRequest(domain.ChargeRequest{
			BoxId:          c.state.TargetBoxId,
			DesiredCurrent: target,
		})
	}
}

func (c *PvController) minimumOnTimeRunning(now time.Time) bool {
	if c.cfg.MinTimeMinutes == 0 || c.state.LastActivation.IsZero() {
		return false
	}
	return now.Sub(c.state.LastActivation) < time.Duration(c.cfg.MinTimeMinutes)*time.Minute
}

// saturate maps a wanted current to 0 or the absolute current range.
func (c *PvController) saturate(wanted int32) uint16 {
	switch {
	case wanted <= 0:
		return 0
	case wanted < int32(c.currMin):
		return c.currMin
	case wanted > int32(c.currMax):
		return c.currMax
	default:
		return uint16(wanted)
	}
}

func (c *PvController) applyOffCurrent() {
	off := c.cfg.OffCurrent
	if off != 0 && (off < int32(c.currMin) || off > int32(c.currMax)) {
		return
	}
	c.logger.Info("pv@tick mode switched off, applying off current", zap.Int32("current", off))
	c.loadManager.StoreRequest(domain.ChargeRequest{
		BoxId:          c.state.TargetBoxId,
		DesiredCurrent: uint16(off),
	})
}

func (c *PvController) persist() {
	if err := c.store.Save(c.state); err != nil {
		c.logger.Error("pv@persist could not save control state", zap.Error(err))
	}
}
