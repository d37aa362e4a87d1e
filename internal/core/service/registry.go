package service

import (
	"fmt"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"
)

// SnapshotRegistry keeps the last valid snapshot of every box and validates
// current limit writes before handing them to the writer.
type SnapshotRegistry struct {
	snapshots []domain.ChargePointSnapshot
	currMin   uint16
	currMax   uint16
	writer    port.CurrentLimitWriter
}

func NewSnapshotRegistry(numBoxes int, currentCfg config.CurrentConfig, writer port.CurrentLimitWriter) *SnapshotRegistry {
	snapshots := make([]domain.ChargePointSnapshot, numBoxes)
	for i := range snapshots {
		snapshots[i].BoxId = uint8(i)
	}
	return &SnapshotRegistry{
		snapshots: snapshots,
		currMin:   currentCfg.AbsMin,
		currMax:   currentCfg.AbsMax,
		writer:    writer,
	}
}

func (r *SnapshotRegistry) NumBoxes() int {
	return len(r.snapshots)
}

// Snapshot returns the snapshot of a box. ok is false for unknown boxes and
// boxes that were never polled successfully.
func (r *SnapshotRegistry) Snapshot(boxId uint8) (domain.ChargePointSnapshot, bool) {
	if int(boxId) >= len(r.snapshots) {
		return domain.ChargePointSnapshot{BoxId: boxId}, false
	}
	s := r.snapshots[boxId]
	return s, s.Valid
}

func (r *SnapshotRegistry) Snapshots() []domain.ChargePointSnapshot {
	snapshots := make([]domain.ChargePointSnapshot, len(r.snapshots))
	copy(snapshots, r.snapshots)
	return snapshots
}

// Update stores a polled snapshot. Invalid snapshots keep the previous one.
func (r *SnapshotRegistry) Update(snapshot domain.ChargePointSnapshot) {
	if int(snapshot.BoxId) >= len(r.snapshots) || !snapshot.Valid {
		return
	}
	r.snapshots[snapshot.BoxId] = snapshot
}

func (r *SnapshotRegistry) WriteCurrentLimit(boxId uint8, deciAmps uint16, source domain.WriteSource) error {
	if int(boxId) >= len(r.snapshots) {
		return fmt.Errorf("box %d is not configured: %w", boxId, domain.ErrValidationRejected)
	}
	if deciAmps != 0 && (deciAmps < r.currMin || deciAmps > r.currMax) {
		return fmt.Errorf("current limit %d out of range [%d, %d]: %w", deciAmps, r.currMin, r.currMax, domain.ErrValidationRejected)
	}
	r.writer.WriteCurrentLimit(boxId, deciAmps, source)
	return nil
}

// ensure interface compliance
var _ port.BoxRegistry = (*SnapshotRegistry)(nil)
