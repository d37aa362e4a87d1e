package service

import (
	"errors"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

type currentWrite struct {
	boxId    uint8
	deciAmps uint16
	source   domain.WriteSource
}

type recordingWriter struct {
	writes []currentWrite
}

func (w *recordingWriter) WriteCurrentLimit(boxId uint8, deciAmps uint16, source domain.WriteSource) {
	w.writes = append(w.writes, currentWrite{boxId: boxId, deciAmps: deciAmps, source: source})
}

type memoryStateStore struct {
	state   domain.ControlState
	warm    bool
	saves   int
	loadErr error
	saveErr error
}

func (s *memoryStateStore) Load() (domain.ControlState, bool, error) {
	if s.loadErr != nil {
		return domain.ControlState{}, false, s.loadErr
	}
	return s.state, s.warm, nil
}

func (s *memoryStateStore) Save(state domain.ControlState) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = state
	s.warm = true
	s.saves++
	return nil
}

type memoryDiagLog struct {
	records []domain.DiagnosticRecord
}

func (l *memoryDiagLog) Append(record domain.DiagnosticRecord) error {
	l.records = append(l.records, record)
	return nil
}

var errBrokenStore = errors.New("broken store")

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testPVConfig() config.PVConfig {
	return config.PVConfig{
		Active:           true,
		PhaseFactor:      69,
		LimStart:         61,
		LimStop:          50,
		CycleTimeSeconds: 30,
		OffCurrent:       -1,
	}
}

func testCurrentConfig() config.CurrentConfig {
	return config.CurrentConfig{
		AbsMin: config.DEFAULT_CURR_ABS_MIN,
		AbsMax: config.DEFAULT_CURR_ABS_MAX,
	}
}

type pvFixture struct {
	pv       *PvController
	registry *SnapshotRegistry
	writer   *recordingWriter
	store    *memoryStateStore
	diagLog  *memoryDiagLog
}

func newPvFixture(pvCfg config.PVConfig) pvFixture {
	logger := zap.NewNop()
	writer := &recordingWriter{}
	registry := NewSnapshotRegistry(2, testCurrentConfig(), writer)
	store := &memoryStateStore{}
	diagLog := &memoryDiagLog{}
	pv := NewPvController(pvCfg, testCurrentConfig(), registry, NewPassThroughLoadManager(registry, logger),
		store, diagLog, logger)
	return pvFixture{
		pv:       pv,
		registry: registry,
		writer:   writer,
		store:    store,
		diagLog:  diagLog,
	}
}

// box builds a polled snapshot of box 0
func box(status, powerWatt, currentLimit uint16) domain.ChargePointSnapshot {
	return domain.ChargePointSnapshot{
		BoxId:        0,
		Status:       status,
		PowerWatt:    powerWatt,
		CurrentLimit: currentLimit,
		HwMinCurrent: 6,
		HwMaxCurrent: 16,
		Valid:        true,
	}
}
