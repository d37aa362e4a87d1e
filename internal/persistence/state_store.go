package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
)

const (
	STATE_MAGIC   uint32 = 0x77626563 // "wbec"
	STATE_VERSION uint16 = 1

	DEFAULT_STATE_FILE = "/run/wbec/pv_state.cbor"
)

type controlStateRecord struct {
	Magic            uint32 `cbor:"1,keyasint"`
	Version          uint16 `cbor:"2,keyasint"`
	Mode             uint8  `cbor:"3,keyasint"`
	PreviousMode     uint8  `cbor:"4,keyasint"`
	TargetBoxId      uint8  `cbor:"5,keyasint"`
	FilteredPower    int32  `cbor:"6,keyasint"`
	LastActivationMs int64  `cbor:"7,keyasint"`
	LastCycleMs      int64  `cbor:"8,keyasint"`
}

// FileControlStateStore keeps the control state in a single CBOR file. Put it
// on a tmpfs to survive process restarts but not reboots.
type FileControlStateStore struct {
	fs   afero.Fs
	path string
}

var _ port.ControlStateStore = (*FileControlStateStore)(nil)

func NewFileControlStateStore(fs afero.Fs, path string) *FileControlStateStore {
	if path == "" {
		path = DEFAULT_STATE_FILE
	}
	return &FileControlStateStore{fs: fs, path: path}
}

func (s *FileControlStateStore) Load() (domain.ControlState, bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ColdBootControlState(), false, nil
	}
	if err != nil {
		return domain.ColdBootControlState(), false, fmt.Errorf("read %s: %w: %w", s.path, domain.ErrPersistence, err)
	}
	var rec controlStateRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return domain.ColdBootControlState(), false, fmt.Errorf("decode %s: %w: %w", s.path, domain.ErrPersistence, err)
	}
	if rec.Magic != STATE_MAGIC || rec.Version != STATE_VERSION {
		return domain.ColdBootControlState(), false,
			fmt.Errorf("%s: unknown record (magic %#x, version %d): %w", s.path, rec.Magic, rec.Version, domain.ErrPersistence)
	}
	state := domain.ControlState{
		Mode:                   domain.PvMode(rec.Mode),
		PreviousMode:           domain.PvMode(rec.PreviousMode),
		TargetBoxId:            rec.TargetBoxId,
		FilteredAvailablePower: rec.FilteredPower,
		LastActivation:         fromUnixMilli(rec.LastActivationMs),
		LastCycle:              fromUnixMilli(rec.LastCycleMs),
	}
	if !state.Mode.Valid() || !state.PreviousMode.Valid() {
		return domain.ColdBootControlState(), false, fmt.Errorf("%s: invalid mode %d: %w", s.path, rec.Mode, domain.ErrPersistence)
	}
	return state, true, nil
}

// Save replaces the record atomically.
func (s *FileControlStateStore) Save(state domain.ControlState) error {
	data, err := cbor.Marshal(controlStateRecord{
		Magic:            STATE_MAGIC,
		Version:          STATE_VERSION,
		Mode:             uint8(state.Mode),
		PreviousMode:     uint8(state.PreviousMode),
		TargetBoxId:      state.TargetBoxId,
		FilteredPower:    state.FilteredAvailablePower,
		LastActivationMs: toUnixMilli(state.LastActivation),
		LastCycleMs:      toUnixMilli(state.LastCycle),
	})
	if err != nil {
		return fmt.Errorf("encode control state: %w: %w", domain.ErrPersistence, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
