package diaglog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"

	"github.com/spf13/afero"
)

const (
	DEFAULT_MIN_FREE_BYTES = 512000
	DEFAULT_MAX_TIMESTAMP  = 2085000000
)

// FreeSpaceFunc returns the bytes available to the process on the filesystem
// holding dir.
type FreeSpaceFunc func(dir string) (uint64, error)

// FileDiagnosticLog appends one line per control cycle:
// <unix>;<grid>;<boxPower>;<actual>;<target>
type FileDiagnosticLog struct {
	fs        afero.Fs
	cfg       config.DiagLogConfig
	freeSpace FreeSpaceFunc
}

var _ port.DiagnosticLog = (*FileDiagnosticLog)(nil)

func NewFileDiagnosticLog(fs afero.Fs, cfg config.DiagLogConfig, freeSpace FreeSpaceFunc) *FileDiagnosticLog {
	if freeSpace == nil {
		freeSpace = FreeSpace
	}
	return &FileDiagnosticLog{
		fs:        fs,
		cfg:       cfg,
		freeSpace: freeSpace,
	}
}

func FormatRecord(record domain.DiagnosticRecord) string {
	return fmt.Sprintf("%d;%d;%d;%d;%d\n", record.Timestamp.Unix(), record.GridPower,
		record.BoxPower, record.ActualCurrent, record.TargetCurrent)
}

// Append writes the record unless the log is disabled, the clock is past the
// configured horizon or the filesystem is short on space.
func (l *FileDiagnosticLog) Append(record domain.DiagnosticRecord) error {
	if l.cfg.Path == "" {
		return nil
	}
	if l.cfg.MaxTimestamp > 0 && record.Timestamp.Unix() >= l.cfg.MaxTimestamp {
		return nil
	}
	dir := filepath.Dir(l.cfg.Path)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diaglog: %w", err)
	}
	free, err := l.freeSpace(dir)
	if err != nil {
		return fmt.Errorf("diaglog: free space of %s: %w", dir, err)
	}
	if free <= l.cfg.MinFreeBytes {
		return nil
	}
	if err := l.rotate(); err != nil {
		return err
	}
	f, err := l.fs.OpenFile(l.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("diaglog: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatRecord(record)); err != nil {
		return fmt.Errorf("diaglog: %w", err)
	}
	return nil
}

func (l *FileDiagnosticLog) rotate() error {
	if l.cfg.MaxBytes <= 0 {
		return nil
	}
	info, err := l.fs.Stat(l.cfg.Path)
	if err != nil {
		// nothing to rotate yet
		return nil
	}
	if info.Size() <= l.cfg.MaxBytes {
		return nil
	}
	if err := l.fs.Rename(l.cfg.Path, l.cfg.Path+".1"); err != nil {
		return fmt.Errorf("diaglog: rotate: %w", err)
	}
	return nil
}
