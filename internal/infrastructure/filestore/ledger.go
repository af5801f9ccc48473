package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-verify-ledger/internal/domain"
)

// BackupMirror receives a copy of every ledger backup, e.g. for offsite storage.
type BackupMirror interface {
	MirrorBackup(ctx context.Context, data []byte) error
}

// LedgerStore persists the ledger as a single JSON file. Save copies the
// current file to a backup path, writes a temp file and renames it over the
// canonical path.
type LedgerStore struct {
	path       string
	backupPath string
	tmpPath    string
	mirror     BackupMirror
	now        func() time.Time
}

type Option func(*LedgerStore)

// WithBackupMirror forwards each backup copy to m after a successful save.
func WithBackupMirror(m BackupMirror) Option {
	return func(s *LedgerStore) { s.mirror = m }
}

// WithClock overrides the clock used for expiry pruning.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerStore) { s.now = now }
}

func NewLedgerStore(path, backupPath, tmpPath string, opts ...Option) *LedgerStore {
	s := &LedgerStore{
		path:       path,
		backupPath: backupPath,
		tmpPath:    tmpPath,
		now:        time.Now,
	}
	if s.tmpPath == "" {
		s.tmpPath = path + ".tmp"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the ledger. It never fails: unreadable or corrupt files yield an
// empty ledger and a status saying so. Expired and malformed entries are
// dropped and, if any were, the pruned ledger is written back.
func (s *LedgerStore) Load(ctx context.Context) (*domain.Ledger, domain.LoadStatus) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewLedger(), domain.LoadMissing
	}
	if err != nil {
		slog.Warn("could not read ledger, treating as empty", "path", s.path, "err", err)
		return domain.NewLedger(), domain.LoadUnreadable
	}

	led, malformed, err := decodeLedger(data)
	if err != nil {
		slog.Warn("ledger is corrupt, treating as empty", "path", s.path, "err", err)
		return domain.NewLedger(), domain.LoadUnreadable
	}
	status := domain.LoadOK
	if malformed > 0 {
		slog.Warn("dropped malformed ledger entries", "path", s.path, "count", malformed)
		status = domain.LoadRepaired
	}

	if expired := led.Prune(s.now()); expired+malformed > 0 {
		if err := s.Save(ctx, led); err != nil {
			slog.Error("could not write pruned ledger", "path", s.path, "err", err)
		}
	}
	return led, status
}

// Save replaces the ledger file. Every failure is returned; on error the
// canonical file still holds its previous contents.
func (s *LedgerStore) Save(ctx context.Context, led *domain.Ledger) error {
	data, err := encodeLedger(led)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	backup, err := copyFile(s.path, s.backupPath)
	if err != nil {
		return fmt.Errorf("backup ledger: %w", err)
	}
	if err := writeFileAtomic(s.tmpPath, s.path, data); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if backup != nil && s.mirror != nil {
		go s.mirrorBackup(context.WithoutCancel(ctx), backup)
	}
	return nil
}

func (s *LedgerStore) mirrorBackup(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.mirror.MirrorBackup(ctx, data); err != nil {
		slog.Warn("could not mirror ledger backup", "err", err)
	}
}
