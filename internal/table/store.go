// Package table stores request records in a CSV file that operators can
// open and edit in a spreadsheet application.
package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/centromex/rental-bot/internal/metrics"
	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/retry"
)

// Retry defaults used when Options leaves them unset.
const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Attempts int
	Delay    time.Duration
	Logger   Logger
}

// Store is a file-backed request table. It is safe for use by multiple
// goroutines of one process; it is not safe across processes.
type Store struct {
	path     string
	attempts int
	delay    time.Duration
	logger   Logger
	mu       sync.Mutex

	// File access, replaceable in tests.
	readBytes  func(path string) ([]byte, error)
	writeBytes func(path string, data []byte) error
}

// New returns a store for the table at path. The file is not touched until
// the first operation.
func New(path string, opts Options) *Store {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Store{
		path:     filepath.Clean(path),
		attempts: opts.Attempts,
		delay:    opts.Delay,
		logger:   opts.Logger,

		readBytes:  os.ReadFile,
		writeBytes: writeAtomic,
	}
}

// Path returns the cleaned table path.
func (s *Store) Path() string {
	return s.path
}

// Initialize creates the table when absent and backfills any missing
// columns of an existing one.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

// ReadAll returns every record in file order.
func (s *Store) ReadAll(ctx context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, _, err := s.readLocked(ctx, "read")
	if err != nil {
		return nil, err
	}
	return sh.records, nil
}

// Append adds rec at the end of the table, creating the table first if needed.
func (s *Store) Append(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, _, err := s.readLocked(ctx, "append")
	if errors.Is(err, ErrTableMissing) {
		s.logger.Printf("[table] %s not found, initializing", s.path)
		if err := s.initializeLocked(ctx); err != nil {
			return err
		}
		sh, _, err = s.readLocked(ctx, "append")
	}
	if err != nil {
		return err
	}

	if rec.ID.Valid && sh.indexOf(rec.ID.Int64) >= 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID.Int64)
	}
	sh.records = append(sh.records, reconcileColumns(rec, sh.extra))

	if err := s.writeLocked(ctx, "append", sh); err != nil {
		return err
	}
	s.logger.Printf("[table] appended message %s to %s", formatID(rec.ID), s.path)
	return nil
}

// UpdateStatus rewrites the status of the record with the given ID.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, _, err := s.readLocked(ctx, "update")
	if err != nil {
		return err
	}
	i := sh.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	sh.records[i].Status = strings.TrimSpace(status)
	if err := s.writeLocked(ctx, "update", sh); err != nil {
		return err
	}
	s.logger.Printf("[table] message %d status set to %q", id, sh.records[i].Status)
	return nil
}

func (s *Store) initializeLocked(ctx context.Context) error {
	raw, err := s.readFile(ctx, "initialize")
	if errors.Is(err, ErrTableMissing) {
		s.logger.Printf("[table] creating new table %s", s.path)
		if err := s.writeLocked(ctx, "initialize", sheet{}); err != nil {
			return err
		}
		s.logger.Printf("[table] created %s", s.path)
		return nil
	}
	if err != nil {
		return err
	}

	sh, missing, err := decode(raw)
	if err != nil {
		s.fail("initialize", err)
		return err
	}
	encoded, err := encode(sh)
	if err != nil {
		return err
	}
	if len(missing) == 0 && bytes.Equal(encoded, raw) {
		return nil
	}
	if len(missing) > 0 {
		s.logger.Printf("[table] missing columns %v in %s, adding them", missing, s.path)
	}
	if err := s.write(ctx, "initialize", encoded); err != nil {
		return err
	}
	s.logger.Printf("[table] updated %s to the current schema", s.path)
	return nil
}

func (s *Store) readLocked(ctx context.Context, op string) (sheet, []string, error) {
	raw, err := s.readFile(ctx, op)
	if err != nil {
		return sheet{}, nil, err
	}
	sh, missing, err := decode(raw)
	if err != nil {
		s.fail(op, err)
		return sheet{}, nil, err
	}
	return sh, missing, nil
}

func (s *Store) readFile(ctx context.Context, op string) ([]byte, error) {
	raw, err := retry.Do(ctx, s.policy(op), func() ([]byte, error) {
		return s.readBytes(s.path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, s.path)
	}
	if err != nil {
		s.fail(op, err)
		return nil, err
	}
	return raw, nil
}

func (s *Store) writeLocked(ctx context.Context, op string, sh sheet) error {
	encoded, err := encode(sh)
	if err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	return s.write(ctx, op, encoded)
}

func (s *Store) write(ctx context.Context, op string, data []byte) error {
	err := retry.Run(ctx, s.policy(op), func() error {
		return s.writeBytes(s.path, data)
	})
	if err != nil {
		s.fail(op, err)
	}
	return err
}

func (s *Store) policy(op string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.attempts,
		Delay:       s.delay,
		Retryable:   IsTransient,
		OnRetry: func(attempt int, err error, next time.Duration) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			s.logger.Printf("[table] %s %s: %v, retrying in %s (attempt %d/%d)",
				op, s.path, err, next, attempt, s.attempts)
		},
	}
}

func (s *Store) fail(op string, err error) {
	metrics.StoreFailures.WithLabelValues(op).Inc()
	if errors.Is(err, retry.ErrExhausted) {
		s.logger.Printf("[table] failed to %s %s: %v", op, s.path, err)
		return
	}
	s.logger.Printf("[table] error during %s of %s: %v", op, s.path, err)
}

// reconcileColumns drops extra values the table has no column for and fills
// the ones it does.
func reconcileColumns(rec models.Record, extra []string) models.Record {
	rec = rec.Clone()
	if len(extra) == 0 {
		rec.Extra = nil
		return rec
	}
	filled := make(map[string]string, len(extra))
	for _, col := range extra {
		filled[col] = rec.Extra[col]
	}
	rec.Extra = filled
	return rec
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
