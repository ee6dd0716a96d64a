// Package journal stores debug-journal entries for phases that exhausted their attempts.
// Entries are append-only and kept in a badger key-value store ordered by sequence number.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/daydemir/autopilot/internal/types"
)

// ErrClosed is returned by operations on a closed Store
var ErrClosed = errors.New("journal is closed")

var entryPrefix = []byte("entry/")

// Config controls how the store is opened
type Config struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps entries in memory only (tests, dry runs)
	InMemory bool

	// SyncWrites fsyncs every append
	SyncWrites bool

	Logger *zap.Logger
}

// Store is a durable append-only journal. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// Open opens (or creates) the journal described by cfg
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("journal directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.Named("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSeq resumes numbering after the last stored entry
func (s *Store) initSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte(nil), entryPrefix...), 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(entryPrefix) {
			key := it.Item().Key()
			s.seq = binary.BigEndian.Uint64(key[len(entryPrefix):])
		}
		return nil
	})
}

// Append stores entry. A zero RecordedAt is set to now.
func (s *Store) Append(ctx context.Context, entry types.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	seq := s.seq + 1
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	s.seq = seq

	s.logger.Info("journal entry recorded",
		zap.Uint64("seq", seq),
		zap.String("phase_id", entry.PhaseID),
		zap.String("error_signature", entry.ErrorSignature),
		zap.String("priority", entry.Priority.String()))
	return nil
}

// Filter selects entries returned by List
type Filter struct {
	PhaseID string
	RunID   string
	// Limit keeps only the newest N matching entries. Zero means all.
	Limit int
}

func (f Filter) matches(e types.JournalEntry) bool {
	if f.PhaseID != "" && e.PhaseID != f.PhaseID {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	return true
}

// List returns matching entries, oldest first
func (s *Store) List(ctx context.Context, f Filter) ([]types.JournalEntry, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	var entries []types.JournalEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry types.JournalEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode journal entry %x: %w", it.Item().Key(), err)
			}
			if f.matches(entry) {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	return entries, nil
}

// Len returns the number of stored entries
func (s *Store) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Close flushes and closes the store. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

// badgerLogger adapts zap to badger's logger interface
type badgerLogger struct {
	logger *zap.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
