package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for an embedded Badger KV.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	// Default: true
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs. Zero disables it.
	// Default: 5 minutes
	GCInterval time.Duration

	// GCDiscardRatio is the minimum reclaimable fraction before a value log file is rewritten.
	// Default: 0.5
	GCDiscardRatio float64

	// Logger receives Badger's internal log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable defaults for a database at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// Badger is a KV backed by an embedded Badger database.
type Badger struct {
	db     *badger.DB
	config BadgerConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenBadger opens (or creates) a Badger database and starts value log GC when configured.
// The caller owns the returned KV and must Close it.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Badger{db: db, config: cfg}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopCh = make(chan struct{})
		b.doneCh = make(chan struct{})
		go b.runGC()
	}
	return b, nil
}

// Get returns the value stored at key.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, nil
}

// Put stores value at key.
func (b *Badger) Put(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", key, err)
	}
	return nil
}

// Delete removes key, reporting whether it existed.
func (b *Badger) Delete(_ context.Context, key string) (int64, error) {
	var removed int64
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = 1
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return 0, fmt.Errorf("badger delete %s: %w", key, err)
	}
	return removed, nil
}

// Batch writes every record in one transaction.
func (b *Badger) Batch(_ context.Context, writes []Write) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			if err := txn.Set([]byte(w.Key), w.Value); err != nil {
				return fmt.Errorf("set %s: %w", w.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger batch: %w", err)
	}
	return nil
}

// Keys returns every key with the given prefix.
func (b *Badger) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %q: %w", prefix, err)
	}
	return keys, nil
}

// Close stops garbage collection and closes the database.
func (b *Badger) Close() error {
	if b.stopCh != nil {
		close(b.stopCh)
		<-b.doneCh
		b.stopCh = nil
	}
	return b.db.Close()
}

func (b *Badger) runGC() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite just means nothing was worth collecting.
			err := b.db.RunValueLogGC(b.config.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && b.config.Logger != nil {
				b.config.Logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
