package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jacentio/espalier/internal/shard"
	"github.com/jacentio/espalier/store"
)

// DeadLetter receives messages that could not be applied.
type DeadLetter interface {
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

// LogDeadLetter records failed messages in the log only.
type LogDeadLetter struct {
	logger *slog.Logger
}

// NewLogDeadLetter creates a LogDeadLetter. A nil logger uses slog.Default().
func NewLogDeadLetter(logger *slog.Logger) *LogDeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeadLetter{logger: logger}
}

// DeadLetter logs the message and its cause at error level.
func (l *LogDeadLetter) DeadLetter(_ context.Context, msg Message, cause error) error {
	l.logger.Error("replication message dead-lettered",
		"operation", msg.Operation,
		"document_id", msg.DocumentID,
		"message_id", msg.ID,
		"error", cause,
	)
	return nil
}

// Entry is a dead-lettered message as stored by StoreDeadLetter.
type Entry struct {
	Key      string    `json:"-"`
	Message  Message   `json:"message"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// StoreDeadLetter keeps failed messages in a KV so they can be inspected and
// redriven later. Entries are stored under shard.DeadLetterPrefix.
type StoreDeadLetter struct {
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreDeadLetter creates a StoreDeadLetter over kv. A nil logger uses slog.Default().
func NewStoreDeadLetter(kv store.KV, logger *slog.Logger) *StoreDeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreDeadLetter{kv: kv, logger: logger, now: time.Now}
}

// DeadLetter stores the message with its cause.
func (s *StoreDeadLetter) DeadLetter(ctx context.Context, msg Message, cause error) error {
	entry := Entry{
		Message:  msg,
		Error:    cause.Error(),
		FailedAt: s.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	key := shard.DeadLetterKey(msg.DocumentID, msg.ID)
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store dead letter %s: %w", key, err)
	}
	s.logger.Warn("replication message dead-lettered",
		"key", key,
		"operation", msg.Operation,
		"document_id", msg.DocumentID,
		"message_id", msg.ID,
		"error", cause,
	)
	return nil
}

// List returns every stored entry, oldest first. It requires a KV that implements
// store.Scanner.
func (s *StoreDeadLetter) List(ctx context.Context) ([]Entry, error) {
	scanner, ok := s.kv.(store.Scanner)
	if !ok {
		return nil, store.ErrScanUnsupported
	}
	keys, err := scanner.Keys(ctx, shard.DeadLetterPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("skipping unreadable dead letter", "key", key, "error", err)
			continue
		}
		entry.Key = key
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FailedAt.Before(entries[j].FailedAt)
	})
	return entries, nil
}

// Redrive republishes every stored entry, oldest first, and removes the entries
// that were accepted. It returns how many were republished.
func (s *StoreDeadLetter) Redrive(ctx context.Context, pub Publisher) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	redriven := 0
	for _, entry := range entries {
		if err := pub.Publish(ctx, entry.Message); err != nil {
			return redriven, fmt.Errorf("redrive %s: %w", entry.Key, err)
		}
		if _, err := s.kv.Delete(ctx, entry.Key); err != nil {
			return redriven, fmt.Errorf("remove dead letter %s: %w", entry.Key, err)
		}
		redriven++
	}
	if redriven > 0 {
		s.logger.Info("dead letters redriven", "count", redriven)
	}
	return redriven, nil
}
