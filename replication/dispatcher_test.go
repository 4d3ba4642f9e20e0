package replication_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/espalier/replication"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() replication.Config {
	return replication.Config{
		Workers:         4,
		Buffer:          16,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

// recorder remembers the order in which message ids were applied per document.
type recorder struct {
	mu    sync.Mutex
	order map[string][]string
}

func newRecorder() *recorder {
	return &recorder{order: make(map[string][]string)}
}

func (r *recorder) Apply(_ context.Context, msg replication.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order[msg.DocumentID] = append(r.order[msg.DocumentID], msg.ID)
	return nil
}

// collectingDeadLetter keeps dead-lettered messages in memory.
type collectingDeadLetter struct {
	mu     sync.Mutex
	msgs   []replication.Message
	causes []error
}

func (c *collectingDeadLetter) DeadLetter(_ context.Context, msg replication.Message, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	c.causes = append(c.causes, cause)
	return nil
}

func deleteMsg(doc string, seq int) replication.Message {
	msg := replication.NewDeleteMessage(doc)
	msg.ID = fmt.Sprintf("%s-%03d", doc, seq)
	return msg
}

func TestDispatcher_PreservesPerDocumentOrder(t *testing.T) {
	rec := newRecorder()
	d := replication.NewDispatcher(rec, nil, fastConfig(), quietLogger())
	d.Start(context.Background())

	docs := []string{"a", "b", "c", "d", "e"}
	want := make(map[string][]string)
	for seq := 0; seq < 50; seq++ {
		for _, doc := range docs {
			msg := deleteMsg(doc, seq)
			want[doc] = append(want[doc], msg.ID)
			if err := d.Publish(context.Background(), msg); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if diff := cmp.Diff(want, rec.order); diff != "" {
		t.Errorf("apply order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	applier := replication.ApplierFunc(func(context.Context, replication.Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("index unavailable")
		}
		return nil
	})
	dl := &collectingDeadLetter{}
	d := replication.NewDispatcher(applier, dl, fastConfig(), quietLogger())
	d.Start(context.Background())

	if err := d.Publish(context.Background(), deleteMsg("p1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if len(dl.msgs) != 0 {
		t.Errorf("expected no dead letters, got %d", len(dl.msgs))
	}
}

func TestDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	applier := replication.ApplierFunc(func(context.Context, replication.Message) error {
		attempts.Add(1)
		return errors.New("index unavailable")
	})
	dl := &collectingDeadLetter{}
	d := replication.NewDispatcher(applier, dl, fastConfig(), quietLogger())
	d.Start(context.Background())

	if err := d.Publish(context.Background(), deleteMsg("p1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if len(dl.msgs) != 1 || dl.msgs[0].ID != "p1-001" {
		t.Fatalf("expected the message to be dead-lettered, got %+v", dl.msgs)
	}
	if dl.causes[0] == nil {
		t.Error("expected the cause to be recorded")
	}
}

func TestDispatcher_InvalidMessageIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	applier := replication.ApplierFunc(func(context.Context, replication.Message) error {
		attempts.Add(1)
		return fmt.Errorf("bad payload: %w", replication.ErrInvalidMessage)
	})
	dl := &collectingDeadLetter{}
	d := replication.NewDispatcher(applier, dl, fastConfig(), quietLogger())
	d.Start(context.Background())

	_ = d.Publish(context.Background(), deleteMsg("p1", 1))
	_ = d.Stop()

	if attempts.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", attempts.Load())
	}
	if len(dl.msgs) != 1 {
		t.Errorf("expected the message to be dead-lettered, got %d", len(dl.msgs))
	}
	if !errors.Is(dl.causes[0], replication.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage cause, got %v", dl.causes[0])
	}
}

func TestDispatcher_RejectsInvalidPublish(t *testing.T) {
	d := replication.NewDispatcher(newRecorder(), nil, fastConfig(), quietLogger())
	err := d.Publish(context.Background(), replication.Message{Operation: "bogus", DocumentID: "p1"})
	if !errors.Is(err, replication.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestDispatcher_PublishAfterStop(t *testing.T) {
	d := replication.NewDispatcher(newRecorder(), nil, fastConfig(), quietLogger())
	d.Start(context.Background())
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	err := d.Publish(context.Background(), deleteMsg("p1", 1))
	if !errors.Is(err, replication.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Stop is idempotent
	if err := d.Stop(); err != nil {
		t.Errorf("unexpected error on second stop: %v", err)
	}
}

func TestDispatcher_PublishHonoursContext(t *testing.T) {
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.Buffer = 1
	d := replication.NewDispatcher(newRecorder(), nil, cfg, quietLogger())
	// Not started: the single slot fills and the next publish blocks.
	if err := d.Publish(context.Background(), deleteMsg("p1", 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Publish(ctx, deleteMsg("p1", 2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	d.Start(context.Background())
	_ = d.Stop()
}

func TestDispatcher_ImplementsPublisher(t *testing.T) {
	var _ replication.Publisher = (*replication.Dispatcher)(nil)
	var _ replication.Publisher = (*replication.AMQP)(nil)
	var _ replication.Publisher = replication.Discard{}
	var _ replication.DeadLetter = (*replication.StoreDeadLetter)(nil)
	var _ replication.DeadLetter = (*replication.LogDeadLetter)(nil)
}
