package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/etag"
	"github.com/jacentio/espalier/internal/shard"
	"github.com/jacentio/espalier/replication"
	"github.com/jacentio/espalier/store"
)

// lockStripes is the number of mutexes plan ids are hashed onto.
const lockStripes = 64

// Result is a stored plan with its current token.
type Result struct {
	ID       string
	Document document.Node
	ETag     string
}

// Service orchestrates plan writes: validation, storage, conditional checks and
// replication.
type Service struct {
	store      *store.Store
	validator  *Validator
	publisher  replication.Publisher
	deadLetter replication.DeadLetter
	logger     *slog.Logger

	// Check-and-write sections for one plan are serialized within the process.
	locks [lockStripes]sync.Mutex
}

// NewService creates a Service. Messages the publisher refuses go to deadLetter;
// a nil deadLetter logs them. A nil logger uses slog.Default().
func NewService(s *store.Store, publisher replication.Publisher, deadLetter replication.DeadLetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = replication.Discard{}
	}
	if deadLetter == nil {
		deadLetter = replication.NewLogDeadLetter(logger)
	}
	return &Service{
		store:      s,
		validator:  NewValidator(),
		publisher:  publisher,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Key returns the composite key of the plan with the given id.
func Key(id string) string {
	return document.Key(document.TypePlan, id)
}

// Create validates and stores a new plan, then publishes it for indexing.
func (s *Service) Create(ctx context.Context, body []byte) (*Result, error) {
	node, err := s.validator.ValidatePlan(body)
	if err != nil {
		return nil, err
	}
	id := node.ObjectID()
	key := Key(id)

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.Create(ctx, node); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("save %s: %w", key, err)
	}

	result, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, replication.OpCreate, result.Document)

	s.logger.Info("plan created", "plan_id", id, "etag", result.ETag)
	return result, nil
}

// Get returns the fully rehydrated plan and its token.
func (s *Service) Get(ctx context.Context, id string) (*Result, error) {
	return s.load(ctx, id)
}

// Patch merges a partial update into the stored plan. ifMatch must match the
// stored plan's token.
func (s *Service) Patch(ctx context.Context, id, ifMatch string, body []byte) (*Result, error) {
	if ifMatch == "" {
		return nil, ErrPreconditionRequired
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !etag.MatchStrong(current.ETag, ifMatch) {
		return nil, ErrConcurrentModification
	}

	partial, err := s.validator.ValidatePatch(body)
	if err != nil {
		return nil, err
	}
	merged := document.Merge(current.Document, partial, document.FieldLinkedPlanServices, document.FieldObjectID)
	if _, err := s.store.Save(ctx, merged); err != nil {
		return nil, fmt.Errorf("save %s: %w", Key(id), err)
	}

	result, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, replication.OpUpdate, result.Document)

	s.logger.Info("plan patched", "plan_id", id, "etag", result.ETag)
	return result, nil
}

// Delete removes the plan and every record it reaches. ifMatch must match the
// stored plan's token. When some records could not be removed it returns a
// *PartialDeleteError; the index delete is still published once the root is gone.
func (s *Service) Delete(ctx context.Context, id, ifMatch string) error {
	if ifMatch == "" {
		return ErrPreconditionRequired
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !etag.MatchStrong(current.ETag, ifMatch) {
		return ErrConcurrentModification
	}

	key := Key(id)
	undeleted, err := s.store.CascadeDelete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	rootRemoved := true
	for _, k := range undeleted {
		if k == key {
			rootRemoved = false
			break
		}
	}
	if rootRemoved {
		s.publishDelete(ctx, id)
	}

	if len(undeleted) > 0 {
		s.logger.Warn("plan partially deleted", "plan_id", id, "undeleted", undeleted)
		return &PartialDeleteError{Keys: undeleted}
	}
	s.logger.Info("plan deleted", "plan_id", id)
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*Result, error) {
	doc, err := s.store.Load(ctx, Key(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", Key(id), err)
	}
	tag, err := etag.ForNode(doc)
	if err != nil {
		return nil, fmt.Errorf("compute etag: %w", err)
	}
	return &Result{ID: id, Document: doc, ETag: tag}, nil
}

func (s *Service) publish(ctx context.Context, op replication.Operation, doc document.Node) {
	msg, err := replication.NewMessage(op, doc)
	if err != nil {
		s.logger.Error("cannot build replication message", "plan_id", doc.ObjectID(), "error", err)
		return
	}
	s.send(ctx, msg)
}

func (s *Service) publishDelete(ctx context.Context, id string) {
	s.send(ctx, replication.NewDeleteMessage(id))
}

// send publishes msg, handing it to the dead letter when the publisher refuses it.
// The stored write has already succeeded, so neither failure is returned.
func (s *Service) send(ctx context.Context, msg replication.Message) {
	err := s.publisher.Publish(ctx, msg)
	if err == nil {
		return
	}
	s.logger.Warn("replication publish failed", "message_id", msg.ID, "document_id", msg.DocumentID, "error", err)
	if dlErr := s.deadLetter.DeadLetter(context.WithoutCancel(ctx), msg, err); dlErr != nil {
		s.logger.Error("replication message lost",
			"message_id", msg.ID,
			"document_id", msg.DocumentID,
			"operation", msg.Operation,
			"error", errors.Join(err, dlErr),
		)
	}
}

func (s *Service) lock(id string) *sync.Mutex {
	return &s.locks[shard.Worker(id, lockStripes)]
}
