// Package stream provides DynamoDB Streams handlers that replicate stored documents.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/replication"
	"github.com/jacentio/espalier/store"
)

// Stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Handler turns changes to root records of the records table into replication
// messages. Descendant records are ignored: every save rewrites its root, and the
// root's message carries the whole rehydrated tree.
type Handler struct {
	store     *store.Store
	publisher replication.Publisher
	logger    *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, publisher replication.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     s,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleReplication processes a batch of DynamoDB stream records.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleReplication(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

// processRecord publishes the replication message for one stream record, if any.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	key := RecordKey(record)
	objectType, objectID, ok := document.SplitKey(key)
	if !ok {
		return nil
	}
	if t := recordType(record); t != "" {
		objectType = t
	}
	if objectType != h.store.Schema().RootType() {
		return nil
	}

	var msg replication.Message
	switch record.EventName {
	case EventRemove:
		msg = replication.NewDeleteMessage(objectID)
	case EventInsert, EventModify:
		doc, err := h.store.Load(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			// Removed since; its REMOVE record follows.
			h.logger.Info("skipping change to removed document", "key", key)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		op := replication.OpUpdate
		if record.EventName == EventInsert {
			op = replication.OpCreate
		}
		msg, err = replication.NewMessage(op, doc)
		if err != nil {
			return err
		}
	default:
		return nil
	}

	if record.EventID != "" {
		msg.ID = record.EventID
	}
	if err := h.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s %s: %w", msg.Operation, objectID, err)
	}

	h.logger.Info("document change replicated",
		"operation", msg.Operation,
		"documentID", objectID,
		"eventID", record.EventID,
	)
	return nil
}

// RecordKey returns the composite key of the record a stream record describes.
func RecordKey(record *events.DynamoDBEventRecord) string {
	if key := getStringAttr(record.Change.Keys, "id"); key != "" {
		return key
	}
	if key := getStringAttr(record.Change.NewImage, "id"); key != "" {
		return key
	}
	return getStringAttr(record.Change.OldImage, "id")
}

// recordType returns the object_type attribute from whichever image carries it.
func recordType(record *events.DynamoDBEventRecord) string {
	if t := getStringAttr(record.Change.NewImage, "object_type"); t != "" {
		return t
	}
	return getStringAttr(record.Change.OldImage, "object_type")
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
