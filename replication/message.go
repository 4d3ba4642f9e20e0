package replication

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/espalier/document"
)

// Operation is the change a message carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidMessage is returned for messages that can never be applied.
	ErrInvalidMessage = errors.New("espalier: invalid replication message")

	// ErrClosed is returned when publishing to a stopped dispatcher.
	ErrClosed = errors.New("espalier: dispatcher is closed")
)

// Message is one replication event. For create and update, Payload holds the fully
// rehydrated document; for delete it is empty.
type Message struct {
	ID          string          `json:"id"`
	Operation   Operation       `json:"operation"`
	DocumentID  string          `json:"documentId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`

	// settle, when set, is called once the message is finished: with nil after it
	// was applied or dead-lettered, with the failure when it was neither.
	settle func(error)
}

// finish reports the outcome to whoever delivered msg, if anyone is waiting.
func (m Message) finish(err error) {
	if m.settle != nil {
		m.settle(err)
	}
}

// NewMessage builds a message for doc. The document id is doc's objectId.
func NewMessage(op Operation, doc document.Node) (Message, error) {
	payload, err := doc.Marshal()
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{
		ID:          uuid.NewString(),
		Operation:   op,
		DocumentID:  doc.ObjectID(),
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
	return msg, msg.Validate()
}

// NewDeleteMessage builds a delete message for the document with the given objectId.
func NewDeleteMessage(documentID string) Message {
	return Message{
		ID:          uuid.NewString(),
		Operation:   OpDelete,
		DocumentID:  documentID,
		PublishedAt: time.Now().UTC(),
	}
}

// Validate checks that the message can be applied.
func (m Message) Validate() error {
	if !m.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidMessage, m.Operation)
	}
	if m.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidMessage)
	}
	if m.Operation != OpDelete && len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrInvalidMessage, m.Operation)
	}
	return nil
}

// Document decodes the payload.
func (m Message) Document() (document.Node, error) {
	if len(m.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	doc, err := document.Parse(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return doc, nil
}

// Decode parses a message from its JSON wire form.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return msg, msg.Validate()
}
