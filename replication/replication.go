package replication

import "context"

// Publisher hands a message to the replication pipeline.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Applier applies one message to the replica. Returning an error wrapping
// ErrInvalidMessage stops retries.
type Applier interface {
	Apply(ctx context.Context, msg Message) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, msg Message) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Discard is a Publisher that drops every message. It is used when replication is
// driven elsewhere, such as from a change stream.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Message) error {
	return nil
}

// Inline is a Publisher that applies each message synchronously on the caller's
// goroutine and returns the apply error. It suits callers that retry on their own,
// such as a Lambda stream consumer.
type Inline struct {
	Applier Applier
}

// Publish validates msg and applies it.
func (p Inline) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return p.Applier.Apply(ctx, msg)
}
