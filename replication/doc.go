// Package replication moves document changes from the store to the search replica.
//
// Writers publish a [Message] per change: create and update carry the fully
// rehydrated document, delete carries only the document id. A [Dispatcher] applies
// messages on a worker pool, hashing each document id to one worker so that changes
// to a document are applied in order. Failed applies are retried with exponential
// backoff and finally handed to a [DeadLetter].
//
// # Transports
//
//   - [Dispatcher] - in-process; the API publishes directly into the worker pool
//   - [AMQP] - RabbitMQ; the API publishes, a consumer process feeds a Dispatcher
//   - [Discard] - publishes nothing, for deployments replicating from a change stream
//
// Delivery is at least once. Appliers must be idempotent.
//
// # Dead letters
//
// [LogDeadLetter] only logs. [StoreDeadLetter] keeps entries in a store.KV and can
// [StoreDeadLetter.Redrive] them once the replica is healthy again.
package replication
