// Package shard maps documents onto workers and derives hashed storage keys.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// DeadLetterPrefix starts every dead-letter key so they can be scanned apart from records.
const DeadLetterPrefix = "dlq_"

// Worker picks which of n workers owns documentID.
// With n=1, every document goes to worker 0.
// With n>1, documents are distributed by FNV-1a hash, so one document always lands
// on the same worker.
func Worker(documentID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(n))
}

// DeadLetterKey computes a hash-distributed key for a dead-lettered message.
// Distinct messages for the same document get distinct keys.
func DeadLetterKey(documentID, messageID string) string {
	data := fmt.Sprintf("%s#%s", documentID, messageID)
	h := sha256.Sum256([]byte(data))
	return DeadLetterPrefix + hex.EncodeToString(h[:16])
}
