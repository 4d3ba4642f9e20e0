// Package etag computes and compares the conditional-write tokens served in the
// ETag header.
//
// A token is the hex SHA-256 digest of a document's canonical JSON encoding, so two
// documents with the same content always carry the same token regardless of the
// order in which their fields were written.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jacentio/espalier/document"
)

// Compute returns the token for raw bytes.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ForNode returns the token of the node's canonical encoding.
func ForNode(n document.Node) (string, error) {
	data, err := n.Marshal()
	if err != nil {
		return "", err
	}
	return Compute(data), nil
}

// Quote renders a token as a strong entity tag for the ETag header.
func Quote(token string) string {
	return `"` + token + `"`
}

// Match reports whether a presented If-None-Match header value matches the current
// token using weak comparison. The header may hold a comma-separated list, quoted or
// weak ("W/") tags, or "*", which matches any existing token.
func Match(current, header string) bool {
	return match(current, header, false)
}

// MatchStrong reports whether a presented If-Match header value matches the current
// token using strong comparison: weak ("W/") tags never match, "*" matches any
// existing token.
func MatchStrong(current, header string) bool {
	return match(current, header, true)
}

func match(current, header string, strong bool) bool {
	header = strings.TrimSpace(header)
	if header == "" || current == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		weak := strings.HasPrefix(candidate, "W/")
		if weak && strong {
			continue
		}
		if strings.Trim(strings.TrimPrefix(candidate, "W/"), `"`) == current {
			return true
		}
	}
	return false
}
