package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Key identifies a cached response across both tiers.
type Key string

// keyPrefix namespaces response entries inside the shared valkey keyspace so
// pattern invalidation never touches unrelated keys.
const keyPrefix = "chat_cache:"

// keyPayload is the canonical structured form hashed into a Key. Field order
// is fixed by the struct; pointer fields keep "absent" distinct from "empty",
// so (question, "A", nil) and (question, "A", "") hash differently.
type keyPayload struct {
	Question string  `json:"question"`
	Category *string `json:"category"`
	Section  *string `json:"section"`
}

// NewKey derives the cache key for a question and its optional category and
// section filters. The question is normalized (lower-cased, trimmed) so
// logically identical queries collide on purpose; everything else is hashed
// verbatim. Pure function, no I/O.
func NewKey(question string, category, section *string) Key {
	payload := keyPayload{
		Question: strings.ToLower(strings.TrimSpace(question)),
		Category: category,
		Section:  section,
	}
	// Marshaling strings and string pointers cannot fail.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return Key(keyPrefix + hex.EncodeToString(sum[:])[:16])
}

// String implements fmt.Stringer for logging.
func (k Key) String() string { return string(k) }
