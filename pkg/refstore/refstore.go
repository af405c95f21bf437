// Package refstore provides a content-addressed object store for large
// state sub-values. Values are keyed by the hash of their serialized form,
// so storing equal values twice yields the same reference id, and entries
// expire by TTL.
package refstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// referencePrefix marks a string as a reference to a stored value.
const referencePrefix = "ref:"

// ErrNotFound is returned by KV backends for absent or expired keys.
var ErrNotFound = errors.New("key not found")

// KV is the minimal key/value contract backing the store.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Metadata annotates a stored reference.
type Metadata struct {
	Kind      string    `json:"kind"`
	SizeBytes int       `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

type envelope struct {
	Payload  json.RawMessage `json:"payload"`
	Metadata Metadata        `json:"metadata"`
}

// Store is the content-addressed reference store.
type Store struct {
	kv  KV
	ttl time.Duration
}

// NewStore creates a store over the given KV with the given entry TTL.
func NewStore(kv KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// Put stores a value and returns its reference id. Equal values dedupe to
// the same id; re-storing refreshes the TTL.
func (s *Store) Put(ctx context.Context, kind string, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s value: %w", kind, err)
	}

	sum := sha256.Sum256(payload)
	id := kind + ":" + hex.EncodeToString(sum[:])

	env := envelope{
		Payload: payload,
		Metadata: Metadata{
			Kind:      kind,
			SizeBytes: len(payload),
			StoredAt:  time.Now().UTC(),
		},
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize reference envelope: %w", err)
	}

	if err := s.kv.Set(ctx, id, blob, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store reference %s: %w", id, err)
	}

	slog.Debug("Stored reference", "id", id, "kind", kind, "bytes", len(payload))
	return id, nil
}

// Retrieve resolves a reference id to its stored value. Expired or absent
// references return (nil, false, nil); callers decide policy.
func (s *Store) Retrieve(ctx context.Context, id string) (any, bool, error) {
	blob, err := s.kv.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read reference %s: %w", id, err)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, false, fmt.Errorf("failed to decode reference %s: %w", id, err)
	}

	var value any
	if err := json.Unmarshal(env.Payload, &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode reference payload %s: %w", id, err)
	}
	return value, true, nil
}

// Ping checks backend availability.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// CreateReference renders a reference id as an in-state reference string.
func CreateReference(id string) string {
	return referencePrefix + id
}

// IsReference reports whether the string is a reference string.
func IsReference(s string) bool {
	return strings.HasPrefix(s, referencePrefix)
}

// ExtractReferenceID returns the reference id behind a reference string.
func ExtractReferenceID(s string) (string, bool) {
	if !IsReference(s) {
		return "", false
	}
	return strings.TrimPrefix(s, referencePrefix), true
}
