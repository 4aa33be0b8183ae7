package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flogapp/flog/internal/store"
)

// keyVersion is the document version of key space entries.
const keyVersion = 1

// KeyStore is the companion's key space. Each key holds one JSON value and
// is stored as its own document.
type KeyStore struct {
	store store.Store
}

// NewKeyStore creates a key space on s.
func NewKeyStore(s store.Store) *KeyStore {
	return &KeyStore{store: s}
}

// Get returns the value of key. ok is false when the key is not set.
func (k *KeyStore) Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error) {
	doc, err := k.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(doc.Body), true, nil
}

// Set replaces the value of key. value must be valid JSON.
func (k *KeyStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}
	return k.store.Put(ctx, &store.Document{Key: key, Version: keyVersion, Body: value})
}

// SetString stores s as a JSON string.
func (k *KeyStore) SetString(ctx context.Context, key, s string) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return k.Set(ctx, key, raw)
}

// Remove deletes key. Removing an unset key is not an error.
func (k *KeyStore) Remove(ctx context.Context, key string) error {
	return k.store.Delete(ctx, key)
}

// All returns every key and value.
func (k *KeyStore) All(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := k.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		value, ok, err := k.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}
