// Package storage provides the small durable key-value surface the client
// needs to keep state (currently just the access token) across restarts.
package storage

import (
	"errors"
	"fmt"
)

// KV is a minimal durable key-value store.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("empty key")

const (
	// BackendBolt selects BoltKV.
	BackendBolt = "bolt"
	// BackendFile selects FileKV.
	BackendFile = "file"
)

// Open returns the KV for backend rooted at home. The returned close function
// must be called when the store is no longer needed.
func Open(backend, home string) (KV, func() error, error) {
	switch backend {
	case BackendBolt, "":
		kv, err := OpenBolt(BoltPath(home))
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case BackendFile:
		kv, err := NewFileKV(home)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
