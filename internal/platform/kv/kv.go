// Package kv provides the external key-value blob the clinic state is
// persisted to. Values are opaque byte slices (JSON in practice); each key is
// written as a whole, so a Put either replaces the previous value or fails.
package kv

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyUser                = "user"
	KeyAppData             = "appData"
	KeyReadNotificationIDs = "readNotificationIds"
	KeyTheme               = "theme"
)

// ErrNotFound is returned by Get when the key has never been written or has
// been deleted.
var ErrNotFound = errors.New("kv: key not found")

// Blob is the contract every persistence backend satisfies.
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Namespace scopes every key of blob under prefix. Deleting a key only
// affects the namespaced copy.
func Namespace(blob Blob, prefix string) Blob {
	return &namespaced{blob: blob, prefix: prefix}
}

type namespaced struct {
	blob   Blob
	prefix string
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.blob.Get(ctx, n.prefix+key)
}

func (n *namespaced) Put(ctx context.Context, key string, value []byte) error {
	return n.blob.Put(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.blob.Delete(ctx, n.prefix+key)
}
