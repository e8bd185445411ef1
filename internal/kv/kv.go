// Package kv provides the key-value storage shared by every tab of one origin.
// It mirrors the browser storage surface (GetItem, SetItem, RemoveItem) with
// an in-process backend and a Redis backend for tabs in separate processes.
package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by SetItem when the write would exceed the
// backend's storage quota. Nothing is written in that case.
var ErrQuotaExceeded = errors.New("kv: storage quota exceeded")

// Storage is a flat string-keyed byte store. GetItem returns os.ErrNotExist
// for a missing key.
type Storage interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
