// Package artifact stores rendered meal plan documents.
package artifact

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("artifact not found")

// Store holds documents under slash-separated keys.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
