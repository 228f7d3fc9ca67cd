// Package filestore keeps each user's uploads in an isolated area, on local
// disk or in an S3 bucket.
package filestore

import (
	"context"
	"io"
	"time"
)

// Object describes one stored file as reported by a backend.
type Object struct {
	Name       string
	Location   string
	Size       int64
	ModifiedAt time.Time
}

// Backend stores opaque objects under a per-user prefix. Keys are always
// "<userId>/<name>" with both parts already validated.
type Backend interface {
	EnsurePrefix(ctx context.Context, prefix string) error
	Put(ctx context.Context, prefix, name string, r io.Reader) (Object, error)
	Get(ctx context.Context, prefix, name string) ([]byte, error)
	// Delete of a missing object is not an error.
	Delete(ctx context.Context, prefix, name string) error
	Exists(ctx context.Context, prefix, name string) (bool, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	// DeletePrefix removes every object of the prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
