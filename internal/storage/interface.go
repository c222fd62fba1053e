package storage

import (
	"context"
	"io"
)

// CaptureStorage keeps copies of the bytes a service received
type CaptureStorage interface {
	// Store saves content at the given path, replacing any previous content
	Store(ctx context.Context, path string, content io.Reader) error

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
