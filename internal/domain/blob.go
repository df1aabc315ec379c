package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object. Archived event objects are JSONL.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves settlement events from the event log to cold storage,
// partitioned by UTC day, and reads a day back.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	Load(ctx context.Context, day time.Time) ([]EventEnvelope, error)
}
