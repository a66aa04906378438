package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader inspects object storage: Exists verifies uploads before
// destructive prunes, List drives archive inventory reports.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settled fills, claim receipts, and audit rows to cold
// storage for long-term retention.
type Archiver interface {
	ArchiveFills(ctx context.Context, since, until time.Time) (int64, error)
	ArchiveClaims(ctx context.Context, since, until time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
