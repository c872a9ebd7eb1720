package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. The retention sweeper uses it to
// archive purged markets to cold storage before deletion.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
