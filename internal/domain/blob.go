package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ReportExporter writes a rendered report somewhere durable and returns its
// location.
type ReportExporter interface {
	Export(ctx context.Context, report Report) (string, error)
}
