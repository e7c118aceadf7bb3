package sinks

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/goccy/go-json"

	"github.com/JakeFAU/edge-warmer/internal/runlog"
)

// ObjectWriterFactory opens a writer for bucket/object. It exists so tests
// can avoid a live GCS client.
type ObjectWriterFactory func(ctx context.Context, bucket, object string) ObjectWriter

// ObjectWriter is the subset of *storage.Writer used by GCSSink.
type ObjectWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// GCSSink archives each run log as a JSON object named after the sheet.
type GCSSink struct {
	bucket string
	prefix string
	open   ObjectWriterFactory
}

// NewGCSSink builds a GCSSink on top of a storage client.
func NewGCSSink(client *storage.Client, bucket, prefix string) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newGCSSink(bucket, prefix, func(ctx context.Context, bucket, object string) ObjectWriter {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	})
}

func newGCSSink(bucket, prefix string, open ObjectWriterFactory) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{bucket: bucket, prefix: strings.Trim(prefix, "/"), open: open}, nil
}

// Name implements runlog.Sink.
func (s *GCSSink) Name() string {
	return "gcs"
}

// ObjectName returns the object path used for a sheet.
func (s *GCSSink) ObjectName(sheet string) string {
	name := sheet + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Consume uploads the batch as one object.
func (s *GCSSink) Consume(ctx context.Context, batch runlog.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	object := s.ObjectName(batch.SheetName)
	writer := s.open(ctx, s.bucket, object)
	if _, err := writer.Write(body); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", object, err)
	}
	return nil
}
