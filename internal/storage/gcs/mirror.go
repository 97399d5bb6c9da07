// Package gcs mirrors published artifacts into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and object prefix for mirrored artifacts.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Mirror writes artifact copies to a GCS bucket. It satisfies cache.Mirror.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps a cache-relative artifact name to its object name.
func (m *Mirror) ObjectName(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Mirror uploads data as a JPEG object and returns nil once the upload is
// finalized.
func (m *Mirror) Mirror(ctx context.Context, name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("object name is required")
	}
	object := m.ObjectName(name)
	writer := m.client.Bucket(m.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "image/jpeg"
	writer.CacheControl = "public, max-age=86400"
	if _, err := writer.Write(data); err != nil {
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

// URI returns the gs:// address of a mirrored artifact.
func (m *Mirror) URI(name string) string {
	return fmt.Sprintf("gs://%s/%s", m.bucket, m.ObjectName(name))
}
