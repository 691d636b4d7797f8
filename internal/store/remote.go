package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/roach88/strata/internal/fs"
)

// Remote is a read-through byte store consulted when a digest is missing
// locally. Fetch returns an error matching ErrMissingDigest when the remote
// does not have the blob.
type Remote interface {
	Fetch(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error)
	Upload(ctx context.Context, kind BlobKind, d fs.Digest, data []byte) error
}

// GCSRemote stores blobs in a Google Cloud Storage bucket under
// <prefix>/<kind>/<hex>-<size>.
type GCSRemote struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSRemote.
type GCSConfig struct {
	Bucket string
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// NewGCSRemote creates a GCS client for cfg.
func NewGCSRemote(ctx context.Context, cfg GCSConfig) (*GCSRemote, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs remote: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("gcs remote: service account key not found at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs remote: create storage client: %w", err)
	}
	return &GCSRemote{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Close releases the underlying client.
func (r *GCSRemote) Close() error {
	return r.client.Close()
}

// ObjectName returns the object path for a blob.
func (r *GCSRemote) ObjectName(kind BlobKind, d fs.Digest) string {
	name := fmt.Sprintf("%s/%s-%d", kind, d.Hex(), d.Size)
	if r.prefix == "" {
		return name
	}
	return r.prefix + "/" + name
}

// Fetch implements Remote.
func (r *GCSRemote) Fetch(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error) {
	reader, err := r.client.Bucket(r.bucket).Object(r.ObjectName(kind, d)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &MissingDigestError{Digest: d, Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("gcs fetch %s: %w", d, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", d, err)
	}
	return data, nil
}

// Upload implements Remote.
func (r *GCSRemote) Upload(ctx context.Context, kind BlobKind, d fs.Digest, data []byte) error {
	obj := r.client.Bucket(r.bucket).Object(r.ObjectName(kind, d))
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("gcs upload %s: %w", d, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("gcs upload %s: close writer: %w", d, err)
	}
	return nil
}
