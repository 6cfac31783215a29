package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrObjectNotFound is returned when the bucket or object does not exist.
var ErrObjectNotFound = errors.New("gcs object not found")

// ObjectReader streams objects from Cloud Storage (or the emulator named by
// STORAGE_EMULATOR_HOST).
type ObjectReader struct {
	client *storage.Client
}

func NewObjectReader(ctx context.Context, extra ...option.ClientOption) (*ObjectReader, error) {
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	opts = append(opts, extra...)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcp: create storage client: %w", err)
	}
	return &ObjectReader{client: client}, nil
}

// Open streams gs://bucket/object. Closing the returned reader does not close
// the ObjectReader.
func (r *ObjectReader) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("gcp: bucket and object required")
	}
	rc, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("gcp: open gs://%s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

func (r *ObjectReader) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
