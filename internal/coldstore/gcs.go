package coldstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsObjects is the slice of the GCS client used by GCSStore. It is satisfied
// by gcsClient in production and by fakes in tests.
type gcsObjects interface {
	list(ctx context.Context, bucket, prefix string) ([]string, error)
	create(ctx context.Context, bucket, key string, data []byte, contentType string) error
	read(ctx context.Context, bucket, key string) ([]byte, error)
}

// GCSStore keeps archive objects in one Google Cloud Storage bucket.
type GCSStore struct {
	objects gcsObjects
	bucket  string
}

// NewGCS creates a GCSStore backed by client.
func NewGCS(client *storage.Client, bucket string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("coldstore: gcs client must not be nil")
	}
	return newGCSStore(gcsClient{client: client}, bucket)
}

func newGCSStore(objects gcsObjects, bucket string) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("coldstore: bucket name must not be empty")
	}
	return &GCSStore{objects: objects, bucket: bucket}, nil
}

// NewGCSClient builds a storage client. When emulatorHost is set the client
// talks to a local emulator without credentials.
func NewGCSClient(ctx context.Context, emulatorHost string) (*storage.Client, error) {
	emulatorHost = strings.TrimRight(strings.TrimSpace(emulatorHost), "/")
	if emulatorHost != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	return storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.objects.list(ctx, s.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("coldstore: gcs list %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *GCSStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.objects.create(ctx, s.bucket, key, data, contentType); err != nil {
		return fmt.Errorf("coldstore: gcs write %q: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := s.objects.read(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("coldstore: gcs read %q: %w", key, err)
	}
	return data, nil
}

type gcsClient struct {
	client *storage.Client
}

func (c gcsClient) list(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (c gcsClient) create(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	obj := c.client.Bucket(bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed {
			return ErrObjectExists
		}
		return err
	}
	return nil
}

func (c gcsClient) read(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := c.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(io.LimitReader(r, maxObjectSize))
}
