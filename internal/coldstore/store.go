// Package coldstore implements the append-only object store that holds
// archived message partitions.
package coldstore

import (
	"context"
	"errors"
	"strings"
)

// ErrObjectExists is returned by Write when the key is already taken.
// Part-files are write-once.
var ErrObjectExists = errors.New("coldstore: object already exists")

// Store is a flat blob namespace supporting prefix listing and whole-object
// reads and writes.
type Store interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("coldstore: key is required")
	}
	if strings.HasPrefix(key, "/") {
		return errors.New("coldstore: key must be relative")
	}
	return nil
}
