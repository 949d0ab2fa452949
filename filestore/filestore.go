// Package filestore holds the bodies of files that outgrew the embedded
// threshold of the metadata rows. The metadata entry keeps only the backing
// path; readers and writers go through a Store.
package filestore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("backing object not found")

// Store is a flat keyed object store. Paths are the realpath strings
// recorded in metadata entries.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	ReadAt(ctx context.Context, path string, offset int64, size int) ([]byte, error)
	Size(ctx context.Context, path string) (int64, error)
	Delete(ctx context.Context, path string) error
}

type Config struct {
	// Kind is "posix" (default) or "s3".
	Kind string `json:"kind"`
	// Root is the local directory for the posix store.
	Root string   `json:"root"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key_prefix"`
	// Endpoint switches to an S3-compatible service; path-style access
	// is enabled with it.
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

func New(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Kind {
	case "", "posix":
		return NewPosixStore(cfg.Root), nil
	case "s3":
		return NewS3Store(ctx, &cfg.S3)
	default:
		return nil, errors.New("unknown file store kind: " + cfg.Kind)
	}
}
