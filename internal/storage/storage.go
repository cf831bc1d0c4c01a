// ABOUTME: Object storage for encoded audio
// ABOUTME: Resolves local paths and s3:// locations to a Store and key
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Store reads and writes encoded audio by slash-separated key.
// Implementations are safe for concurrent use.
type Store interface {
	// Read opens key. A missing key returns an error wrapping os.ErrNotExist.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Write creates or truncates key. Data is durable once Close returns nil.
	Write(ctx context.Context, key string) (io.WriteCloser, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// S3Options configure the client built for s3:// locations.
type S3Options struct {
	Region       string
	Endpoint     string // for S3-compatible stores, e.g. MinIO
	UsePathStyle bool
}

// IsRemote reports whether loc names an object store rather than a local path.
func IsRemote(loc string) bool {
	return strings.HasPrefix(loc, "s3://")
}

// Open returns a Store rooted at loc: a directory, or s3://bucket[/prefix].
func Open(loc string, opts S3Options) (Store, error) {
	if !IsRemote(loc) {
		return NewLocal(loc)
	}
	bucket, prefix, err := parseS3(loc)
	if err != nil {
		return nil, err
	}
	return NewS3(NewS3Client(opts), bucket, prefix), nil
}

// OpenObject splits loc into the Store holding it and the key within.
// Local files resolve to their directory.
func OpenObject(loc string, opts S3Options) (Store, string, error) {
	if !IsRemote(loc) {
		dir, name := filepath.Split(loc)
		if dir == "" {
			dir = "."
		}
		st, err := NewLocal(dir)
		return st, name, err
	}
	bucket, key, err := parseS3(loc)
	if err != nil {
		return nil, "", err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, "", fmt.Errorf("storage: %s names a bucket or prefix, not an object", loc)
	}
	dir, name := path.Split(key)
	return NewS3(NewS3Client(opts), bucket, strings.TrimSuffix(dir, "/")), name, nil
}

func parseS3(loc string) (bucket, key string, err error) {
	u, err := url.Parse(loc)
	if err != nil {
		return "", "", fmt.Errorf("storage: invalid location %q: %w", loc, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("storage: missing bucket in %q", loc)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
