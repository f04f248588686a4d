package memory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCorrupt marks a persisted record that exists but cannot be decoded.
	// Callers must not fall back to an empty record on this error.
	ErrCorrupt = errors.New("memory record corrupt")
	ErrClosed  = errors.New("memory store closed")
)

// Store loads and saves the memory record.
//
// Load returns Empty() when nothing has been persisted yet.
// There is a single writer (the agent loop); readers such as backups only Load.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Close() error
}

// Config configures the store.
//
// Driver values:
//   - "file" (default)
//   - "sqlite"
//   - "s3"
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	S3          S3Config
}

// S3Config selects the bucket object holding the record.
// Empty credentials fall back to the default AWS chain (env, shared config, IMDS).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; e.g. MinIO
	Prefix          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}
