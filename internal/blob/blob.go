// Package blob is the single entry point to blob storage. Callers depend on
// blob.Store; only this package imports the infra backends.
package blob

import (
	"context"
	"fmt"

	"termsync/internal/blob/core"
	"termsync/internal/infra/blob/fs"
	"termsync/internal/infra/blob/memory"
	"termsync/internal/infra/blob/s3"
)

type (
	// Driver names a blob backend.
	Driver = core.Driver
	// PutOptions carries optional object attributes.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is implemented by every backend.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open builds the configured backend. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a directory-backed store.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory returns an in-process store.
func NewMemory() Store { return memory.New() }

// NewS3 returns a bucket-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store over a fake in-memory transport.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
