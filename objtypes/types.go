// Package objtypes provides shared type definitions for the objfs module.
package objtypes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
)

// Size limits imposed by S3-compatible stores.
const (
	// MinPartSize is the smallest part S3 accepts for any part but the last.
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxSingleCopySize is the largest object a single CopyObject call may copy.
	MaxSingleCopySize int64 = 5 * 1024 * 1024 * 1024

	// MaxParts is the maximum number of parts in one multipart session.
	MaxParts = 10000
)

// Defaults applied by NewConfig.
const (
	DefaultMultipartThreshold int64 = 20 * 1024 * 1024
	DefaultPartSize           int64 = 8 * 1024 * 1024
	DefaultConcurrency              = 5
	DefaultAbortTimeout             = 30 * time.Second
)

// Config holds the filesystem configuration.
type Config struct {
	// Authority is the bucket (or account) a path's scheme://authority prefix
	// must name. Empty accepts any authority.
	Authority string

	// RootPrefix is prepended to every key. Empty means the bucket root.
	RootPrefix string

	// ScratchDir is the directory staged writes are buffered in.
	ScratchDir string

	// ScratchFS is the filesystem scratch files are created on. Defaults to
	// the OS filesystem.
	ScratchFS billy.Filesystem

	// MultipartThreshold is the largest size written or copied in a single
	// request; anything larger uses a multipart session.
	MultipartThreshold int64

	// PartSize is the size of each multipart part. It grows automatically
	// when an object would otherwise need more than MaxParts parts.
	PartSize int64

	// Concurrency bounds the parts transferred in parallel per operation.
	Concurrency int

	// AbortTimeout bounds the abort call issued after a failed session. It
	// runs even when the caller's context is already canceled.
	AbortTimeout time.Duration

	// Logger receives structured operation logs.
	Logger *slog.Logger
}

// Option configures a Config.
type Option func(*Config)

// NewConfig returns a Config with defaults applied, then opts.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MultipartThreshold: DefaultMultipartThreshold,
		PartSize:           DefaultPartSize,
		Concurrency:        DefaultConcurrency,
		AbortTimeout:       DefaultAbortTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// Validate reports configuration values no store would accept.
func (c *Config) Validate() error {
	switch {
	case c.PartSize <= 0:
		return invalid("part size must be positive, got %d", c.PartSize)
	case c.MultipartThreshold < 0:
		return invalid("multipart threshold must not be negative, got %d", c.MultipartThreshold)
	case c.MultipartThreshold > MaxSingleCopySize:
		return invalid("multipart threshold %d exceeds the %d byte single-request limit",
			c.MultipartThreshold, MaxSingleCopySize)
	case c.Concurrency < 1:
		return invalid("concurrency must be at least 1, got %d", c.Concurrency)
	case c.AbortTimeout <= 0:
		return invalid("abort timeout must be positive, got %s", c.AbortTimeout)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.NewError("config", errors.ErrInvalidConfig).WithMessage(fmt.Sprintf(format, args...))
}

// FileStatus describes a file or directory.
type FileStatus struct {
	// Path is the normalized filesystem path
	Path string

	// Size is the file size in bytes; zero for directories
	Size int64

	// IsDir reports whether the path is a directory
	IsDir bool

	// ModTime is the object's last modification time; zero for directories
	// without a marker
	ModTime time.Time

	// ETag is the object's entity tag; empty for directories
	ETag string
}

// UploadResult contains the result of an upload or copy.
type UploadResult struct {
	// Key is the object key that was written
	Key string

	// Size is the size of the written object in bytes
	Size int64

	// ETag is the entity tag of the written object
	ETag string

	// Parts is the number of multipart parts; zero for single-request transfers
	Parts int

	// Duration is how long the transfer took
	Duration time.Duration
}

// Multipart reports whether the transfer used a multipart session.
func (r *UploadResult) Multipart() bool {
	return r.Parts > 0
}
