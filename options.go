package objfs

import (
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
)

// WithLogger sets the structured logger. By default logs are discarded.
func WithLogger(logger *slog.Logger) objtypes.Option {
	return func(c *objtypes.Config) {
		c.Logger = logger
	}
}

// WithRootPrefix places every key under prefix. The prefix must not start
// or end with "/".
func WithRootPrefix(prefix string) objtypes.Option {
	return func(c *objtypes.Config) {
		c.RootPrefix = prefix
	}
}

// WithAuthority requires paths with a scheme://authority prefix to name
// authority, typically the bucket.
func WithAuthority(authority string) objtypes.Option {
	return func(c *objtypes.Config) {
		c.Authority = authority
	}
}

// WithScratchDir sets the directory staged writes are buffered in.
// Default is the OS temporary directory.
func WithScratchDir(dir string) objtypes.Option {
	return func(c *objtypes.Config) {
		c.ScratchDir = dir
	}
}

// WithScratchFS sets the filesystem scratch files are created on.
// Default is the OS filesystem. Use memfs for tests.
func WithScratchFS(fs billy.Filesystem) objtypes.Option {
	return func(c *objtypes.Config) {
		c.ScratchFS = fs
	}
}

// WithMultipartThreshold sets the largest object written or copied in a
// single request. Default is 20MB.
func WithMultipartThreshold(threshold int64) objtypes.Option {
	return func(c *objtypes.Config) {
		c.MultipartThreshold = threshold
	}
}

// WithPartSize sets the multipart part size. Default is 8MB. S3 requires
// at least 5MB for every part but the last.
func WithPartSize(partSize int64) objtypes.Option {
	return func(c *objtypes.Config) {
		c.PartSize = partSize
	}
}

// WithConcurrency sets how many parts of one operation are transferred in
// parallel. Default is 5.
func WithConcurrency(concurrency int) objtypes.Option {
	return func(c *objtypes.Config) {
		c.Concurrency = concurrency
	}
}

// WithAbortTimeout bounds the abort issued after a failed multipart
// session. Default is 30 seconds.
func WithAbortTimeout(timeout time.Duration) objtypes.Option {
	return func(c *objtypes.Config) {
		c.AbortTimeout = timeout
	}
}
