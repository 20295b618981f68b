// Package staging buffers file writes in local scratch space before they are
// uploaded.
//
// Each Writer owns one uniquely named scratch file on a go-billy filesystem
// and hashes bytes as they are written. Commit hands the finished file to a
// commit function and removes the scratch file whatever the outcome.
package staging

import (
	"context"
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
)

const filePrefix = "objfs-stage-"

// Staged is a finished scratch file handed to a CommitFunc. Source is only
// valid until the CommitFunc returns.
type Staged struct {
	// Source reads the staged bytes at arbitrary offsets
	Source io.ReaderAt

	// Size is the number of bytes staged
	Size int64

	// MD5 is the digest of the staged bytes
	MD5 []byte

	// Head holds up to the first 512 bytes, for content type detection
	Head []byte
}

// CommitFunc uploads a staged file.
type CommitFunc func(ctx context.Context, staged Staged) error

// Writer is a sequential write stream backed by a scratch file.
type Writer struct {
	fs     billy.Filesystem
	name   string
	file   billy.File
	digest hash.Hash
	head   []byte
	size   int64
	commit CommitFunc
	logger *slog.Logger

	mu     sync.Mutex
	err    error
	done   bool
	result error
}

// New creates a scratch file under dir and returns a Writer for it.
func New(fs billy.Filesystem, dir string, logger *slog.Logger, commit CommitFunc) (*Writer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir != "" {
		if err := fs.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.NewError("stage", errors.Staging(err)).
				WithMessage(fmt.Sprintf("create scratch dir %q", dir))
		}
	}

	name := fs.Join(dir, filePrefix+uuid.NewString())
	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.NewError("stage", errors.Staging(err)).
			WithMessage(fmt.Sprintf("create scratch file %q", name))
	}

	return &Writer{
		fs:     fs,
		name:   name,
		file:   file,
		digest: md5.New(),
		commit: commit,
		logger: logger,
	}, nil
}

// Name returns the scratch file name.
func (w *Writer) Name() string {
	return w.name
}

// Write appends p to the scratch file. After a failed write every later
// call returns the same error.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, errors.NewError("write", errors.Staging(os.ErrClosed))
	}
	if w.err != nil {
		return 0, w.err
	}

	n, err := w.file.Write(p)
	w.digest.Write(p[:n])
	if room := 512 - len(w.head); room > 0 {
		w.head = append(w.head, p[:min(n, room)]...)
	}
	w.size += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = errors.NewError("write", errors.Staging(err)).
			WithMessage(fmt.Sprintf("scratch file %q", w.name))
		return n, w.err
	}
	return n, nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Digest returns the MD5 of the bytes written so far.
func (w *Writer) Digest() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.digest.Sum(nil)
}

// Commit hands the staged file to the commit function and removes it. A
// write failure is returned without calling the commit function. Repeated
// calls return the first result.
func (w *Writer) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return w.result
	}
	w.done = true
	defer w.cleanup(ctx)

	if w.err != nil {
		w.result = w.err
		return w.result
	}

	w.result = w.commit(ctx, Staged{
		Source: w.file,
		Size:   w.size,
		MD5:    w.digest.Sum(nil),
		Head:   w.head,
	})
	return w.result
}

// Abort discards the staged bytes without committing them.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return
	}
	w.done = true
	w.result = errors.NewError("commit", errors.Staging(os.ErrClosed)).WithMessage("writer aborted")
	w.cleanup(context.Background())
}

func (w *Writer) cleanup(ctx context.Context) {
	if err := w.file.Close(); err != nil {
		w.logger.WarnContext(ctx, "failed to close scratch file", "file", w.name, "error", err)
	}
	if err := w.fs.Remove(w.name); err != nil {
		w.logger.WarnContext(ctx, "failed to remove scratch file", "file", w.name, "error", err)
	}
}
