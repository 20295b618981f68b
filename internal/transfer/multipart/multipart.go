// Package multipart drives multipart sessions for uploads and server-side
// copies.
//
// A Session is owned by exactly one operation. It is started with Begin and
// must end in Complete or Abort before that operation returns; Release is
// meant to be deferred right after Begin so that every exit path, including
// panics and cancellation, terminates the session.
package multipart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// Part is one planned part of a transfer.
type Part struct {
	Number int32
	Offset int64
	Size   int64
}

// Range returns the inclusive byte range the part covers.
func (p Part) Range() store.ByteRange {
	return store.ByteRange{First: p.Offset, Last: p.Offset + p.Size - 1}
}

// PartSize returns the part size to use for an object of total bytes. The
// configured size is grown, in whole MiB, until the object fits in
// objtypes.MaxParts parts.
func PartSize(total, configured int64) int64 {
	const mib = 1024 * 1024
	size := configured
	for (total+size-1)/size > objtypes.MaxParts {
		size = ((total/objtypes.MaxParts)/mib + 1) * mib
	}
	return size
}

// Plan splits total bytes into parts of partSize, numbered from 1. The last
// part carries the remainder. An empty object gets a single empty part.
func Plan(total, partSize int64) []Part {
	if total <= 0 {
		return []Part{{Number: 1}}
	}
	n := (total + partSize - 1) / partSize
	parts := make([]Part, 0, n)
	for i := int64(0); i < n; i++ {
		off := i * partSize
		parts = append(parts, Part{
			Number: int32(i + 1),
			Offset: off,
			Size:   min(partSize, total-off),
		})
	}
	return parts
}

// TransferFunc moves one part and returns its ETag.
type TransferFunc func(ctx context.Context, p Part) (string, error)

// Session is an open multipart session on one key.
type Session struct {
	store        store.Store
	key          string
	id           string
	abortTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	parts []store.CompletedPart
	done  bool
}

// Begin initiates a multipart session on key.
func Begin(
	ctx context.Context,
	s store.Store,
	key string,
	opts store.PutOptions,
	cfg *objtypes.Config,
) (*Session, error) {
	id, err := s.InitiateMultipart(ctx, key, opts)
	if err != nil {
		return nil, errors.NewKeyError("initiateMultipart", key, errors.Transfer(err))
	}
	cfg.Logger.DebugContext(ctx, "multipart session started", "key", key, "upload_id", id)
	return &Session{
		store:        s,
		key:          key,
		id:           id,
		abortTimeout: cfg.AbortTimeout,
		logger:       cfg.Logger,
	}, nil
}

// ID returns the store's upload id.
func (s *Session) ID() string {
	return s.id
}

// Key returns the key the session writes.
func (s *Session) Key() string {
	return s.key
}

// Record adds a finished part. Parts may be recorded in any order.
func (s *Session) Record(p store.CompletedPart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, p)
}

// Parts returns the recorded parts in increasing part number order.
func (s *Session) Parts() []store.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedParts()
}

func (s *Session) sortedParts() []store.CompletedPart {
	out := append([]store.CompletedPart(nil), s.parts...)
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

// Run transfers parts with at most limit in flight and records each one.
// The first failure cancels the remaining parts and is returned.
func (s *Session) Run(ctx context.Context, op string, parts []Part, limit int, fn TransferFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, p := range parts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			etag, err := fn(gctx, p)
			if err != nil {
				return errors.NewKeyError(op, s.key, errors.Transfer(err)).
					WithMessage(fmt.Sprintf("part %d", p.Number))
			}
			s.Record(store.CompletedPart{PartNumber: p.Number, Size: p.Size, ETag: etag})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// errgroup only cancels gctx on failure; a canceled parent may have
	// stopped the loop early without any part failing.
	if err := ctx.Err(); err != nil {
		return errors.NewKeyError(op, s.key, errors.Transfer(err))
	}
	return nil
}

// Complete assembles the recorded parts. The part numbers must run from 1
// without gaps. On failure the session is aborted.
func (s *Session) Complete(ctx context.Context) (*store.ObjectMetadata, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, errors.NewKeyError("completeMultipart", s.key, errors.ErrTransfer).
			WithMessage("session already terminated")
	}
	parts := s.sortedParts()
	s.mu.Unlock()

	for i, p := range parts {
		if p.PartNumber != int32(i+1) {
			err := errors.NewKeyError("completeMultipart", s.key, errors.ErrTransfer).
				WithMessage(fmt.Sprintf("missing part %d", i+1))
			return nil, s.Abort(ctx, err)
		}
	}
	if len(parts) == 0 {
		err := errors.NewKeyError("completeMultipart", s.key, errors.ErrTransfer).WithMessage("no parts")
		return nil, s.Abort(ctx, err)
	}

	meta, err := s.store.CompleteMultipart(ctx, s.key, s.id, parts)
	if err != nil {
		return nil, s.Abort(ctx, errors.NewKeyError("completeMultipart", s.key, errors.Transfer(err)))
	}

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "multipart session completed",
		"key", s.key, "upload_id", s.id, "parts", len(parts))
	return meta, nil
}

// Abort discards the session and returns cause joined with any abort
// failure. The abort call runs detached from ctx cancellation, bounded by
// the configured abort timeout. Aborting a terminated session returns cause.
func (s *Session) Abort(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return cause
	}
	s.done = true
	s.mu.Unlock()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.abortTimeout)
	defer cancel()

	if err := s.store.AbortMultipart(actx, s.key, s.id); err != nil {
		s.logger.ErrorContext(ctx, "failed to abort multipart session",
			"key", s.key, "upload_id", s.id, "error", err)
		return errors.WithAbort(cause, err)
	}
	s.logger.InfoContext(ctx, "multipart session aborted",
		"key", s.key, "upload_id", s.id, "cause", cause)
	return cause
}

// Release aborts the session if it is still open, folding any failure into
// *errp. Defer it right after Begin.
func (s *Session) Release(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		_ = s.Abort(ctx, fmt.Errorf("panic: %v", r))
		panic(r)
	}
	s.mu.Lock()
	open := !s.done
	s.mu.Unlock()
	if !open {
		return
	}
	cause := *errp
	if cause == nil {
		cause = errors.NewKeyError("multipart", s.key, errors.ErrTransfer).
			WithMessage("session released without completion")
	}
	*errp = s.Abort(ctx, cause)
}

// SyncReaderAt serializes ReadAt calls on r, for sources that are not safe
// for concurrent reads.
func SyncReaderAt(r io.ReaderAt) io.ReaderAt {
	return &lockedReaderAt{r: r}
}

type lockedReaderAt struct {
	mu sync.Mutex
	r  io.ReaderAt
}

func (l *lockedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.ReadAt(p, off)
}
