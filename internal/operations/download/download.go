// Package download opens streaming reads of stored objects.
//
// Each Open issues one fresh Get; readers are forward-only and cannot be
// restarted. The MD5 of the bytes read is computed on the fly.
package download

import (
	"bytes"
	"context"
	"crypto/md5"
	"hash"
	"io"
	"log/slog"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// Downloader opens object reads.
type Downloader struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a new Downloader instance.
func New(s store.Store, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{
		store:  s,
		logger: logger,
	}
}

// Open starts a read of key. It fails with ErrNotFound if the key does not
// exist at open time.
func (d *Downloader) Open(ctx context.Context, key string) (*Reader, error) {
	obj, err := d.store.Get(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewKeyError("open", key, err)
		}
		return nil, errors.NewKeyError("open", key, errors.Transfer(err))
	}
	d.logger.DebugContext(ctx, "object opened", "key", key, "size", obj.Size)
	return &Reader{
		body:   obj.Body,
		meta:   obj.ObjectMetadata,
		digest: md5.New(),
	}, nil
}

// Get reads a whole object into memory.
func (d *Downloader) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := d.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, errors.NewKeyError("get", key, errors.Transfer(err))
	}
	return buf.Bytes(), nil
}

// Reader streams one object.
type Reader struct {
	body   io.ReadCloser
	meta   store.ObjectMetadata
	digest hash.Hash
	read   int64
}

// Read implements io.Reader. A stream that ends before the advertised
// object size returns io.ErrUnexpectedEOF.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		r.digest.Write(p[:n])
		r.read += int64(n)
	}
	if err == io.EOF && r.read < r.meta.Size {
		return n, io.ErrUnexpectedEOF
	}
	//nolint:wrapcheck // io.Reader contract: EOF must be returned unwrapped
	return n, err
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	return r.body.Close()
}

// Metadata returns the object metadata captured at open time.
func (r *Reader) Metadata() store.ObjectMetadata {
	return r.meta
}

// Size returns the advertised object size.
func (r *Reader) Size() int64 {
	return r.meta.Size
}

// BytesRead returns how many bytes have been read so far.
func (r *Reader) BytesRead() int64 {
	return r.read
}

// Digest returns the MD5 of the bytes read so far.
func (r *Reader) Digest() []byte {
	return r.digest.Sum(nil)
}
