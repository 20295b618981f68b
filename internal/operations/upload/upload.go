// Package upload writes staged bytes to the object store.
//
// Objects at or below the multipart threshold are written with a single
// Put carrying Content-MD5. Larger objects go through a multipart session
// whose parts are uploaded in parallel; any failure aborts the session so
// that the key is never left partially written.
package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/transfer/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// sniffLen is how many leading bytes content type detection looks at.
const sniffLen = 512

// Options describes the bytes being uploaded.
type Options struct {
	// ContentType overrides content type detection
	ContentType string

	// MD5 is the digest of the whole source, if already known
	MD5 []byte

	// Head holds the leading bytes of the source, if already known
	Head []byte
}

// Uploader writes objects with automatic multipart selection.
type Uploader struct {
	store store.Store
	cfg   *objtypes.Config
}

// New creates a new Uploader.
func New(s store.Store, cfg *objtypes.Config) *Uploader {
	return &Uploader{
		store: s,
		cfg:   cfg,
	}
}

// Upload writes size bytes of src to key. On success the object is
// readable and its stored size equals size; on failure key holds no new
// object and no multipart session is left open.
func (u *Uploader) Upload(
	ctx context.Context,
	key string,
	src io.ReaderAt,
	size int64,
	opts Options,
) (*objtypes.UploadResult, error) {
	start := time.Now()

	contentType, err := u.contentType(src, size, opts)
	if err != nil {
		return nil, errors.NewKeyError("upload", key, errors.Staging(err))
	}

	var result *objtypes.UploadResult
	if size <= u.cfg.MultipartThreshold {
		result, err = u.uploadSimple(ctx, key, src, size, contentType, opts.MD5)
	} else {
		result, err = u.uploadMultipart(ctx, key, src, size, contentType)
	}
	if err != nil {
		u.cfg.Logger.ErrorContext(ctx, "upload failed", "key", key, "size", size, "error", err)
		return nil, err
	}

	result.Duration = time.Since(start)
	u.cfg.Logger.InfoContext(ctx, "upload completed",
		"key", key,
		"size", size,
		"parts", result.Parts,
		"duration", result.Duration,
	)
	return result, nil
}

// uploadSimple writes the object with one Put.
func (u *Uploader) uploadSimple(
	ctx context.Context,
	key string,
	src io.ReaderAt,
	size int64,
	contentType string,
	sum []byte,
) (*objtypes.UploadResult, error) {
	if sum == nil {
		h := md5.New()
		if _, err := io.Copy(h, io.NewSectionReader(src, 0, size)); err != nil {
			return nil, errors.NewKeyError("upload", key, errors.Staging(err))
		}
		sum = h.Sum(nil)
	}

	meta, err := u.store.Put(ctx, key, io.NewSectionReader(src, 0, size), size, store.PutOptions{
		ContentType: contentType,
		ContentMD5:  sum,
	})
	if err != nil {
		return nil, errors.NewKeyError("put", key, errors.Transfer(err))
	}

	if etag := strings.Trim(meta.ETag, `"`); isPlainMD5(etag) && etag != hex.EncodeToString(sum) {
		cause := errors.NewKeyError("put", key, errors.ErrChecksumMismatch).
			WithMessage(fmt.Sprintf("stored etag %s, local md5 %x", etag, sum))
		return nil, transfer.Discard(ctx, u.store, key, cause)
	}

	return &objtypes.UploadResult{
		Key:  key,
		Size: size,
		ETag: meta.ETag,
	}, nil
}

// uploadMultipart writes the object through a multipart session.
func (u *Uploader) uploadMultipart(
	ctx context.Context,
	key string,
	src io.ReaderAt,
	size int64,
	contentType string,
) (_ *objtypes.UploadResult, err error) {
	parts := multipart.Plan(size, multipart.PartSize(size, u.cfg.PartSize))

	sess, err := multipart.Begin(ctx, u.store, key, store.PutOptions{ContentType: contentType}, u.cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Release(ctx, &err)

	src = multipart.SyncReaderAt(src)
	err = sess.Run(ctx, "uploadPart", parts, u.cfg.Concurrency, func(ctx context.Context, p multipart.Part) (string, error) {
		return u.store.UploadPart(ctx, key, sess.ID(), p.Number, io.NewSectionReader(src, p.Offset, p.Size), p.Size)
	})
	if err != nil {
		return nil, err
	}

	meta, err := sess.Complete(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := transfer.VerifySize(ctx, u.store, key, size); err != nil {
		return nil, err
	}

	return &objtypes.UploadResult{
		Key:   key,
		Size:  size,
		ETag:  meta.ETag,
		Parts: len(parts),
	}, nil
}

// contentType returns opts.ContentType or sniffs it from the first bytes.
func (u *Uploader) contentType(src io.ReaderAt, size int64, opts Options) (string, error) {
	if opts.ContentType != "" {
		return opts.ContentType, nil
	}
	head := opts.Head
	if head == nil {
		head = make([]byte, min(size, sniffLen))
		if _, err := src.ReadAt(head, 0); err != nil && err != io.EOF {
			return "", fmt.Errorf("read leading bytes: %w", err)
		}
	}
	return mimetype.Detect(head).String(), nil
}

// isPlainMD5 reports whether etag is a bare hex MD5 rather than a multipart
// or otherwise derived tag.
func isPlainMD5(etag string) bool {
	if len(etag) != 2*md5.Size {
		return false
	}
	_, err := hex.DecodeString(etag)
	return err == nil
}
