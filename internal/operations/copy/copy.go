// Package copy implements server-side object copy and rename.
//
// Sources at or below the multipart threshold are copied with one Copy
// call; larger ones with a multipart session of ranged part copies. Rename
// is a copy followed by a delete of the source and is not atomic: if the
// delete fails both objects remain and ErrPartialRename is returned.
package copy

import (
	"context"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/transfer/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// Source identifies the object being copied.
type Source struct {
	// Key is the source object key
	Key string

	// Size is the source size in bytes; it selects the copy strategy
	Size int64

	// ContentType is carried over to multipart copies
	ContentType string
}

// Copier handles copy operations with automatic multipart support.
type Copier struct {
	store store.Store
	cfg   *objtypes.Config
}

// NewCopier creates a new copy operation handler.
func NewCopier(s store.Store, cfg *objtypes.Config) *Copier {
	return &Copier{
		store: s,
		cfg:   cfg,
	}
}

// Copy copies src to dstKey. On success the destination holds src.Size
// bytes; on failure no destination object is created and the source is
// untouched.
func (c *Copier) Copy(ctx context.Context, src Source, dstKey string) (*objtypes.UploadResult, error) {
	start := time.Now()

	var (
		result *objtypes.UploadResult
		err    error
	)
	if src.Size <= c.cfg.MultipartThreshold {
		result, err = c.simpleCopy(ctx, src, dstKey)
	} else {
		result, err = c.multipartCopy(ctx, src, dstKey)
	}
	if err != nil {
		c.cfg.Logger.ErrorContext(ctx, "copy failed",
			"src_key", src.Key, "key", dstKey, "size", src.Size, "error", err)
		return nil, err
	}

	result.Duration = time.Since(start)
	c.cfg.Logger.InfoContext(ctx, "copy completed",
		"src_key", src.Key,
		"key", dstKey,
		"size", src.Size,
		"parts", result.Parts,
		"duration", result.Duration,
	)
	return result, nil
}

// Rename copies src to dstKey and then deletes the source.
func (c *Copier) Rename(ctx context.Context, src Source, dstKey string) (*objtypes.UploadResult, error) {
	if src.Key == dstKey {
		return &objtypes.UploadResult{Key: dstKey, Size: src.Size}, nil
	}

	result, err := c.Copy(ctx, src, dstKey)
	if err != nil {
		return nil, err
	}

	if err := c.store.Delete(ctx, src.Key); err != nil {
		c.cfg.Logger.ErrorContext(ctx, "rename left source behind",
			"src_key", src.Key, "key", dstKey, "error", err)
		return result, errors.NewKeyError("rename", src.Key,
			errors.Join(errors.ErrPartialRename, errors.Transfer(err))).
			WithMessage("copied to " + dstKey)
	}
	return result, nil
}

// simpleCopy performs a single server-side copy.
func (c *Copier) simpleCopy(ctx context.Context, src Source, dstKey string) (*objtypes.UploadResult, error) {
	if _, err := c.store.Copy(ctx, src.Key, dstKey); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewKeyError("copy", src.Key, err)
		}
		return nil, errors.NewKeyError("copy", dstKey, errors.Transfer(err)).
			WithMessage("from " + src.Key)
	}

	meta, err := transfer.VerifySize(ctx, c.store, dstKey, src.Size)
	if err != nil {
		return nil, err
	}
	return &objtypes.UploadResult{
		Key:  dstKey,
		Size: meta.Size,
		ETag: meta.ETag,
	}, nil
}

// multipartCopy copies the source in byte ranges under one session.
func (c *Copier) multipartCopy(ctx context.Context, src Source, dstKey string) (_ *objtypes.UploadResult, err error) {
	parts := multipart.Plan(src.Size, multipart.PartSize(src.Size, c.cfg.PartSize))

	sess, err := multipart.Begin(ctx, c.store, dstKey, store.PutOptions{ContentType: src.ContentType}, c.cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Release(ctx, &err)

	err = sess.Run(ctx, "copyPart", parts, c.cfg.Concurrency, func(ctx context.Context, p multipart.Part) (string, error) {
		return c.store.CopyPart(ctx, dstKey, sess.ID(), p.Number, src.Key, p.Range())
	})
	if err != nil {
		return nil, err
	}

	if _, err := sess.Complete(ctx); err != nil {
		return nil, err
	}

	meta, err := transfer.VerifySize(ctx, c.store, dstKey, src.Size)
	if err != nil {
		return nil, err
	}
	return &objtypes.UploadResult{
		Key:   dstKey,
		Size:  meta.Size,
		ETag:  meta.ETag,
		Parts: len(parts),
	}, nil
}
