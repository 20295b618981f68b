// Package transfer holds checks shared by the upload and copy engines.
// Multipart session handling lives in the multipart subpackage.
package transfer

import (
	"context"
	"fmt"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// VerifySize checks that the object at key holds want bytes. The object is
// deleted when its size differs or the Head fails.
func VerifySize(ctx context.Context, s store.Store, key string, want int64) (*store.ObjectMetadata, error) {
	head, err := s.Head(ctx, key)
	if err != nil {
		cause := errors.NewKeyError("verify", key, errors.Transfer(err))
		return nil, Discard(ctx, s, key, cause)
	}
	if head.Size == want {
		return head, nil
	}
	cause := errors.NewKeyError("verify", key, errors.ErrChecksumMismatch).
		WithMessage(fmt.Sprintf("stored size %d, expected %d", head.Size, want))
	return nil, Discard(ctx, s, key, cause)
}

// Discard deletes an object that failed verification and returns cause,
// joined with any delete failure. The delete runs even if ctx is canceled.
// Deleting a key that is already gone is not a failure.
func Discard(ctx context.Context, s store.Store, key string, cause error) error {
	if err := s.Delete(context.WithoutCancel(ctx), key); err != nil {
		if errors.IsNotFound(err) {
			return cause
		}
		return errors.Join(cause, fmt.Errorf("delete unverified object: %w", err))
	}
	return cause
}
