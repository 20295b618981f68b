package testutil

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store/memstore"
)

// Store operation names recorded by RecordingStore.
const (
	OpPut        = "Put"
	OpGet        = "Get"
	OpHead       = "Head"
	OpList       = "List"
	OpDelete     = "Delete"
	OpDeleteMany = "DeleteMany"
	OpCopy       = "Copy"
	OpInitiate   = "InitiateMultipart"
	OpUploadPart = "UploadPart"
	OpCopyPart   = "CopyPart"
	OpComplete   = "CompleteMultipart"
	OpAbort      = "AbortMultipart"
)

// Call is one recorded store call.
type Call struct {
	Op         string
	Key        string
	PartNumber int32
}

// RecordingStore wraps a memstore.Store, records every call and can inject
// failures.
type RecordingStore struct {
	*memstore.Store

	// FailFunc is consulted before each call; a non-nil error is returned
	// instead of running the call.
	FailFunc func(Call) error

	mu       sync.Mutex
	calls    []Call
	inFlight int
	maxParts int
}

// NewRecordingStore creates a RecordingStore over an empty memstore.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{Store: memstore.New()}
}

var (
	_ store.Store        = (*RecordingStore)(nil)
	_ store.BatchDeleter = (*RecordingStore)(nil)
)

func (r *RecordingStore) record(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	fail := r.FailFunc
	r.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

// Calls returns every recorded call in order.
func (r *RecordingStore) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many times op was called.
func (r *RecordingStore) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Called reports whether op was called at least once.
func (r *RecordingStore) Called(op string) bool {
	return r.Count(op) > 0
}

// MaxConcurrentParts returns the most part transfers observed in flight at
// once.
func (r *RecordingStore) MaxConcurrentParts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxParts
}

// Reset forgets recorded calls. Stored objects are kept.
func (r *RecordingStore) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.maxParts = 0
}

func (r *RecordingStore) enterPart() func() {
	r.mu.Lock()
	r.inFlight++
	r.maxParts = max(r.maxParts, r.inFlight)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}
}

// Put implements store.Store.
func (r *RecordingStore) Put(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	opts store.PutOptions,
) (*store.ObjectMetadata, error) {
	if err := r.record(Call{Op: OpPut, Key: key}); err != nil {
		return nil, err
	}
	return r.Store.Put(ctx, key, body, size, opts)
}

// Get implements store.Store.
func (r *RecordingStore) Get(ctx context.Context, key string) (*store.Object, error) {
	if err := r.record(Call{Op: OpGet, Key: key}); err != nil {
		return nil, err
	}
	return r.Store.Get(ctx, key)
}

// Head implements store.Store.
func (r *RecordingStore) Head(ctx context.Context, key string) (*store.ObjectMetadata, error) {
	if err := r.record(Call{Op: OpHead, Key: key}); err != nil {
		return nil, err
	}
	return r.Store.Head(ctx, key)
}

// List implements store.Store.
func (r *RecordingStore) List(ctx context.Context, prefix string, opts store.ListOptions) (*store.ListResult, error) {
	if err := r.record(Call{Op: OpList, Key: prefix}); err != nil {
		return nil, err
	}
	return r.Store.List(ctx, prefix, opts)
}

// Delete implements store.Store.
func (r *RecordingStore) Delete(ctx context.Context, key string) error {
	if err := r.record(Call{Op: OpDelete, Key: key}); err != nil {
		return err
	}
	return r.Store.Delete(ctx, key)
}

// DeleteMany implements store.BatchDeleter.
func (r *RecordingStore) DeleteMany(ctx context.Context, keys []string) error {
	first := ""
	if len(keys) > 0 {
		first = keys[0]
	}
	if err := r.record(Call{Op: OpDeleteMany, Key: first}); err != nil {
		return err
	}
	return r.Store.DeleteMany(ctx, keys)
}

// Copy implements store.Store.
func (r *RecordingStore) Copy(ctx context.Context, srcKey, dstKey string) (*store.ObjectMetadata, error) {
	if err := r.record(Call{Op: OpCopy, Key: dstKey}); err != nil {
		return nil, err
	}
	return r.Store.Copy(ctx, srcKey, dstKey)
}

// InitiateMultipart implements store.Store.
func (r *RecordingStore) InitiateMultipart(ctx context.Context, key string, opts store.PutOptions) (string, error) {
	if err := r.record(Call{Op: OpInitiate, Key: key}); err != nil {
		return "", err
	}
	return r.Store.InitiateMultipart(ctx, key, opts)
}

// UploadPart implements store.Store.
func (r *RecordingStore) UploadPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	body io.ReadSeeker,
	size int64,
) (string, error) {
	defer r.enterPart()()
	if err := r.record(Call{Op: OpUploadPart, Key: key, PartNumber: partNumber}); err != nil {
		return "", err
	}
	return r.Store.UploadPart(ctx, key, uploadID, partNumber, body, size)
}

// CopyPart implements store.Store.
func (r *RecordingStore) CopyPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	srcKey string,
	br store.ByteRange,
) (string, error) {
	defer r.enterPart()()
	if err := r.record(Call{Op: OpCopyPart, Key: key, PartNumber: partNumber}); err != nil {
		return "", err
	}
	return r.Store.CopyPart(ctx, key, uploadID, partNumber, srcKey, br)
}

// CompleteMultipart implements store.Store.
func (r *RecordingStore) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []store.CompletedPart,
) (*store.ObjectMetadata, error) {
	if err := r.record(Call{Op: OpComplete, Key: key}); err != nil {
		return nil, err
	}
	return r.Store.CompleteMultipart(ctx, key, uploadID, parts)
}

// AbortMultipart implements store.Store.
func (r *RecordingStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := r.record(Call{Op: OpAbort, Key: key}); err != nil {
		return err
	}
	return r.Store.AbortMultipart(ctx, key, uploadID)
}

// FailOn returns a FailFunc that fails every call matching op and, when
// partNumber is positive, that part number.
func FailOn(op string, partNumber int32, err error) func(Call) error {
	return func(c Call) error {
		if c.Op == op && (partNumber <= 0 || c.PartNumber == partNumber) {
			return err
		}
		return nil
	}
}

// FailAfter returns a FailFunc that fails op calls on key once a trigger
// call has been recorded. Calls before the trigger succeed.
func FailAfter(trigger, op, key string, err error) func(Call) error {
	var armed atomic.Bool
	return func(c Call) error {
		if c.Op == trigger {
			armed.Store(true)
			return nil
		}
		if armed.Load() && c.Op == op && c.Key == key {
			return err
		}
		return nil
	}
}

// PlainStore hides optional interfaces such as store.BatchDeleter.
type PlainStore struct {
	store.Store
}
