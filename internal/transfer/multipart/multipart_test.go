package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objerrors "github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		partSize int64
		want     []Part
	}{
		{
			name:     "exact multiple",
			total:    20,
			partSize: 10,
			want:     []Part{{1, 0, 10}, {2, 10, 10}},
		},
		{
			name:     "short last part",
			total:    25,
			partSize: 10,
			want:     []Part{{1, 0, 10}, {2, 10, 10}, {3, 20, 5}},
		},
		{
			name:     "single part",
			total:    3,
			partSize: 10,
			want:     []Part{{1, 0, 3}},
		},
		{
			name:     "empty",
			total:    0,
			partSize: 10,
			want:     []Part{{Number: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.total, tt.partSize))
		})
	}
}

func TestPlan_LargeObject(t *testing.T) {
	const total = 50 * 1024 * 1024
	parts := Plan(total, objtypes.DefaultPartSize)
	require.Len(t, parts, 7)

	var sum int64
	for i, p := range parts {
		assert.Equal(t, int32(i+1), p.Number)
		assert.Equal(t, sum, p.Offset)
		sum += p.Size
	}
	assert.Equal(t, int64(total), sum)
	assert.Equal(t, store.ByteRange{First: 48 * 1024 * 1024, Last: total - 1}, parts[6].Range())
}

func TestPartSize(t *testing.T) {
	const mib = 1024 * 1024
	assert.Equal(t, int64(8*mib), PartSize(50*mib, 8*mib))

	// 100 GiB at 8 MiB would need 12800 parts.
	total := int64(100 * 1024 * mib)
	size := PartSize(total, 8*mib)
	assert.Greater(t, size, int64(8*mib))
	assert.Zero(t, size%mib)
	assert.LessOrEqual(t, len(Plan(total, size)), objtypes.MaxParts)
}

func newConfig() *objtypes.Config {
	return objtypes.NewConfig(func(c *objtypes.Config) { c.AbortTimeout = time.Second })
}

func uploadFunc(rs *testutil.RecordingStore, sess *Session, data []byte) TransferFunc {
	return func(ctx context.Context, p Part) (string, error) {
		body := bytes.NewReader(data[p.Offset : p.Offset+p.Size])
		return rs.UploadPart(ctx, sess.Key(), sess.ID(), p.Number, body, p.Size)
	}
}

func TestSession_RunAndComplete(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	data := testutil.GenerateRandomData(100)

	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)

	parts := Plan(int64(len(data)), 7)
	require.NoError(t, sess.Run(ctx, "uploadPart", parts, 3, uploadFunc(rs, sess, data)))
	assert.LessOrEqual(t, rs.MaxConcurrentParts(), 3)

	recorded := sess.Parts()
	require.Len(t, recorded, len(parts))
	for i, p := range recorded {
		assert.Equal(t, int32(i+1), p.PartNumber)
	}

	meta, err := sess.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), meta.Size)
	assert.Equal(t, data, testutil.ReadObject(t, rs, "obj"))
	assert.Empty(t, rs.OpenUploads())
	assert.False(t, rs.Called(testutil.OpAbort))
}

func TestSession_CompleteSortsOutOfOrderParts(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)

	for _, n := range []int32{3, 1, 2} {
		etag, err := rs.UploadPart(ctx, "obj", sess.ID(), n, bytes.NewReader([]byte{byte('a' + n)}), 1)
		require.NoError(t, err)
		sess.Record(store.CompletedPart{PartNumber: n, Size: 1, ETag: etag})
	}

	_, err = sess.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(testutil.ReadObject(t, rs, "obj")))
}

func TestSession_PartFailureAborts(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	partErr := errors.New("connection reset by peer")
	rs.FailFunc = testutil.FailOn(testutil.OpUploadPart, 2, partErr)
	data := testutil.Repeat('Q', 50)

	run := func() (err error) {
		sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
		if err != nil {
			return err
		}
		defer sess.Release(ctx, &err)
		if err := sess.Run(ctx, "uploadPart", Plan(50, 10), 2, uploadFunc(rs, sess, data)); err != nil {
			return err
		}
		_, err = sess.Complete(ctx)
		return err
	}

	err := run()
	require.Error(t, err)
	assert.ErrorIs(t, err, partErr)
	assert.True(t, objerrors.IsTransfer(err))
	assert.Contains(t, err.Error(), "part 2")

	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
	assert.False(t, rs.Called(testutil.OpComplete))
	assert.Empty(t, rs.OpenUploads())
	_, err = rs.Head(ctx, "obj")
	assert.True(t, objerrors.IsNotFound(err))
}

func TestSession_AbortFailureJoinsCause(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	partErr := errors.New("part failed")
	abortErr := errors.New("abort denied")
	rs.FailFunc = func(c testutil.Call) error {
		switch c.Op {
		case testutil.OpUploadPart:
			return partErr
		case testutil.OpAbort:
			return abortErr
		}
		return nil
	}

	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)
	runErr := sess.Run(ctx, "uploadPart", Plan(10, 5), 1, uploadFunc(rs, sess, testutil.Repeat('x', 10)))
	require.Error(t, runErr)

	err = sess.Abort(ctx, runErr)
	assert.ErrorIs(t, err, partErr)
	assert.ErrorIs(t, err, abortErr)
	// The original cause is reported first.
	assert.Contains(t, err.Error(), "part failed")
	assert.Less(t, bytes.Index([]byte(err.Error()), []byte("part failed")),
		bytes.Index([]byte(err.Error()), []byte("abort denied")))

	// A second abort is a no-op.
	assert.Equal(t, runErr, sess.Abort(ctx, runErr))
	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
}

func TestSession_AbortRunsAfterCancellation(t *testing.T) {
	rs := testutil.NewRecordingStore()
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)

	started := make(chan struct{})
	fn := func(ctx context.Context, p Part) (string, error) {
		if p.Number == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		<-ctx.Done()
		return "", ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx, "uploadPart", Plan(30, 10), 3, fn)
	}()
	<-started
	cancel()

	runErr := <-done
	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, context.Canceled)

	// The caller's context is canceled, yet the abort still reaches the store.
	err = sess.Abort(ctx, runErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
	assert.Empty(t, rs.OpenUploads())
}

func TestSession_CompleteRejectsGaps(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)

	sess.Record(store.CompletedPart{PartNumber: 1, ETag: "a"})
	sess.Record(store.CompletedPart{PartNumber: 3, ETag: "c"})

	_, err = sess.Complete(ctx)
	require.Error(t, err)
	assert.True(t, objerrors.IsTransfer(err))
	assert.Contains(t, err.Error(), "missing part 2")
	assert.False(t, rs.Called(testutil.OpComplete))
	assert.Empty(t, rs.OpenUploads())
}

func TestSession_CompleteFailureAborts(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()
	rs.MinPartSize = 5
	sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
	require.NoError(t, err)
	require.NoError(t, sess.Run(ctx, "uploadPart", Plan(4, 2), 2, uploadFunc(rs, sess, []byte("abcd"))))

	_, err = sess.Complete(ctx)
	require.Error(t, err)
	assert.True(t, objerrors.IsTransfer(err))
	assert.Contains(t, err.Error(), "EntityTooSmall")
	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
	assert.Empty(t, rs.OpenUploads())
}

func TestSession_ReleaseWithoutCompletion(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()

	run := func() (err error) {
		sess, err := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
		if err != nil {
			return err
		}
		defer sess.Release(ctx, &err)
		return nil
	}

	err := run()
	assert.True(t, objerrors.IsTransfer(err))
	assert.Empty(t, rs.OpenUploads())
}

func TestSession_ReleaseOnPanic(t *testing.T) {
	ctx := context.Background()
	rs := testutil.NewRecordingStore()

	assert.Panics(t, func() {
		var err error
		sess, _ := Begin(ctx, rs, "obj", store.PutOptions{}, newConfig())
		defer sess.Release(ctx, &err)
		panic("boom")
	})
	assert.Empty(t, rs.OpenUploads())
}

func TestBegin_Failure(t *testing.T) {
	rs := testutil.NewRecordingStore()
	rs.FailFunc = testutil.FailOn(testutil.OpInitiate, 0, fmt.Errorf("AccessDenied"))

	_, err := Begin(context.Background(), rs, "obj", store.PutOptions{}, newConfig())
	require.Error(t, err)
	assert.True(t, objerrors.IsTransfer(err))
	assert.Empty(t, rs.OpenUploads())
}

func TestSyncReaderAt(t *testing.T) {
	r := SyncReaderAt(bytes.NewReader([]byte("0123456789")))
	buf := make([]byte, 3)
	n, err := r.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "456", string(buf))

	_, err = r.ReadAt(buf, 9)
	assert.ErrorIs(t, err, io.EOF)
}
