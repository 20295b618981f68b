package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objerrors "github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

func testConfig(logs *[]testutil.LogEntry) *objtypes.Config {
	return objtypes.NewConfig(func(c *objtypes.Config) {
		c.MultipartThreshold = 10
		c.PartSize = 4
		c.Concurrency = 2
		c.AbortTimeout = time.Second
		if logs != nil {
			c.Logger = testutil.NewTestLogger(logs)
		}
	})
}

func TestUploader_ThresholdSelection(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		wantMultipart bool
		wantParts     int
	}{
		{"empty", 0, false, 0},
		{"below threshold", 9, false, 0},
		{"at threshold", 10, false, 0},
		{"above threshold", 11, true, 3},
		{"many parts", 37, true, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := testutil.NewRecordingStore()
			u := New(rs, testConfig(nil))
			data := testutil.GenerateRandomData(tt.size)

			res, err := u.Upload(context.Background(), "k", bytes.NewReader(data), int64(len(data)), Options{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantMultipart, res.Multipart())
			assert.Equal(t, tt.wantParts, res.Parts)
			assert.Equal(t, int64(tt.size), res.Size)
			assert.Equal(t, tt.wantMultipart, rs.Called(testutil.OpInitiate))
			assert.Equal(t, !tt.wantMultipart, rs.Called(testutil.OpPut))
			assert.Equal(t, tt.wantParts, rs.Count(testutil.OpUploadPart))
			assert.Equal(t, data, testutil.ReadObject(t, rs, "k"))
			assert.Empty(t, rs.OpenUploads())
		})
	}
}

func TestUploader_MultipartBoundedConcurrency(t *testing.T) {
	rs := testutil.NewRecordingStore()
	u := New(rs, testConfig(nil))
	data := testutil.Repeat('Q', 400)

	_, err := u.Upload(context.Background(), "k", bytes.NewReader(data), 400, Options{})
	require.NoError(t, err)
	assert.Equal(t, 100, rs.Count(testutil.OpUploadPart))
	assert.LessOrEqual(t, rs.MaxConcurrentParts(), 2)
	assert.Equal(t, 1, rs.Count(testutil.OpHead))
}

func TestUploader_SimpleSendsContentMD5(t *testing.T) {
	rs := testutil.NewRecordingStore()
	u := New(rs, testConfig(nil))
	data := []byte("hello")

	// A wrong digest must be rejected by the store.
	wrong := md5.Sum([]byte("other"))
	_, err := u.Upload(context.Background(), "k", bytes.NewReader(data), 5, Options{MD5: wrong[:]})
	require.Error(t, err)
	assert.True(t, objerrors.IsTransfer(err))
	assert.Contains(t, err.Error(), "BadDigest")
	assert.Empty(t, rs.Keys())

	right := md5.Sum(data)
	res, err := u.Upload(context.Background(), "k", bytes.NewReader(data), 5, Options{MD5: right[:]})
	require.NoError(t, err)
	assert.Equal(t, testutil.CalculateMD5(data), res.ETag)
}

func TestUploader_PartFailureLeavesNothing(t *testing.T) {
	var logs []testutil.LogEntry
	rs := testutil.NewRecordingStore()
	partErr := errors.New("connection reset by peer")
	rs.FailFunc = testutil.FailOn(testutil.OpUploadPart, 3, partErr)
	u := New(rs, testConfig(&logs))

	_, err := u.Upload(context.Background(), "k", bytes.NewReader(testutil.Repeat('Q', 40)), 40, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, partErr)
	assert.Equal(t, objerrors.CodeTransfer, objerrors.CodeOf(err))

	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
	assert.False(t, rs.Called(testutil.OpComplete))
	assert.Empty(t, rs.OpenUploads())
	_, err = rs.Head(context.Background(), "k")
	assert.True(t, objerrors.IsNotFound(err))

	var failed bool
	for _, l := range logs {
		if l.Level == "ERROR" && l.Message == "upload failed" {
			failed = true
			assert.Equal(t, "k", l.Attrs["key"])
		}
	}
	assert.True(t, failed)
}

func TestUploader_UnconfirmedMultipartObjectIsRemoved(t *testing.T) {
	rs := testutil.NewRecordingStore()
	headErr := errors.New("503 SlowDown")
	rs.FailFunc = testutil.FailAfter(testutil.OpComplete, testutil.OpHead, "k", headErr)
	u := New(rs, testConfig(nil))

	_, err := u.Upload(context.Background(), "k", bytes.NewReader(testutil.Repeat('Q', 40)), 40, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, headErr)
	assert.True(t, objerrors.IsTransfer(err))

	assert.True(t, rs.Called(testutil.OpComplete))
	assert.Equal(t, 1, rs.Count(testutil.OpDelete))
	assert.Empty(t, rs.Keys())
	assert.Empty(t, rs.OpenUploads())
}

func TestUploader_CanceledContextAborts(t *testing.T) {
	rs := testutil.NewRecordingStore()
	ctx, cancel := context.WithCancel(context.Background())
	rs.FailFunc = func(c testutil.Call) error {
		if c.Op == testutil.OpUploadPart && c.PartNumber == 2 {
			cancel()
		}
		return nil
	}
	u := New(rs, testConfig(nil))

	_, err := u.Upload(ctx, "k", bytes.NewReader(testutil.Repeat('Q', 40)), 40, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rs.Count(testutil.OpAbort))
	assert.Empty(t, rs.OpenUploads())
	assert.Empty(t, rs.Keys())
}

// shortHeadStore reports a truncated size for every Head.
type shortHeadStore struct {
	*testutil.RecordingStore
}

func (s shortHeadStore) Head(ctx context.Context, key string) (*store.ObjectMetadata, error) {
	meta, err := s.RecordingStore.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	meta.Size--
	return meta, nil
}

func TestUploader_SizeMismatchDeletesObject(t *testing.T) {
	rs := testutil.NewRecordingStore()
	u := New(shortHeadStore{rs}, testConfig(nil))

	_, err := u.Upload(context.Background(), "k", bytes.NewReader(testutil.Repeat('Q', 20)), 20, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, objerrors.ErrChecksumMismatch)
	assert.Equal(t, 1, rs.Count(testutil.OpDelete))
	assert.Empty(t, rs.Keys())
	assert.Empty(t, rs.OpenUploads())
}

// etagStore returns a fixed ETag from Put.
type etagStore struct {
	*testutil.RecordingStore
	etag string
}

func (s etagStore) Put(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	opts store.PutOptions,
) (*store.ObjectMetadata, error) {
	meta, err := s.RecordingStore.Put(ctx, key, body, size, opts)
	if err != nil {
		return nil, err
	}
	meta.ETag = s.etag
	return meta, nil
}

func TestUploader_ETagVerification(t *testing.T) {
	tests := []struct {
		name    string
		etag    string
		wantErr bool
	}{
		{"mismatched plain md5", `"00000000000000000000000000000000"`, true},
		{"multipart style etag", "00000000000000000000000000000000-2", false},
		{"opaque etag", "v1-abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := testutil.NewRecordingStore()
			u := New(etagStore{RecordingStore: rs, etag: tt.etag}, testConfig(nil))

			_, err := u.Upload(context.Background(), "k", strings.NewReader("hello"), 5, Options{})
			if tt.wantErr {
				assert.ErrorIs(t, err, objerrors.ErrChecksumMismatch)
				assert.Empty(t, rs.Keys())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, []string{"k"}, rs.Keys())
			}
		})
	}
}

func TestUploader_ContentType(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), testutil.Repeat(0, 32)...)

	tests := []struct {
		name string
		data []byte
		opts Options
		want string
	}{
		{"explicit", []byte("{}"), Options{ContentType: "application/json"}, "application/json"},
		{"sniffed text", []byte("plain words"), Options{}, "text/plain"},
		{"sniffed png", png, Options{}, "image/png"},
		{"from staged head", []byte("ignored"), Options{Head: png}, "image/png"},
		{"multipart sniffed png", append(png, testutil.Repeat(0, 20)...), Options{}, "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := testutil.NewRecordingStore()
			u := New(rs, testConfig(nil))
			_, err := u.Upload(context.Background(), "k", bytes.NewReader(tt.data), int64(len(tt.data)), tt.opts)
			require.NoError(t, err)

			meta, err := rs.Head(context.Background(), "k")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(meta.ContentType, tt.want), meta.ContentType)
		})
	}
}
