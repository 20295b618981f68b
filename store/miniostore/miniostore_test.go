package miniostore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objerrors "github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// mockAPI implements API with optional function fields.
type mockAPI struct {
	PutObjectFunc               func(ctx context.Context, bucket, object string, data io.Reader, size int64, md5Base64, sha256Hex string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObjectFunc               func(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, http.Header, error)
	StatObjectFunc              func(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjectsV2Func           func(bucket, prefix, startAfter, continuationToken, delimiter string, maxKeys int) (minio.ListBucketV2Result, error)
	RemoveObjectFunc            func(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	RemoveObjectsFunc           func(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	CopyObjectFunc              func(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string, metadata map[string]string, srcOpts minio.CopySrcOptions, dstOpts minio.PutObjectOptions) (minio.ObjectInfo, error)
	NewMultipartUploadFunc      func(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPartFunc           func(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CopyObjectPartFunc          func(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject, uploadID string, partID int, startOffset, length int64, metadata map[string]string) (minio.CompletePart, error)
	CompleteMultipartUploadFunc func(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUploadFunc    func(ctx context.Context, bucket, object, uploadID string) error
}

var _ API = (*mockAPI)(nil)

func (m *mockAPI) PutObject(ctx context.Context, bucket, object string, data io.Reader, size int64, md5Base64, sha256Hex string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, bucket, object, data, size, md5Base64, sha256Hex, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockAPI) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, http.Header, error) {
	if m.GetObjectFunc != nil {
		return m.GetObjectFunc(ctx, bucket, object, opts)
	}
	return io.NopCloser(strings.NewReader("")), minio.ObjectInfo{}, nil, nil
}

func (m *mockAPI) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if m.StatObjectFunc != nil {
		return m.StatObjectFunc(ctx, bucket, object, opts)
	}
	return minio.ObjectInfo{}, nil
}

func (m *mockAPI) ListObjectsV2(bucket, prefix, startAfter, continuationToken, delimiter string, maxKeys int) (minio.ListBucketV2Result, error) {
	if m.ListObjectsV2Func != nil {
		return m.ListObjectsV2Func(bucket, prefix, startAfter, continuationToken, delimiter, maxKeys)
	}
	return minio.ListBucketV2Result{}, nil
}

func (m *mockAPI) RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	if m.RemoveObjectFunc != nil {
		return m.RemoveObjectFunc(ctx, bucket, object, opts)
	}
	return nil
}

func (m *mockAPI) RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	if m.RemoveObjectsFunc != nil {
		return m.RemoveObjectsFunc(ctx, bucket, objects, opts)
	}
	out := make(chan minio.RemoveObjectError)
	close(out)
	return out
}

func (m *mockAPI) CopyObject(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string, metadata map[string]string, srcOpts minio.CopySrcOptions, dstOpts minio.PutObjectOptions) (minio.ObjectInfo, error) {
	if m.CopyObjectFunc != nil {
		return m.CopyObjectFunc(ctx, srcBucket, srcObject, dstBucket, dstObject, metadata, srcOpts, dstOpts)
	}
	return minio.ObjectInfo{}, nil
}

func (m *mockAPI) NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	if m.NewMultipartUploadFunc != nil {
		return m.NewMultipartUploadFunc(ctx, bucket, object, opts)
	}
	return "upload-id", nil
}

func (m *mockAPI) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	if m.PutObjectPartFunc != nil {
		return m.PutObjectPartFunc(ctx, bucket, object, uploadID, partID, data, size, opts)
	}
	return minio.ObjectPart{}, nil
}

func (m *mockAPI) CopyObjectPart(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject, uploadID string, partID int, startOffset, length int64, metadata map[string]string) (minio.CompletePart, error) {
	if m.CopyObjectPartFunc != nil {
		return m.CopyObjectPartFunc(ctx, srcBucket, srcObject, dstBucket, dstObject, uploadID, partID, startOffset, length, metadata)
	}
	return minio.CompletePart{}, nil
}

func (m *mockAPI) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, bucket, object, uploadID, parts, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockAPI) AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error {
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, bucket, object, uploadID)
	}
	return nil
}

func newTestStore(t *testing.T, api API) *Store {
	t.Helper()
	st, err := NewWithAPI(api, "test-bucket", nil)
	require.NoError(t, err)
	return st
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Bucket: "ok-bucket"})
	assert.ErrorIs(t, err, objerrors.ErrInvalidConfig)

	_, err = NewWithAPI(&mockAPI{}, "x", nil)
	assert.ErrorIs(t, err, objerrors.ErrInvalidConfig)

	st, err := New(Options{Endpoint: "localhost:9000", Bucket: "ok-bucket", AccessKey: "a", SecretKey: "b", Insecure: true})
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestStore_PutSendsDigest(t *testing.T) {
	sum := []byte{9, 9, 9}
	var gotMD5, gotType string
	api := &mockAPI{
		PutObjectFunc: func(_ context.Context, bucket, object string, data io.Reader, size int64, md5Base64, _ string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			assert.Equal(t, "test-bucket", bucket)
			assert.Equal(t, "k", object)
			assert.Equal(t, int64(3), size)
			gotMD5 = md5Base64
			gotType = opts.ContentType
			return minio.UploadInfo{ETag: `"etag"`}, nil
		},
	}
	st := newTestStore(t, api)

	meta, err := st.Put(context.Background(), "k", bytes.NewReader([]byte("abc")), 3,
		store.PutOptions{ContentType: "text/plain", ContentMD5: sum})
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum), gotMD5)
	assert.Equal(t, "text/plain", gotType)
	assert.Equal(t, "etag", meta.ETag)
}

func TestStore_NotFoundMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true},
		{"head 404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, false},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"network", errors.New("dial tcp: refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{
				StatObjectFunc: func(context.Context, string, string, minio.StatObjectOptions) (minio.ObjectInfo, error) {
					return minio.ObjectInfo{}, tt.err
				},
			}
			st := newTestStore(t, api)

			_, err := st.Head(context.Background(), "k")
			require.Error(t, err)
			assert.Equal(t, tt.want, objerrors.IsNotFound(err))
		})
	}
}

func TestStore_List(t *testing.T) {
	api := &mockAPI{
		ListObjectsV2Func: func(bucket, prefix, startAfter, token, delimiter string, maxKeys int) (minio.ListBucketV2Result, error) {
			assert.Equal(t, "d/", prefix)
			assert.Equal(t, "", startAfter)
			assert.Equal(t, "tok", token)
			assert.Equal(t, "/", delimiter)
			assert.Equal(t, 5, maxKeys)
			return minio.ListBucketV2Result{
				Contents:              []minio.ObjectInfo{{Key: "d/a", Size: 1, ETag: `"x"`}},
				CommonPrefixes:        []minio.CommonPrefix{{Prefix: "d/b/"}},
				IsTruncated:           true,
				NextContinuationToken: "next",
			}, nil
		},
	}
	st := newTestStore(t, api)

	page, err := st.List(context.Background(), "d/", store.ListOptions{Delimiter: "/", MaxKeys: 5, ContinuationToken: "tok"})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "x", page.Objects[0].ETag)
	assert.Equal(t, []string{"d/b/"}, page.CommonPrefixes)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "next", page.NextContinuationToken)
}

func TestStore_DeleteMany(t *testing.T) {
	var seen []string
	api := &mockAPI{
		RemoveObjectsFunc: func(_ context.Context, _ string, objects <-chan minio.ObjectInfo, _ minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
			out := make(chan minio.RemoveObjectError, 1)
			for o := range objects {
				seen = append(seen, o.Key)
				if o.Key == "b" {
					out <- minio.RemoveObjectError{ObjectName: "b", Err: errors.New("AccessDenied")}
				}
			}
			close(out)
			return out
		},
	}
	st := newTestStore(t, api)

	err := st.DeleteMany(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	require.NoError(t, st.DeleteMany(context.Background(), nil))
}

func TestStore_CopyPartRange(t *testing.T) {
	var gotStart, gotLength int64
	api := &mockAPI{
		CopyObjectPartFunc: func(_ context.Context, srcBucket, srcObject, dstBucket, dstObject, uploadID string, partID int, start, length int64, _ map[string]string) (minio.CompletePart, error) {
			assert.Equal(t, "src", srcObject)
			assert.Equal(t, "dst", dstObject)
			assert.Equal(t, "u", uploadID)
			assert.Equal(t, 3, partID)
			gotStart, gotLength = start, length
			return minio.CompletePart{PartNumber: partID, ETag: `"p3"`}, nil
		},
	}
	st := newTestStore(t, api)

	etag, err := st.CopyPart(context.Background(), "dst", "u", 3, "src", store.ByteRange{First: 10, Last: 19})
	require.NoError(t, err)
	assert.Equal(t, "p3", etag)
	assert.Equal(t, int64(10), gotStart)
	assert.Equal(t, int64(10), gotLength)
}

func TestStore_CompleteMultipart(t *testing.T) {
	var got []minio.CompletePart
	api := &mockAPI{
		CompleteMultipartUploadFunc: func(_ context.Context, _, _, _ string, parts []minio.CompletePart, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
			got = parts
			return minio.UploadInfo{ETag: "final-2"}, nil
		},
	}
	st := newTestStore(t, api)

	meta, err := st.CompleteMultipart(context.Background(), "k", "u", []store.CompletedPart{
		{PartNumber: 1, ETag: "a", Size: 5},
		{PartNumber: 2, ETag: "b", Size: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)
	assert.Equal(t, []minio.CompletePart{{PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}}, got)
}

func TestStore_CopyReadsBackSize(t *testing.T) {
	api := &mockAPI{
		StatObjectFunc: func(_ context.Context, _, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
			assert.Equal(t, "dst", object)
			return minio.ObjectInfo{Key: "dst", Size: 99}, nil
		},
	}
	st := newTestStore(t, api)

	meta, err := st.Copy(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(99), meta.Size)
}
