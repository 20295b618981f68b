// Package testutil holds fakes and helpers shared by the objfs tests.
package testutil

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/s3api"
)

// s3Call is the shape shared by every S3API method.
type s3Call[I, O any] func(context.Context, *I, ...func(*s3.Options)) (*O, error)

// MockS3Client implements s3api.S3API with one optional function field per
// operation. An unset field returns an empty output. Every call is counted
// by operation name.
type MockS3Client struct {
	PutObjectFunc               s3Call[s3.PutObjectInput, s3.PutObjectOutput]
	GetObjectFunc               s3Call[s3.GetObjectInput, s3.GetObjectOutput]
	HeadObjectFunc              s3Call[s3.HeadObjectInput, s3.HeadObjectOutput]
	ListObjectsV2Func           s3Call[s3.ListObjectsV2Input, s3.ListObjectsV2Output]
	DeleteObjectFunc            s3Call[s3.DeleteObjectInput, s3.DeleteObjectOutput]
	DeleteObjectsFunc           s3Call[s3.DeleteObjectsInput, s3.DeleteObjectsOutput]
	CopyObjectFunc              s3Call[s3.CopyObjectInput, s3.CopyObjectOutput]
	CreateMultipartUploadFunc   s3Call[s3.CreateMultipartUploadInput, s3.CreateMultipartUploadOutput]
	UploadPartFunc              s3Call[s3.UploadPartInput, s3.UploadPartOutput]
	UploadPartCopyFunc          s3Call[s3.UploadPartCopyInput, s3.UploadPartCopyOutput]
	CompleteMultipartUploadFunc s3Call[s3.CompleteMultipartUploadInput, s3.CompleteMultipartUploadOutput]
	AbortMultipartUploadFunc    s3Call[s3.AbortMultipartUploadInput, s3.AbortMultipartUploadOutput]

	mu     sync.Mutex
	counts map[string]int
}

var _ s3api.S3API = (*MockS3Client)(nil)

// Count returns how many times the named operation was called.
func (m *MockS3Client) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op]
}

func (m *MockS3Client) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[op]++
}

func dispatch[I, O any](
	m *MockS3Client,
	op string,
	fn s3Call[I, O],
	ctx context.Context,
	in *I,
	optFns []func(*s3.Options),
) (*O, error) {
	m.count(op)
	if fn == nil {
		return new(O), nil
	}
	return fn(ctx, in, optFns...)
}

func (m *MockS3Client) PutObject(
	ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	return dispatch(m, "PutObject", m.PutObjectFunc, ctx, in, optFns)
}

func (m *MockS3Client) GetObject(
	ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	return dispatch(m, "GetObject", m.GetObjectFunc, ctx, in, optFns)
}

func (m *MockS3Client) HeadObject(
	ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options),
) (*s3.HeadObjectOutput, error) {
	return dispatch(m, "HeadObject", m.HeadObjectFunc, ctx, in, optFns)
}

func (m *MockS3Client) ListObjectsV2(
	ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	return dispatch(m, "ListObjectsV2", m.ListObjectsV2Func, ctx, in, optFns)
}

func (m *MockS3Client) DeleteObject(
	ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	return dispatch(m, "DeleteObject", m.DeleteObjectFunc, ctx, in, optFns)
}

func (m *MockS3Client) DeleteObjects(
	ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options),
) (*s3.DeleteObjectsOutput, error) {
	return dispatch(m, "DeleteObjects", m.DeleteObjectsFunc, ctx, in, optFns)
}

func (m *MockS3Client) CopyObject(
	ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options),
) (*s3.CopyObjectOutput, error) {
	return dispatch(m, "CopyObject", m.CopyObjectFunc, ctx, in, optFns)
}

func (m *MockS3Client) CreateMultipartUpload(
	ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	return dispatch(m, "CreateMultipartUpload", m.CreateMultipartUploadFunc, ctx, in, optFns)
}

func (m *MockS3Client) UploadPart(
	ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	return dispatch(m, "UploadPart", m.UploadPartFunc, ctx, in, optFns)
}

func (m *MockS3Client) UploadPartCopy(
	ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options),
) (*s3.UploadPartCopyOutput, error) {
	return dispatch(m, "UploadPartCopy", m.UploadPartCopyFunc, ctx, in, optFns)
}

func (m *MockS3Client) CompleteMultipartUpload(
	ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	return dispatch(m, "CompleteMultipartUpload", m.CompleteMultipartUploadFunc, ctx, in, optFns)
}

func (m *MockS3Client) AbortMultipartUpload(
	ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	return dispatch(m, "AbortMultipartUpload", m.AbortMultipartUploadFunc, ctx, in, optFns)
}
