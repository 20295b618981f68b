// Package miniostore implements store.Store over the minio-go Core client,
// for MinIO and other S3-compatible servers.
package miniostore

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// API is the subset of minio.Core used by Store.
type API interface {
	PutObject(
		ctx context.Context,
		bucket, object string,
		data io.Reader,
		size int64,
		md5Base64, sha256Hex string,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	GetObject(
		ctx context.Context,
		bucket, object string,
		opts minio.GetObjectOptions,
	) (io.ReadCloser, minio.ObjectInfo, http.Header, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjectsV2(
		bucket, prefix, startAfter, continuationToken, delimiter string,
		maxKeys int,
	) (minio.ListBucketV2Result, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	RemoveObjects(
		ctx context.Context,
		bucket string,
		objects <-chan minio.ObjectInfo,
		opts minio.RemoveObjectsOptions,
	) <-chan minio.RemoveObjectError
	CopyObject(
		ctx context.Context,
		srcBucket, srcObject, dstBucket, dstObject string,
		metadata map[string]string,
		srcOpts minio.CopySrcOptions,
		dstOpts minio.PutObjectOptions,
	) (minio.ObjectInfo, error)
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(
		ctx context.Context,
		bucket, object, uploadID string,
		partID int,
		data io.Reader,
		size int64,
		opts minio.PutObjectPartOptions,
	) (minio.ObjectPart, error)
	CopyObjectPart(
		ctx context.Context,
		srcBucket, srcObject, dstBucket, dstObject, uploadID string,
		partID int,
		startOffset, length int64,
		metadata map[string]string,
	) (minio.CompletePart, error)
	CompleteMultipartUpload(
		ctx context.Context,
		bucket, object, uploadID string,
		parts []minio.CompletePart,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

var _ API = (*minio.Core)(nil)

// Options configures a Store.
type Options struct {
	// Endpoint is the server host[:port], without scheme
	Endpoint string

	// Bucket is the bucket holding the filesystem
	Bucket string

	// Region is sent with signed requests; empty lets the server decide
	Region string

	// AccessKey and SecretKey are static credentials. When both are empty
	// credentials are read from the environment and AWS credential files.
	AccessKey string
	SecretKey string

	// Insecure disables TLS
	Insecure bool

	// ForcePathStyle addresses buckets in the URL path
	ForcePathStyle bool

	// Logger receives debug output; nil discards it
	Logger *slog.Logger
}

// Store is a bucket on an S3-compatible server seen as a store.Store.
type Store struct {
	api    API
	bucket string
	logger *slog.Logger
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.BatchDeleter = (*Store)(nil)
)

// New connects to opts.Endpoint. No request is made until the first call.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.NewError("client initialization", errors.ErrInvalidConfig).
			WithMessage("endpoint is required")
	}

	var creds *credentials.Credentials
	if opts.AccessKey != "" || opts.SecretKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
		})
	}

	mopts := &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	}
	if opts.ForcePathStyle {
		mopts.BucketLookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(opts.Endpoint, mopts)
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}
	return NewWithAPI(core, opts.Bucket, opts.Logger)
}

// NewWithAPI creates a Store over an existing client. This is primarily
// used for testing.
func NewWithAPI(api API, bucket string, logger *slog.Logger) (*Store, error) {
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		api:    api,
		bucket: bucket,
		logger: logger,
	}, nil
}

// Put implements store.Store.
func (s *Store) Put(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	opts store.PutOptions,
) (*store.ObjectMetadata, error) {
	var md5Base64 string
	if len(opts.ContentMD5) > 0 {
		md5Base64 = base64.StdEncoding.EncodeToString(opts.ContentMD5)
	}
	info, err := s.api.PutObject(ctx, s.bucket, key, body, size, md5Base64, "",
		minio.PutObjectOptions{ContentType: opts.ContentType})
	if err != nil {
		return nil, s.wrap("put", key, err)
	}
	return &store.ObjectMetadata{
		Key:          key,
		Size:         size,
		ETag:         trimETag(info.ETag),
		ContentType:  opts.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (*store.Object, error) {
	body, info, _, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return &store.Object{
		ObjectMetadata: metadata(key, info),
		Body:           body,
	}, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (*store.ObjectMetadata, error) {
	info, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrap("head", key, err)
	}
	meta := metadata(key, info)
	return &meta, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, prefix string, opts store.ListOptions) (*store.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewKeyError("list", prefix, err)
	}
	res, err := s.api.ListObjectsV2(s.bucket, prefix, "", opts.ContinuationToken, opts.Delimiter, int(opts.MaxKeys))
	if err != nil {
		return nil, s.wrap("list", prefix, err)
	}

	out := &store.ListResult{
		Objects:               make([]store.ObjectInfo, 0, len(res.Contents)),
		IsTruncated:           res.IsTruncated,
		NextContinuationToken: res.NextContinuationToken,
	}
	for _, obj := range res.Contents {
		out.Objects = append(out.Objects, store.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         trimETag(obj.ETag),
			LastModified: obj.LastModified,
		})
	}
	for _, cp := range res.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, cp.Prefix)
	}
	return out, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

// DeleteMany implements store.BatchDeleter. The client batches the keys
// itself; every per-key failure is returned.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var errs []error
	for rerr := range s.api.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, s.wrap("deleteMany", rerr.ObjectName, rerr.Err))
	}
	return errors.Join(errs...)
}

// Copy implements store.Store.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (*store.ObjectMetadata, error) {
	_, err := s.api.CopyObject(ctx, s.bucket, srcKey, s.bucket, dstKey, nil,
		minio.CopySrcOptions{}, minio.PutObjectOptions{})
	if err != nil {
		return nil, s.wrap("copy", srcKey, err).WithMessage("to " + dstKey)
	}
	return s.Head(ctx, dstKey)
}

// InitiateMultipart implements store.Store.
func (s *Store) InitiateMultipart(ctx context.Context, key string, opts store.PutOptions) (string, error) {
	id, err := s.api.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: opts.ContentType})
	if err != nil {
		return "", s.wrap("initiateMultipart", key, err)
	}
	s.logger.DebugContext(ctx, "multipart upload initiated", "bucket", s.bucket, "key", key, "upload_id", id)
	return id, nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	body io.ReadSeeker,
	size int64,
) (string, error) {
	part, err := s.api.PutObjectPart(ctx, s.bucket, key, uploadID, int(partNumber), body, size,
		minio.PutObjectPartOptions{})
	if err != nil {
		return "", s.wrap("uploadPart", key, err).WithMessage(fmt.Sprintf("part %d", partNumber))
	}
	return trimETag(part.ETag), nil
}

// CopyPart implements store.Store.
func (s *Store) CopyPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	srcKey string,
	r store.ByteRange,
) (string, error) {
	part, err := s.api.CopyObjectPart(ctx, s.bucket, srcKey, s.bucket, key, uploadID,
		int(partNumber), r.First, r.Len(), nil)
	if err != nil {
		return "", s.wrap("copyPart", key, err).
			WithMessage(fmt.Sprintf("part %d from %s", partNumber, srcKey))
	}
	return trimETag(part.ETag), nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []store.CompletedPart,
) (*store.ObjectMetadata, error) {
	completed := make([]minio.CompletePart, 0, len(parts))
	var size int64
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag})
		size += p.Size
	}

	info, err := s.api.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return nil, s.wrap("completeMultipart", key, err)
	}
	return &store.ObjectMetadata{
		Key:          key,
		Size:         size,
		ETag:         trimETag(info.ETag),
		LastModified: info.LastModified,
	}, nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := s.api.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return s.wrap("abortMultipart", key, err)
	}
	s.logger.DebugContext(ctx, "multipart upload aborted", "bucket", s.bucket, "key", key, "upload_id", uploadID)
	return nil
}

func (s *Store) wrap(op, key string, err error) *errors.Error {
	if isNotFound(err) {
		err = fmt.Errorf("%w: %w", errors.ErrNotFound, err)
	}
	return errors.NewKeyError(op, key, err).WithMessage("bucket " + s.bucket)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if !stderrors.As(err, &resp) {
		resp = minio.ToErrorResponse(err)
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

func metadata(key string, info minio.ObjectInfo) store.ObjectMetadata {
	return store.ObjectMetadata{
		Key:          key,
		Size:         info.Size,
		ETag:         trimETag(info.ETag),
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
