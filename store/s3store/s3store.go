// Package s3store implements store.Store over the AWS SDK v2 S3 client.
//
// It works against Amazon S3 and S3-compatible services. Credentials come
// from the default AWS chain or from a caller-supplied aws.Config; nothing
// here reads or stores secrets.
package s3store

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/s3api"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// maxDeleteBatch is the S3 limit for DeleteObjects.
const maxDeleteBatch = 1000

// Store is an S3 bucket seen as a store.Store.
type Store struct {
	client s3api.S3API
	bucket string
	logger *slog.Logger
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.BatchDeleter = (*Store)(nil)
)

// New creates a Store for bucket.
//
// Example:
//
//	st, err := s3store.New(ctx, "my-bucket",
//	    s3store.WithRegion("eu-central-1"),
//	)
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	client := cfg.client
	if client == nil {
		var err error
		client, err = newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Store{
		client: client,
		bucket: bucket,
		logger: cfg.logger,
	}, nil
}

func newClient(ctx context.Context, cfg *config) (*s3.Client, error) {
	var awsCfg aws.Config
	if cfg.awsConfig != nil {
		awsCfg = *cfg.awsConfig
	} else {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.NewError("client initialization", err)
		}
	}

	if cfg.region != "" {
		awsCfg.Region = cfg.region
	} else if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if cfg.endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.endpoint)
		})
	}
	if cfg.forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put implements store.Store.
func (s *Store) Put(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	opts store.PutOptions,
) (*store.ObjectMetadata, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.ContentMD5) > 0 {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(opts.ContentMD5))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, s.wrap("put", key, err)
	}
	return &store.ObjectMetadata{
		Key:         key,
		Size:        size,
		ETag:        trimETag(out.ETag),
		ContentType: opts.ContentType,
	}, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (*store.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return &store.Object{
		ObjectMetadata: store.ObjectMetadata{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         trimETag(out.ETag),
			ContentType:  aws.ToString(out.ContentType),
			LastModified: aws.ToTime(out.LastModified),
		},
		Body: out.Body,
	}, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (*store.ObjectMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap("head", key, err)
	}
	return &store.ObjectMetadata{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         trimETag(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, prefix string, opts store.ListOptions) (*store.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(opts.MaxKeys)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, errors.NewKeyError("list", prefix, mapError(err))
	}

	result := &store.ListResult{
		Objects:               make([]store.ObjectInfo, 0, len(out.Contents)),
		IsTruncated:           aws.ToBool(out.IsTruncated),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, store.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         trimETag(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	for _, cp := range out.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	return result, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

// DeleteMany implements store.BatchDeleter. Keys are sent in batches of
// at most 1000; per-key failures reported by S3 are returned together.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]

		ids := make([]awstypes.ObjectIdentifier, 0, len(batch))
		for _, k := range batch {
			ids = append(ids, awstypes.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awstypes.Delete{
				Objects: ids,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return errors.NewKeyError("deleteMany", batch[0], mapError(err)).
				WithMessage(fmt.Sprintf("batch of %d keys", len(batch)))
		}

		if len(out.Errors) > 0 {
			errs := make([]error, 0, len(out.Errors))
			for _, e := range out.Errors {
				errs = append(errs, errors.NewKeyError("deleteMany", aws.ToString(e.Key),
					fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))))
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

// Copy implements store.Store. The size of the result is read back with a
// Head request.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (*store.ObjectMetadata, error) {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.copySource(srcKey)),
	})
	if err != nil {
		return nil, s.wrap("copy", srcKey, err).WithMessage("to " + dstKey)
	}
	return s.Head(ctx, dstKey)
}

// InitiateMultipart implements store.Store.
func (s *Store) InitiateMultipart(ctx context.Context, key string, opts store.PutOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	out, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", s.wrap("initiateMultipart", key, err)
	}
	uploadID := aws.ToString(out.UploadId)
	s.logger.DebugContext(ctx, "multipart upload initiated", "bucket", s.bucket, "key", key, "upload_id", uploadID)
	return uploadID, nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	body io.ReadSeeker,
	size int64,
) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", s.wrap("uploadPart", key, err).WithMessage(fmt.Sprintf("part %d", partNumber))
	}
	return trimETag(out.ETag), nil
}

// CopyPart implements store.Store.
func (s *Store) CopyPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	srcKey string,
	r store.ByteRange,
) (string, error) {
	out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		PartNumber:      aws.Int32(partNumber),
		CopySource:      aws.String(s.copySource(srcKey)),
		CopySourceRange: aws.String(r.String()),
	})
	if err != nil {
		return "", s.wrap("copyPart", key, err).
			WithMessage(fmt.Sprintf("part %d from %s", partNumber, srcKey))
	}
	if out.CopyPartResult == nil {
		return "", errors.NewKeyError("copyPart", key, fmt.Errorf("part %d: empty copy result", partNumber))
	}
	return trimETag(out.CopyPartResult.ETag), nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []store.CompletedPart,
) (*store.ObjectMetadata, error) {
	completed := make([]awstypes.CompletedPart, 0, len(parts))
	var size int64
	for _, p := range parts {
		completed = append(completed, awstypes.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
		size += p.Size
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, s.wrap("completeMultipart", key, err)
	}
	return &store.ObjectMetadata{
		Key:  key,
		Size: size,
		ETag: trimETag(out.ETag),
	}, nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return s.wrap("abortMultipart", key, err)
	}
	s.logger.DebugContext(ctx, "multipart upload aborted", "bucket", s.bucket, "key", key, "upload_id", uploadID)
	return nil
}

// copySource formats the URL-encoded bucket/key pair for copy requests.
func (s *Store) copySource(key string) string {
	return (&url.URL{Path: s.bucket + "/" + key}).EscapedPath()
}

func (s *Store) wrap(op, key string, err error) *errors.Error {
	return errors.NewKeyError(op, key, mapError(err)).WithMessage("bucket " + s.bucket)
}

// mapError marks missing-object responses with errors.ErrNotFound.
func mapError(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", errors.ErrNotFound, err)
	}
	return err
}

func isNotFound(err error) bool {
	var (
		noSuchKey *awstypes.NoSuchKey
		notFound  *awstypes.NotFound
	)
	if stderrors.As(err, &noSuchKey) || stderrors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
