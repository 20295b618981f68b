// Package store defines the remote object-store primitives consumed by the
// filesystem layer. Backends live in sub-packages: s3store (AWS SDK v2),
// miniostore (minio-go) and memstore (in-process).
package store

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Store is the flat, key-addressed object store the filesystem is built on.
// Implementations must be safe for concurrent use and must report missing
// keys with an error matching errors.ErrNotFound from the objfs errors package.
type Store interface {
	// Put writes an object in a single request.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) (*ObjectMetadata, error)

	// Get opens a streaming read of an object.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns object metadata without the body.
	Head(ctx context.Context, key string) (*ObjectMetadata, error)

	// List returns one page of keys (and common prefixes when a delimiter is set).
	List(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Copy performs a single server-side copy.
	Copy(ctx context.Context, srcKey, dstKey string) (*ObjectMetadata, error)

	// InitiateMultipart starts a multipart session on key and returns its id.
	InitiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error)

	// UploadPart uploads one part of a multipart session and returns its ETag.
	UploadPart(
		ctx context.Context,
		key, uploadID string,
		partNumber int32,
		body io.ReadSeeker,
		size int64,
	) (string, error)

	// CopyPart copies a byte range of srcKey as one part and returns its ETag.
	CopyPart(
		ctx context.Context,
		key, uploadID string,
		partNumber int32,
		srcKey string,
		r ByteRange,
	) (string, error)

	// CompleteMultipart assembles the listed parts, which must be in increasing order.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (*ObjectMetadata, error)

	// AbortMultipart discards a multipart session and any uploaded parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// BatchDeleter is implemented by stores that can remove many keys per request.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys []string) error
}

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	// Key is the object key
	Key string

	// Size is the object size in bytes
	Size int64

	// ETag is the entity tag as returned by the store, without quotes
	ETag string

	// ContentType is the MIME type of the object
	ContentType string

	// LastModified is when the object was last written
	LastModified time.Time
}

// Object is an open object read.
type Object struct {
	ObjectMetadata

	// Body streams the object bytes and must be closed by the caller
	Body io.ReadCloser
}

// ObjectInfo is a single listing entry.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions carries per-object write settings.
type PutOptions struct {
	// ContentType is the MIME type stored with the object
	ContentType string

	// ContentMD5 is the raw MD5 of the body; stores verify it when set
	ContentMD5 []byte
}

// ListOptions controls a single List call.
type ListOptions struct {
	// Delimiter groups keys into common prefixes (e.g. "/")
	Delimiter string

	// MaxKeys limits the page size; zero means the store default
	MaxKeys int32

	// ContinuationToken resumes a previous listing
	ContinuationToken string
}

// ListResult is one page of a listing.
type ListResult struct {
	Objects               []ObjectInfo
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// CompletedPart describes an uploaded or copied part.
type CompletedPart struct {
	PartNumber int32
	Size       int64
	ETag       string
}

// ByteRange is an inclusive byte range [First, Last].
type ByteRange struct {
	First int64
	Last  int64
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.Last - r.First + 1
}

// String formats the range as an HTTP Range value.
func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.First, r.Last)
}

// ListAll pages through every key under prefix without a delimiter.
func ListAll(ctx context.Context, s Store, prefix string) ([]ObjectInfo, error) {
	var (
		out   []ObjectInfo
		token string
	)
	for {
		page, err := s.List(ctx, prefix, ListOptions{ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Objects...)
		if !page.IsTruncated || page.NextContinuationToken == "" {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}
