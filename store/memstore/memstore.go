// Package memstore provides an in-process implementation of store.Store.
//
// It follows S3 semantics closely enough to exercise the filesystem layer:
// ETags are MD5 based (multipart ETags carry a "-N" suffix), Content-MD5 is
// verified, listings are lexicographic with delimiter support, and multipart
// sessions stay open until completed or aborted.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

const defaultMaxKeys = 1000

type object struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

type part struct {
	data []byte
	etag string
}

type upload struct {
	key         string
	contentType string
	parts       map[int32]part
}

// Store is an in-memory object store. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	uploads map[string]*upload

	// MinPartSize, when positive, rejects completion if any part but the
	// last is smaller. S3 enforces 5 MiB.
	MinPartSize int64

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
		now:     time.Now,
	}
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.BatchDeleter = (*Store)(nil)
)

// Put implements store.Store.
func (s *Store) Put(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	opts store.PutOptions,
) (*store.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("memstore: read body: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("memstore: IncompleteBody: got %d bytes, want %d", len(data), size)
	}
	sum := md5.Sum(data)
	if len(opts.ContentMD5) > 0 && !bytes.Equal(opts.ContentMD5, sum[:]) {
		return nil, fmt.Errorf("memstore: BadDigest for %s", key)
	}

	obj := &object{
		data:        data,
		etag:        hex.EncodeToString(sum[:]),
		contentType: opts.ContentType,
		modified:    s.now(),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return obj.metadata(key), nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewKeyError("get", key, errors.ErrNotFound)
	}
	return &store.Object{
		ObjectMetadata: *obj.metadata(key),
		Body:           io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, key string) (*store.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewKeyError("head", key, errors.ErrNotFound)
	}
	return obj.metadata(key), nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, prefix string, opts store.ListOptions) (*store.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxKeys := int(opts.MaxKeys)
	if maxKeys <= 0 || maxKeys > defaultMaxKeys {
		maxKeys = defaultMaxKeys
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > opts.ContinuationToken {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := &store.ListResult{}
	seen := make(map[string]bool)
	count := 0
	var last string
	for _, k := range keys {
		var cp string
		if opts.Delimiter != "" {
			rest := k[len(prefix):]
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				cp = prefix + rest[:i+len(opts.Delimiter)]
			}
		}
		if cp != "" && seen[cp] {
			last = k
			continue
		}
		if count == maxKeys {
			result.IsTruncated = true
			result.NextContinuationToken = last
			break
		}
		if cp != "" {
			seen[cp] = true
			result.CommonPrefixes = append(result.CommonPrefixes, cp)
			count++
			last = k
			continue
		}
		obj := s.objects[k]
		result.Objects = append(result.Objects, store.ObjectInfo{
			Key:          k,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.modified,
		})
		count++
		last = k
	}
	s.mu.RUnlock()

	return result, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// DeleteMany implements store.BatchDeleter.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	s.mu.Unlock()
	return nil
}

// Copy implements store.Store.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (*store.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.objects[srcKey]
	if !ok {
		return nil, errors.NewKeyError("copy", srcKey, errors.ErrNotFound)
	}
	dst := &object{
		data:        append([]byte(nil), src.data...),
		etag:        src.etag,
		contentType: src.contentType,
		modified:    s.now(),
	}
	s.objects[dstKey] = dst
	return dst.metadata(dstKey), nil
}

// InitiateMultipart implements store.Store.
func (s *Store) InitiateMultipart(ctx context.Context, key string, opts store.PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.uploads[id] = &upload{
		key:         key,
		contentType: opts.ContentType,
		parts:       make(map[int32]part),
	}
	s.mu.Unlock()
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
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("memstore: read part body: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("memstore: IncompleteBody: part %d got %d bytes, want %d", partNumber, len(data), size)
	}
	return s.storePart(key, uploadID, partNumber, data)
}

// CopyPart implements store.Store.
func (s *Store) CopyPart(
	ctx context.Context,
	key, uploadID string,
	partNumber int32,
	srcKey string,
	r store.ByteRange,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	src, ok := s.objects[srcKey]
	s.mu.RUnlock()
	if !ok {
		return "", errors.NewKeyError("copyPart", srcKey, errors.ErrNotFound)
	}
	if r.First < 0 || r.Last < r.First || r.Last >= int64(len(src.data)) {
		return "", fmt.Errorf("memstore: InvalidRange %s for %d byte object", r, len(src.data))
	}
	data := append([]byte(nil), src.data[r.First:r.Last+1]...)
	return s.storePart(key, uploadID, partNumber, data)
}

func (s *Store) storePart(key, uploadID string, partNumber int32, data []byte) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", fmt.Errorf("memstore: InvalidPartNumber %d", partNumber)
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return "", fmt.Errorf("memstore: NoSuchUpload %s", uploadID)
	}
	u.parts[partNumber] = part{data: data, etag: etag}
	return etag, nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []store.CompletedPart,
) (*store.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, fmt.Errorf("memstore: NoSuchUpload %s", uploadID)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("memstore: MalformedXML: no parts")
	}

	var (
		buf     bytes.Buffer
		digests []byte
		prev    int32
	)
	for i, p := range parts {
		if p.PartNumber <= prev {
			return nil, fmt.Errorf("memstore: InvalidPartOrder at part %d", p.PartNumber)
		}
		prev = p.PartNumber
		stored, ok := u.parts[p.PartNumber]
		if !ok || stored.etag != strings.Trim(p.ETag, `"`) {
			return nil, fmt.Errorf("memstore: InvalidPart %d", p.PartNumber)
		}
		if s.MinPartSize > 0 && i < len(parts)-1 && int64(len(stored.data)) < s.MinPartSize {
			return nil, fmt.Errorf("memstore: EntityTooSmall part %d", p.PartNumber)
		}
		buf.Write(stored.data)
		raw, _ := hex.DecodeString(stored.etag)
		digests = append(digests, raw...)
	}

	sum := md5.Sum(digests)
	obj := &object{
		data:        buf.Bytes(),
		etag:        hex.EncodeToString(sum[:]) + "-" + strconv.Itoa(len(parts)),
		contentType: u.contentType,
		modified:    s.now(),
	}
	s.objects[key] = obj
	delete(s.uploads, uploadID)

	return obj.metadata(key), nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return fmt.Errorf("memstore: NoSuchUpload %s", uploadID)
	}
	delete(s.uploads, uploadID)
	return nil
}

// OpenUploads returns the ids of multipart sessions that were neither
// completed nor aborted.
func (s *Store) OpenUploads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.uploads))
	for id := range s.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Keys returns every stored key in lexicographic order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *object) metadata(key string) *store.ObjectMetadata {
	return &store.ObjectMetadata{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}
