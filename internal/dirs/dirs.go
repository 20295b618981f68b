// Package dirs emulates directories over a flat key space.
//
// A directory exists when its marker object (the directory key plus "/")
// exists or when any key starts with the directory key plus "/". Nothing is
// cached: every question is answered by fresh store calls.
package dirs

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/keys"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// MarkerContentType is stored on directory marker objects.
const MarkerContentType = "application/x-directory"

// maxBatchDelete is the most keys one DeleteMany call receives.
const maxBatchDelete = 1000

// Kind classifies what a key refers to.
type Kind int

// Entry kinds.
const (
	KindNone Kind = iota
	KindFile
	KindDir
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	default:
		return "none"
	}
}

// Entry is the result of a lookup.
type Entry struct {
	Key  string
	Kind Kind

	// Meta is the object metadata for files and for directories with a
	// marker; nil otherwise.
	Meta *store.ObjectMetadata
}

// Emulator answers hierarchical questions about keys.
type Emulator struct {
	store  store.Store
	keys   *keys.Translator
	logger *slog.Logger
}

// New creates an Emulator.
func New(s store.Store, tr *keys.Translator, logger *slog.Logger) *Emulator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emulator{
		store:  s,
		keys:   tr,
		logger: logger,
	}
}

// Lookup reports whether key is a file, a directory or nothing. A key that
// is both an object and a prefix of other keys is a file.
func (e *Emulator) Lookup(ctx context.Context, key string) (Entry, error) {
	if e.keys.IsRoot(key) {
		return Entry{Key: key, Kind: KindDir}, nil
	}

	meta, err := e.store.Head(ctx, key)
	switch {
	case err == nil:
		return Entry{Key: key, Kind: KindFile, Meta: meta}, nil
	case !errors.IsNotFound(err):
		return Entry{}, errors.NewKeyError("lookup", key, errors.Transfer(err))
	}

	prefix := e.keys.ChildPrefix(key)
	page, err := e.store.List(ctx, prefix, store.ListOptions{MaxKeys: 1})
	if err != nil {
		return Entry{}, errors.NewKeyError("lookup", key, errors.Transfer(err))
	}
	if len(page.Objects) == 0 {
		return Entry{Key: key, Kind: KindNone}, nil
	}

	entry := Entry{Key: key, Kind: KindDir}
	if first := page.Objects[0]; first.Key == prefix {
		entry.Meta = &store.ObjectMetadata{
			Key:          first.Key,
			ETag:         first.ETag,
			LastModified: first.LastModified,
		}
	}
	return entry, nil
}

// Exists reports whether key is a file or a directory.
func (e *Emulator) Exists(ctx context.Context, key string) (bool, error) {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return false, err
	}
	return entry.Kind != KindNone, nil
}

// IsDir reports whether key is a directory.
func (e *Emulator) IsDir(ctx context.Context, key string) (bool, error) {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return false, err
	}
	return entry.Kind == KindDir, nil
}

// Stat returns the status of key.
func (e *Emulator) Stat(ctx context.Context, key string) (*objtypes.FileStatus, error) {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.Kind == KindNone {
		return nil, errors.NewKeyError("stat", key, errors.ErrNotFound)
	}
	return e.status(entry)
}

// List returns the immediate children of a directory, or the file itself
// when key is a file.
func (e *Emulator) List(ctx context.Context, key string) ([]objtypes.FileStatus, error) {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	switch entry.Kind {
	case KindNone:
		return nil, errors.NewKeyError("list", key, errors.ErrNotFound)
	case KindFile:
		st, err := e.status(entry)
		if err != nil {
			return nil, err
		}
		return []objtypes.FileStatus{*st}, nil
	}

	prefix := e.keys.ChildPrefix(key)
	var (
		out   []objtypes.FileStatus
		token string
	)
	for {
		page, err := e.store.List(ctx, prefix, store.ListOptions{
			Delimiter:         keys.Separator,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.NewKeyError("list", key, errors.Transfer(err))
		}
		for _, obj := range page.Objects {
			if obj.Key == prefix {
				continue
			}
			st, err := e.status(Entry{
				Key:  obj.Key,
				Kind: KindFile,
				Meta: &store.ObjectMetadata{
					Key:          obj.Key,
					Size:         obj.Size,
					ETag:         obj.ETag,
					LastModified: obj.LastModified,
				},
			})
			if err != nil {
				return nil, err
			}
			out = append(out, *st)
		}
		for _, cp := range page.CommonPrefixes {
			child := strings.TrimSuffix(cp, keys.Separator)
			// Keys with an empty segment ("d//x") have no path form.
			if child == key || strings.HasSuffix(child, keys.Separator) {
				continue
			}
			st, err := e.status(Entry{Key: child, Kind: KindDir})
			if err != nil {
				return nil, err
			}
			out = append(out, *st)
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			break
		}
		token = page.NextContinuationToken
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CheckAncestors fails with ErrNotDirectory if any directory above key is
// a file.
func (e *Emulator) CheckAncestors(ctx context.Context, key string) error {
	for _, a := range e.keys.Ancestors(key) {
		_, err := e.store.Head(ctx, a)
		switch {
		case err == nil:
			return errors.NewKeyError("checkAncestors", a, errors.ErrNotDirectory).
				WithMessage("parent of " + key + " is a file")
		case !errors.IsNotFound(err):
			return errors.NewKeyError("checkAncestors", a, errors.Transfer(err))
		}
	}
	return nil
}

// Mkdir creates the directory key. It is a no-op when the directory exists
// and fails with ErrNotDirectory when key or any ancestor is a file.
func (e *Emulator) Mkdir(ctx context.Context, key string) error {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case KindDir:
		return nil
	case KindFile:
		return errors.NewKeyError("mkdir", key, errors.ErrNotDirectory).WithMessage("a file exists at this key")
	}
	if err := e.CheckAncestors(ctx, key); err != nil {
		return err
	}
	return e.putMarker(ctx, key)
}

// EnsureDir re-creates the marker for dirKey if the directory has become
// empty, so that it keeps existing.
func (e *Emulator) EnsureDir(ctx context.Context, dirKey string) error {
	if e.keys.IsRoot(dirKey) {
		return nil
	}
	exists, err := e.Exists(ctx, dirKey)
	if err != nil || exists {
		return err
	}
	return e.putMarker(ctx, dirKey)
}

// ClearMarker removes the markers of dirKey and every directory above it,
// which are redundant once a real object exists below them.
func (e *Emulator) ClearMarker(ctx context.Context, dirKey string) error {
	if e.keys.IsRoot(dirKey) {
		return nil
	}
	markers := []string{e.keys.MarkerKey(dirKey)}
	for _, a := range e.keys.Ancestors(dirKey) {
		markers = append(markers, e.keys.MarkerKey(a))
	}
	if err := e.deleteKeys(ctx, markers); err != nil {
		return errors.NewKeyError("clearMarker", dirKey, err)
	}
	return nil
}

// Delete removes a file, or a directory and, when recursive, everything
// below it. A non-recursive delete of a non-empty directory fails with
// ErrDirectoryNotEmpty. The parent directory keeps existing.
func (e *Emulator) Delete(ctx context.Context, key string, recursive bool) error {
	entry, err := e.Lookup(ctx, key)
	if err != nil {
		return err
	}

	switch entry.Kind {
	case KindNone:
		return errors.NewKeyError("delete", key, errors.ErrNotFound)
	case KindFile:
		if err := e.store.Delete(ctx, key); err != nil {
			return errors.NewKeyError("delete", key, errors.Transfer(err))
		}
	case KindDir:
		if err := e.deleteDir(ctx, key, recursive); err != nil {
			return err
		}
		if e.keys.IsRoot(key) {
			return nil
		}
	}

	return e.EnsureDir(ctx, e.keys.Parent(key))
}

func (e *Emulator) deleteDir(ctx context.Context, key string, recursive bool) error {
	prefix := e.keys.ChildPrefix(key)
	page, err := e.store.List(ctx, prefix, store.ListOptions{MaxKeys: 2})
	if err != nil {
		return errors.NewKeyError("delete", key, errors.Transfer(err))
	}
	empty := true
	for _, obj := range page.Objects {
		if obj.Key != prefix {
			empty = false
		}
	}
	if !empty && !recursive {
		return errors.NewKeyError("delete", key, errors.ErrDirectoryNotEmpty)
	}

	n, err := e.Purge(ctx, prefix)
	if err != nil {
		return errors.NewKeyError("delete", key, err)
	}
	e.logger.InfoContext(ctx, "directory deleted", "key", key, "objects", n)
	return nil
}

// Descendants returns every object below dirKey, markers included.
func (e *Emulator) Descendants(ctx context.Context, dirKey string) ([]store.ObjectInfo, error) {
	objs, err := store.ListAll(ctx, e.store, e.keys.ChildPrefix(dirKey))
	if err != nil {
		return nil, errors.NewKeyError("list", dirKey, errors.Transfer(err))
	}
	return objs, nil
}

// Purge deletes every key that starts with prefix and returns how many were
// deleted. The prefix is used as is, without directory semantics.
func (e *Emulator) Purge(ctx context.Context, prefix string) (int, error) {
	objs, err := store.ListAll(ctx, e.store, prefix)
	if err != nil {
		return 0, errors.Transfer(err)
	}
	toDelete := make([]string, 0, len(objs))
	for _, o := range objs {
		toDelete = append(toDelete, o.Key)
	}
	if err := e.deleteKeys(ctx, toDelete); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

func (e *Emulator) putMarker(ctx context.Context, dirKey string) error {
	marker := e.keys.MarkerKey(dirKey)
	_, err := e.store.Put(ctx, marker, strings.NewReader(""), 0, store.PutOptions{ContentType: MarkerContentType})
	if err != nil {
		return errors.NewKeyError("mkdir", marker, errors.Transfer(err))
	}
	e.logger.DebugContext(ctx, "directory marker created", "key", marker)
	return nil
}

// deleteKeys removes keys in batches when the store supports it.
func (e *Emulator) deleteKeys(ctx context.Context, toDelete []string) error {
	if len(toDelete) == 0 {
		return nil
	}
	if bd, ok := e.store.(store.BatchDeleter); ok {
		for start := 0; start < len(toDelete); start += maxBatchDelete {
			batch := toDelete[start:min(start+maxBatchDelete, len(toDelete))]
			if err := bd.DeleteMany(ctx, batch); err != nil {
				return errors.Transfer(err)
			}
		}
		return nil
	}
	for _, k := range toDelete {
		if err := e.store.Delete(ctx, k); err != nil {
			return errors.Transfer(err)
		}
	}
	return nil
}

func (e *Emulator) status(entry Entry) (*objtypes.FileStatus, error) {
	p, err := e.keys.KeyToPath(entry.Key)
	if err != nil {
		return nil, err
	}
	st := &objtypes.FileStatus{
		Path:  p,
		IsDir: entry.Kind == KindDir,
	}
	if entry.Meta != nil {
		st.ModTime = entry.Meta.LastModified
		if entry.Kind == KindFile {
			st.Size = entry.Meta.Size
			st.ETag = entry.Meta.ETag
		}
	}
	return st, nil
}
