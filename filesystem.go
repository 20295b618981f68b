package objfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/dirs"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/keys"
	objcopy "github.com/input-output-hk/catalyst-forge-libs/objfs/internal/operations/copy"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/operations/download"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/operations/upload"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/staging"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// FileSystem is a hierarchical view of a store.Store. It is safe for
// concurrent use; operations on the same path are not serialized.
type FileSystem struct {
	store store.Store
	cfg   *objtypes.Config
	keys  *keys.Translator
	dirs  *dirs.Emulator

	uploader   *upload.Uploader
	copier     *objcopy.Copier
	downloader *download.Downloader

	scratchFS  billy.Filesystem
	scratchDir string
}

// New creates a FileSystem over s.
//
// Example:
//
//	fsys, err := objfs.New(st,
//	    objfs.WithRootPrefix("data"),
//	    objfs.WithMultipartThreshold(64*1024*1024),
//	)
func New(s store.Store, opts ...objtypes.Option) (*FileSystem, error) {
	if s == nil {
		return nil, errors.NewError("new", errors.ErrInvalidConfig).WithMessage("store is required")
	}

	cfg := objtypes.NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr, err := keys.New(cfg.Authority, cfg.RootPrefix)
	if err != nil {
		return nil, err
	}

	scratchFS, scratchDir, err := scratch(cfg)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		store:      s,
		cfg:        cfg,
		keys:       tr,
		dirs:       dirs.New(s, tr, cfg.Logger),
		uploader:   upload.New(s, cfg),
		copier:     objcopy.NewCopier(s, cfg),
		downloader: download.New(s, cfg.Logger),
		scratchFS:  scratchFS,
		scratchDir: scratchDir,
	}, nil
}

// scratch resolves where staged writes go. Without a configured filesystem
// scratch files live on the OS filesystem, under the OS temp dir by default.
func scratch(cfg *objtypes.Config) (billy.Filesystem, string, error) {
	if cfg.ScratchFS != nil {
		return cfg.ScratchFS, cfg.ScratchDir, nil
	}
	dir := cfg.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", errors.NewError("new", errors.Staging(err)).WithMessage("resolve scratch dir")
	}
	return osfs.New("/"), abs, nil
}

// Config returns the effective configuration.
func (f *FileSystem) Config() objtypes.Config {
	return *f.cfg
}

// Create opens a staged write to path. Nothing reaches the store until the
// returned Writer is committed. With overwrite false an existing file fails
// with ErrAlreadyExists; a directory at path always does. A file above path
// fails with ErrNotDirectory.
func (f *FileSystem) Create(ctx context.Context, path string, overwrite bool) (*Writer, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return nil, withPath("create", path, err)
	}
	if f.keys.IsRoot(key) {
		return nil, errors.NewPathError("create", path, errors.ErrAlreadyExists).WithMessage("path is the root directory")
	}

	entry, err := f.dirs.Lookup(ctx, key)
	if err != nil {
		return nil, withPath("create", path, err)
	}
	switch {
	case entry.Kind == dirs.KindDir:
		return nil, errors.NewPathError("create", path, errors.ErrAlreadyExists).WithMessage("path is a directory")
	case entry.Kind == dirs.KindFile && !overwrite:
		return nil, errors.NewPathError("create", path, errors.ErrAlreadyExists)
	}
	if err := f.dirs.CheckAncestors(ctx, key); err != nil {
		return nil, withPath("create", path, err)
	}

	w := &Writer{path: path, key: key}
	staged, err := staging.New(f.scratchFS, f.scratchDir, f.cfg.Logger, func(ctx context.Context, st staging.Staged) error {
		res, err := f.uploader.Upload(ctx, key, st.Source, st.Size, upload.Options{MD5: st.MD5, Head: st.Head})
		if err != nil {
			return withPath("close", path, err)
		}
		w.result = res
		f.clearParentMarker(ctx, key)
		return nil
	})
	if err != nil {
		return nil, withPath("create", path, err)
	}
	w.staged = staged
	return w, nil
}

// Open starts a streaming read of the file at path.
func (f *FileSystem) Open(ctx context.Context, path string) (*download.Reader, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return nil, withPath("open", path, err)
	}
	if f.keys.IsRoot(key) {
		return nil, errors.NewPathError("open", path, errors.ErrNotFound).WithMessage("path is the root directory")
	}
	r, err := f.downloader.Open(ctx, key)
	if err != nil {
		return nil, withPath("open", path, err)
	}
	return r, nil
}

// ReadFile reads the whole file at path.
func (f *FileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return nil, withPath("read", path, err)
	}
	data, err := f.downloader.Get(ctx, key)
	if err != nil {
		return nil, withPath("read", path, err)
	}
	return data, nil
}

// Exists reports whether path is a file or a directory.
func (f *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return false, withPath("exists", path, err)
	}
	ok, err := f.dirs.Exists(ctx, key)
	if err != nil {
		return false, withPath("exists", path, err)
	}
	return ok, nil
}

// IsDir reports whether path is a directory.
func (f *FileSystem) IsDir(ctx context.Context, path string) (bool, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return false, withPath("isDir", path, err)
	}
	ok, err := f.dirs.IsDir(ctx, key)
	if err != nil {
		return false, withPath("isDir", path, err)
	}
	return ok, nil
}

// Stat returns the status of path.
func (f *FileSystem) Stat(ctx context.Context, path string) (*objtypes.FileStatus, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return nil, withPath("stat", path, err)
	}
	st, err := f.dirs.Stat(ctx, key)
	if err != nil {
		return nil, withPath("stat", path, err)
	}
	return st, nil
}

// List returns the immediate children of the directory at path, sorted by
// path. Listing a file returns its own status.
func (f *FileSystem) List(ctx context.Context, path string) ([]objtypes.FileStatus, error) {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return nil, withPath("list", path, err)
	}
	entries, err := f.dirs.List(ctx, key)
	if err != nil {
		return nil, withPath("list", path, err)
	}
	return entries, nil
}

// Mkdir creates the directory at path and, implicitly, every missing
// directory above it.
func (f *FileSystem) Mkdir(ctx context.Context, path string) error {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return withPath("mkdir", path, err)
	}
	if err := f.dirs.Mkdir(ctx, key); err != nil {
		return withPath("mkdir", path, err)
	}
	return nil
}

// Delete removes the file or directory at path. Non-empty directories
// require recursive. Deleting the root removes its contents only.
func (f *FileSystem) Delete(ctx context.Context, path string, recursive bool) error {
	key, err := f.keys.PathToKey(path)
	if err != nil {
		return withPath("delete", path, err)
	}
	if err := f.dirs.Delete(ctx, key, recursive); err != nil {
		return withPath("delete", path, err)
	}
	return nil
}

// Purge deletes every object whose key, relative to the root prefix,
// starts with prefix. No directory semantics apply: "tmp" also matches
// "tmp2/x". It returns the number of objects deleted.
func (f *FileSystem) Purge(ctx context.Context, prefix string) (int, error) {
	rel := strings.TrimPrefix(prefix, keys.Separator)
	if strings.ContainsFunc(rel, isControl) {
		return 0, errors.NewPathError("purge", prefix, errors.ErrInvalidPath).WithMessage("control character in prefix")
	}
	raw := f.keys.Join(f.keys.Root(), rel)
	if rel == "" {
		raw = f.keys.ChildPrefix(f.keys.Root())
	}
	n, err := f.dirs.Purge(ctx, raw)
	if err != nil {
		return n, withPath("purge", prefix, err)
	}
	f.cfg.Logger.InfoContext(ctx, "purge completed", "prefix", raw, "objects", n)
	return n, nil
}

// Copy copies the file at src to dst. If dst is an existing directory the
// copy is placed inside it under the source's name.
func (f *FileSystem) Copy(ctx context.Context, src, dst string) (*objtypes.UploadResult, error) {
	srcKey, srcEntry, dstKey, err := f.resolveTransfer(ctx, "copy", src, dst)
	if err != nil {
		return nil, err
	}
	if srcEntry.Kind == dirs.KindDir {
		return nil, errors.NewPathError("copy", src, errors.ErrInvalidPath).WithMessage("source is a directory")
	}
	if srcKey == dstKey {
		return nil, errors.NewPathError("copy", dst, errors.ErrAlreadyExists)
	}

	res, err := f.copier.Copy(ctx, sourceOf(srcEntry), dstKey)
	if err != nil {
		return nil, withPath("copy", src, err)
	}
	f.clearParentMarker(ctx, dstKey)
	return res, nil
}

// Rename moves src to dst. If dst is an existing directory, src is moved
// inside it under its own name; an existing file at the destination fails
// with ErrAlreadyExists. Directories are moved one object at a time and a
// failure part way leaves the objects moved so far at the destination. The
// source's parent directory keeps existing.
func (f *FileSystem) Rename(ctx context.Context, src, dst string) error {
	srcKey, srcEntry, dstKey, err := f.resolveTransfer(ctx, "rename", src, dst)
	if err != nil {
		return err
	}
	if srcKey == dstKey {
		return nil
	}

	var moved int
	if srcEntry.Kind == dirs.KindFile {
		if _, err := f.copier.Rename(ctx, sourceOf(srcEntry), dstKey); err != nil {
			return withPath("rename", src, err)
		}
		moved = 1
	} else {
		if strings.HasPrefix(dstKey, f.keys.ChildPrefix(srcKey)) {
			return errors.NewPathError("rename", src, errors.ErrInvalidPath).
				WithMessage("cannot move a directory below itself: " + dst)
		}
		if moved, err = f.renameDir(ctx, srcKey, dstKey); err != nil {
			return withPath("rename", src, err)
		}
	}

	if err := f.dirs.EnsureDir(ctx, f.keys.Parent(srcKey)); err != nil {
		return withPath("rename", src, err)
	}
	f.clearParentMarker(ctx, dstKey)

	f.cfg.Logger.InfoContext(ctx, "rename completed", "src_key", srcKey, "key", dstKey, "objects", moved)
	return nil
}

// renameDir moves every object below srcKey, marker included, to the same
// relative key below dstKey.
func (f *FileSystem) renameDir(ctx context.Context, srcKey, dstKey string) (int, error) {
	objs, err := f.dirs.Descendants(ctx, srcKey)
	if err != nil {
		return 0, err
	}

	srcPrefix := f.keys.ChildPrefix(srcKey)
	dstPrefix := f.keys.ChildPrefix(dstKey)
	for i, obj := range objs {
		src := objcopy.Source{Key: obj.Key, Size: obj.Size}
		if obj.Size > f.cfg.MultipartThreshold {
			meta, err := f.store.Head(ctx, obj.Key)
			if err != nil {
				return i, errors.NewKeyError("rename", obj.Key, errors.Transfer(err))
			}
			src.ContentType = meta.ContentType
		}
		target := dstPrefix + strings.TrimPrefix(obj.Key, srcPrefix)
		if _, err := f.copier.Rename(ctx, src, target); err != nil {
			return i, err
		}
	}
	return len(objs), nil
}

// resolveTransfer validates a copy or rename and returns the final
// destination key.
func (f *FileSystem) resolveTransfer(
	ctx context.Context,
	op, src, dst string,
) (string, dirs.Entry, string, error) {
	srcKey, err := f.keys.PathToKey(src)
	if err != nil {
		return "", dirs.Entry{}, "", withPath(op, src, err)
	}
	dstKey, err := f.keys.PathToKey(dst)
	if err != nil {
		return "", dirs.Entry{}, "", withPath(op, dst, err)
	}
	if f.keys.IsRoot(srcKey) {
		return "", dirs.Entry{}, "", errors.NewPathError(op, src, errors.ErrInvalidPath).
			WithMessage("source is the root directory")
	}

	srcEntry, err := f.dirs.Lookup(ctx, srcKey)
	if err != nil {
		return "", dirs.Entry{}, "", withPath(op, src, err)
	}
	if srcEntry.Kind == dirs.KindNone {
		return "", dirs.Entry{}, "", errors.NewPathError(op, src, errors.ErrNotFound)
	}
	if srcKey == dstKey {
		return srcKey, srcEntry, dstKey, nil
	}

	dstEntry, err := f.dirs.Lookup(ctx, dstKey)
	if err != nil {
		return "", dirs.Entry{}, "", withPath(op, dst, err)
	}
	switch dstEntry.Kind {
	case dirs.KindFile:
		return "", dirs.Entry{}, "", errors.NewPathError(op, dst, errors.ErrAlreadyExists)
	case dirs.KindDir:
		dstKey = f.keys.Join(dstKey, f.keys.Base(srcKey))
		if dstKey == srcKey {
			return srcKey, srcEntry, dstKey, nil
		}
		inner, err := f.dirs.Lookup(ctx, dstKey)
		if err != nil {
			return "", dirs.Entry{}, "", withPath(op, dst, err)
		}
		if inner.Kind != dirs.KindNone {
			return "", dirs.Entry{}, "", errors.NewPathError(op, dst, errors.ErrAlreadyExists).
				WithMessage(f.keys.Base(srcKey) + " already exists in destination")
		}
	default:
		if err := f.dirs.CheckAncestors(ctx, dstKey); err != nil {
			return "", dirs.Entry{}, "", withPath(op, dst, err)
		}
	}
	return srcKey, srcEntry, dstKey, nil
}

// clearParentMarker drops the now redundant markers above key. Failures
// are logged, not returned.
func (f *FileSystem) clearParentMarker(ctx context.Context, key string) {
	if err := f.dirs.ClearMarker(ctx, f.keys.Parent(key)); err != nil {
		f.cfg.Logger.WarnContext(ctx, "failed to clear directory marker", "key", key, "error", err)
	}
}

func sourceOf(entry dirs.Entry) objcopy.Source {
	src := objcopy.Source{Key: entry.Key}
	if entry.Meta != nil {
		src.Size = entry.Meta.Size
		src.ContentType = entry.Meta.ContentType
	}
	return src
}

// withPath attaches path to err, reusing an *errors.Error already in the
// chain when it has no path yet.
func withPath(op, path string, err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if e.Path == "" {
			e.Path = path
		}
		return err
	}
	return errors.NewPathError(op, path, err)
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
