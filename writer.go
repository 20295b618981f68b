package objfs

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/staging"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
)

// Writer is a write stream returned by FileSystem.Create. Bytes are staged
// locally and uploaded when the Writer is committed; until then the file
// does not exist in the store. A Writer must not be used concurrently.
type Writer struct {
	path   string
	key    string
	staged *staging.Writer
	result *objtypes.UploadResult
}

// Write implements io.Writer. A local staging failure is sticky and is
// returned again by Commit.
func (w *Writer) Write(p []byte) (int, error) {
	return w.staged.Write(p)
}

// Commit uploads the staged bytes and releases the scratch file. Only one
// upload ever happens; later calls return the first result.
func (w *Writer) Commit(ctx context.Context) error {
	return w.staged.Commit(ctx)
}

// Close implements io.Closer. It commits with a background context; use
// Commit to bound the upload.
func (w *Writer) Close() error {
	return w.Commit(context.Background())
}

// Abort discards the staged bytes. The store is not touched.
func (w *Writer) Abort() {
	w.staged.Abort()
}

// Path returns the path the Writer was created for.
func (w *Writer) Path() string {
	return w.path
}

// Key returns the object key being written.
func (w *Writer) Key() string {
	return w.key
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.staged.Size()
}

// Digest returns the MD5 of the bytes written so far.
func (w *Writer) Digest() []byte {
	return w.staged.Digest()
}

// Result returns the upload result after a successful commit, nil otherwise.
func (w *Writer) Result() *objtypes.UploadResult {
	return w.result
}
