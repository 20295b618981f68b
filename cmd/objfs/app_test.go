package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	objerrors "github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store/memstore"
)

type harness struct {
	t       *testing.T
	mem     *memstore.Store
	scratch string
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, mem: memstore.New(), scratch: t.TempDir()}
}

// run executes one command line against the shared store and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	var out bytes.Buffer
	open := func(*cli.Context, *slog.Logger) (store.Store, error) {
		return h.mem, nil
	}
	app := newApp(open, &out, io.Discard)
	argv := append([]string{"objfs", "--bucket", "data", "--scratch-dir", h.scratch}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	out, err := h.run(args...)
	require.NoError(h.t, err, "objfs %s", strings.Join(args, " "))
	return out
}

func TestApp_PutGetRoundTrip(t *testing.T) {
	h := newHarness(t)
	local := filepath.Join(t.TempDir(), "in.bin")
	data := testutil.GenerateRandomData(64 * 1024)
	require.NoError(t, os.WriteFile(local, data, 0o600))

	out := h.mustRun("put", local, "/docs/in.bin")
	assert.Contains(t, out, "/docs/in.bin")
	assert.Contains(t, out, testutil.CalculateMD5(data))

	got := h.mustRun("cat", "/docs/in.bin")
	assert.Equal(t, data, []byte(got))

	dst := filepath.Join(t.TempDir(), "out.bin")
	h.mustRun("get", "s3://data/docs/in.bin", dst)
	written, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestApp_PutRefusesOverwrite(t *testing.T) {
	h := newHarness(t)
	local := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(local, []byte("one"), 0o600))

	h.mustRun("put", local, "/f")
	_, err := h.run("put", local, "/f")
	assert.True(t, objerrors.Is(err, objerrors.ErrAlreadyExists))

	require.NoError(t, os.WriteFile(local, []byte("two"), 0o600))
	h.mustRun("put", "--overwrite", local, "/f")
	assert.Equal(t, "two", h.mustRun("cat", "/f"))
}

func TestApp_DirectoryCommands(t *testing.T) {
	h := newHarness(t)
	h.mustRun("mkdir", "/a/b", "/c")

	out := h.mustRun("ls")
	assert.Contains(t, out, "/a")
	assert.Contains(t, out, "/c")

	out = h.mustRun("stat", "/a/b")
	assert.True(t, strings.HasPrefix(out, "d"))

	_, err := h.run("rm", "/a")
	assert.True(t, objerrors.IsDirectoryNotEmpty(err))

	h.mustRun("rm", "-r", "/a")
	_, err = h.run("stat", "/a")
	assert.True(t, objerrors.IsNotFound(err))
}

func TestApp_MoveCopyPurge(t *testing.T) {
	h := newHarness(t)
	local := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o600))
	h.mustRun("put", local, "/src/f")

	h.mustRun("mv", "/src/f", "/dst/f")
	_, err := h.run("stat", "/src/f")
	assert.True(t, objerrors.IsNotFound(err))
	assert.Equal(t, "payload", h.mustRun("cat", "/dst/f"))

	h.mustRun("cp", "/dst/f", "/dst/g")
	assert.Equal(t, "payload", h.mustRun("cat", "/dst/g"))

	out := h.mustRun("purge", "dst")
	assert.Equal(t, "deleted 2 objects\n", out)
	assert.NotContains(t, h.mem.Keys(), "dst/f")
}

type closeFailer struct {
	bytes.Buffer
	err error
}

func (c *closeFailer) Close() error {
	return c.err
}

func TestCopyAndClose(t *testing.T) {
	t.Run("close error is reported", func(t *testing.T) {
		closeErr := errors.New("no space left on device")
		dst := &closeFailer{err: closeErr}
		err := copyAndClose(dst, strings.NewReader("payload"))
		assert.ErrorIs(t, err, closeErr)
		assert.Equal(t, "payload", dst.String())
	})

	t.Run("copy error wins", func(t *testing.T) {
		readErr := errors.New("connection reset")
		dst := &closeFailer{err: errors.New("close")}
		err := copyAndClose(dst, iotest.ErrReader(readErr))
		assert.ErrorIs(t, err, readErr)
	})

	t.Run("clean close", func(t *testing.T) {
		dst := &closeFailer{}
		require.NoError(t, copyAndClose(dst, strings.NewReader("x")))
	})
}

func TestApp_ArgumentErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"stat without path", []string{"stat"}},
		{"mv with one path", []string{"mv", "/a"}},
		{"mkdir without path", []string{"mkdir"}},
		{"get with extra args", []string{"get", "/a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestApp_StoreOpenFailure(t *testing.T) {
	var out bytes.Buffer
	open := func(*cli.Context, *slog.Logger) (store.Store, error) {
		return nil, objerrors.NewError("client initialization", objerrors.ErrInvalidConfig)
	}
	app := newApp(open, &out, io.Discard)

	err := app.Run([]string{"objfs", "ls"})
	require.Error(t, err)
	assert.True(t, objerrors.Is(err, objerrors.ErrInvalidConfig))
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	app := newApp(openStore, io.Discard, io.Discard)
	err := app.Run([]string{"objfs", "--backend", "gcs", "ls"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "gcs"`)
}

func TestOpenStore_MinioRequiresEndpoint(t *testing.T) {
	app := newApp(openStore, io.Discard, io.Discard)
	err := app.Run([]string{"objfs", "--backend", "minio", "--bucket", "data", "ls"})
	require.Error(t, err)
	assert.True(t, objerrors.Is(err, objerrors.ErrInvalidConfig))
}
