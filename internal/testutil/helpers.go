package testutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
)

// StringPtr returns a pointer to the given string.
// This is useful for AWS SDK inputs that require string pointers.
func StringPtr(s string) *string {
	return aws.String(s)
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(i int64) *int64 {
	return aws.Int64(i)
}

// Repeat returns n copies of b, like the fill pattern used by filesystem
// contract tests.
func Repeat(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// GenerateRandomData generates random bytes of the specified size.
func GenerateRandomData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rand.Intn(256))
	}
	return data
}

// CalculateMD5 calculates the hex MD5 of data.
func CalculateMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ReadObject reads a whole object from s.
func ReadObject(t *testing.T, s store.Store, key string) []byte {
	t.Helper()
	obj, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	return data
}

// PutObject writes data to s in a single request.
func PutObject(t *testing.T, s store.Store, key string, data []byte) {
	t.Helper()
	_, err := s.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), store.PutOptions{})
	require.NoError(t, err)
}

// LogEntry is one captured log record.
type LogEntry struct {
	Level   string
	Message string
	Attrs   map[string]string
}

// LogHandler captures log records for assertions.
type LogHandler struct {
	mu   sync.Mutex
	logs *[]LogEntry
}

// NewTestLogger returns a logger whose records are appended to logs.
func NewTestLogger(logs *[]LogEntry) *slog.Logger {
	return slog.New(&LogHandler{logs: logs})
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
//
//nolint:gocritic // slog.Handler interface requires slog.Record by value
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   make(map[string]string),
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	*h.logs = append(*h.logs, entry)
	h.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}
