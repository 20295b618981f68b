package errors

// ErrorCode is a stable, string-based classification of a filesystem failure.
// Codes are meant for logs and callers that prefer switching on a value over
// errors.Is chains.
type ErrorCode string

const (
	// Path errors.

	// CodeInvalidPath indicates a malformed path or a path outside the configured root.
	CodeInvalidPath ErrorCode = "INVALID_PATH"

	// CodeNotFound indicates the path or key does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates something already occupies the target path.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeNotDirectory indicates a file sits where a directory is required.
	CodeNotDirectory ErrorCode = "NOT_A_DIRECTORY"

	// CodeDirectoryNotEmpty indicates a non-recursive delete of a populated directory.
	CodeDirectoryNotEmpty ErrorCode = "DIRECTORY_NOT_EMPTY"

	// Transfer errors.

	// CodeStagingIO indicates local scratch storage failed before any remote call.
	CodeStagingIO ErrorCode = "STAGING_IO"

	// CodeTransfer indicates a remote put, copy or part transfer failed.
	CodeTransfer ErrorCode = "TRANSFER_FAILED"

	// CodePartialRename indicates the copy of a rename succeeded but the source delete did not.
	CodePartialRename ErrorCode = "PARTIAL_RENAME"

	// CodeChecksumMismatch indicates the stored object does not match the local digest or size.
	CodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"

	// Configuration errors.

	// CodeInvalidConfig indicates the filesystem or store configuration is unusable.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Generic errors.

	// CodeUnknown indicates an unclassified error.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// codeFor maps sentinels to codes. The first match wins; a partial rename
// may also wrap a transfer failure.
var codeFor = []struct {
	err  error
	code ErrorCode
}{
	{ErrPartialRename, CodePartialRename},
	{ErrInvalidPath, CodeInvalidPath},
	{ErrStagingIO, CodeStagingIO},
	{ErrChecksumMismatch, CodeChecksumMismatch},
	{ErrTransfer, CodeTransfer},
	{ErrDirectoryNotEmpty, CodeDirectoryNotEmpty},
	{ErrNotDirectory, CodeNotDirectory},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidConfig, CodeInvalidConfig},
}

// CodeOf returns the ErrorCode for err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, c := range codeFor {
		if Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
