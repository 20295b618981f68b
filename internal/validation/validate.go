// Package validation provides centralized input validation for object keys
// and bucket names.
//
// Keys are validated before any remote call so malformed paths never reach
// the store.
package validation

import (
	"strings"
	"unicode"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
)

// MaxKeyLength is the longest object key accepted by S3-compatible stores.
const MaxKeyLength = 1024

// ValidateObjectKey validates that an object key is acceptable to an
// S3-compatible store. Returns ErrInvalidPath if not.
func ValidateObjectKey(key string) error {
	if key == "" {
		return errors.NewKeyError("validateObjectKey", key, errors.ErrInvalidPath).
			WithMessage("object key cannot be empty")
	}

	if len(key) > MaxKeyLength {
		return errors.NewKeyError("validateObjectKey", key, errors.ErrInvalidPath).
			WithMessage("object key cannot exceed 1024 bytes")
	}

	if hasControlCharacters(key) {
		return errors.NewKeyError("validateObjectKey", key, errors.ErrInvalidPath).
			WithMessage("object key cannot contain control characters")
	}

	if hasPathTraversal(key) {
		return errors.NewKeyError("validateObjectKey", key, errors.ErrInvalidPath).
			WithMessage("object key cannot contain relative path segments")
	}

	return nil
}

// ValidateRootPrefix validates a configured root prefix. An empty prefix
// roots the filesystem at the top of the bucket.
func ValidateRootPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
		return errors.NewError("validateRootPrefix", errors.ErrInvalidConfig).
			WithMessage("root prefix must not start or end with a separator")
	}
	if err := ValidateObjectKey(prefix); err != nil {
		return errors.NewError("validateRootPrefix", errors.ErrInvalidConfig).
			WithMessage(err.Error())
	}
	return nil
}

// ValidateBucketName validates that a bucket name is DNS-compliant according
// to S3 rules. Returns ErrInvalidConfig if the bucket name is invalid.
func ValidateBucketName(bucket string) error {
	if bucket == "" {
		return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
			WithMessage("bucket name cannot be empty")
	}

	// Bucket names must be between 3 and 63 characters long
	if len(bucket) < 3 || len(bucket) > 63 {
		return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
			WithMessage("bucket name must be between 3 and 63 characters long")
	}

	for _, char := range bucket {
		if !isValidBucketChar(char) {
			return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
				WithMessage("bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}

	first, last := bucket[0], bucket[len(bucket)-1]
	if first == '-' || first == '.' || last == '-' || last == '.' {
		return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
			WithMessage("bucket name cannot start or end with a hyphen or dot")
	}

	if strings.Contains(bucket, "..") {
		return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
			WithMessage("bucket name cannot contain two adjacent periods")
	}

	if isIPAddress(bucket) {
		return errors.NewError("validateBucketName", errors.ErrInvalidConfig).
			WithMessage("bucket name cannot be formatted as an IP address")
	}

	return nil
}

// isValidBucketChar checks if a character is valid in a bucket name
func isValidBucketChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || char == '.' || char == '-'
}

// isIPAddress checks if a string is formatted as a dotted IPv4 address
func isIPAddress(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		for _, char := range part {
			if char < '0' || char > '9' {
				return false
			}
		}
	}
	return true
}

// hasPathTraversal reports "." or ".." segments, which the store would keep
// literally but a path would resolve.
func hasPathTraversal(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func hasControlCharacters(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
