// Package keys translates between hierarchical filesystem paths and flat
// object store keys.
//
// A path is absolute, '/'-separated and may carry a scheme://authority
// prefix (s3://bucket/a/b). Its key is the path without the leading
// separator, placed under the configured root prefix. Directory markers live
// at the directory key plus a trailing separator.
package keys

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/errors"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/validation"
)

// Separator separates path segments and key segments alike.
const Separator = "/"

// Translator maps paths to keys under one root prefix.
type Translator struct {
	authority string
	root      string
}

// New creates a Translator. An empty authority accepts any scheme authority;
// an empty root prefix maps paths to the top of the bucket.
func New(authority, rootPrefix string) (*Translator, error) {
	if err := validation.ValidateRootPrefix(rootPrefix); err != nil {
		return nil, err
	}
	return &Translator{authority: authority, root: rootPrefix}, nil
}

// Root returns the key of the filesystem root. It is empty when no root
// prefix is configured.
func (t *Translator) Root() string {
	return t.root
}

// Normalize strips any scheme and authority and returns the cleaned absolute
// path. "." segments and repeated separators are dropped and ".." is
// resolved; a ".." that would climb above the root is an error.
func (t *Translator) Normalize(p string) (string, error) {
	rest, err := t.stripScheme(p)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(rest, Separator) {
		return "", invalidPath(p, "path must be absolute")
	}
	if hasControl(rest) {
		return "", invalidPath(p, "path contains control characters")
	}
	if !utf8.ValidString(rest) {
		return "", invalidPath(p, "path is not valid UTF-8")
	}

	var segs []string
	for _, seg := range strings.Split(rest, Separator) {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) == 0 {
				return "", invalidPath(p, "path escapes the filesystem root")
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}
	return Separator + strings.Join(segs, Separator), nil
}

// PathToKey returns the object key for p.
func (t *Translator) PathToKey(p string) (string, error) {
	n, err := t.Normalize(p)
	if err != nil {
		return "", err
	}
	key := t.Join(t.root, strings.TrimPrefix(n, Separator))
	if key == "" {
		return "", nil
	}
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", errors.NewPathError("pathToKey", p, err)
	}
	return key, nil
}

// KeyToPath returns the normalized path of key. Marker keys map to their
// directory's path. Keys outside the root prefix are rejected.
func (t *Translator) KeyToPath(key string) (string, error) {
	rel := key
	if t.root != "" {
		switch {
		case key == t.root || key == t.root+Separator:
			return Separator, nil
		case strings.HasPrefix(key, t.root+Separator):
			rel = key[len(t.root)+1:]
		default:
			return "", errors.NewKeyError("keyToPath", key, errors.ErrInvalidPath).
				WithMessage("key is outside root prefix " + t.root)
		}
	}
	rel = strings.TrimSuffix(rel, Separator)
	if rel == "" {
		return Separator, nil
	}
	if strings.HasPrefix(rel, Separator) || strings.Contains(rel, Separator+Separator) {
		return "", errors.NewKeyError("keyToPath", key, errors.ErrInvalidPath).
			WithMessage("key has empty path segments")
	}
	return Separator + rel, nil
}

// IsRoot reports whether key is the filesystem root.
func (t *Translator) IsRoot(key string) bool {
	return key == t.root
}

// MarkerKey returns the directory marker key for a directory key. The root
// has no marker.
func (t *Translator) MarkerKey(dirKey string) string {
	if t.IsRoot(dirKey) {
		return ""
	}
	return dirKey + Separator
}

// ChildPrefix returns the prefix shared by every key below dirKey.
func (t *Translator) ChildPrefix(dirKey string) string {
	if dirKey == "" {
		return ""
	}
	return dirKey + Separator
}

// Parent returns the key of the directory containing key. The parent of the
// root is the root.
func (t *Translator) Parent(key string) string {
	if t.IsRoot(key) {
		return key
	}
	i := strings.LastIndex(key, Separator)
	if i < 0 {
		return ""
	}
	return key[:i]
}

// Ancestors returns the directory keys above key, nearest first, excluding
// the root.
func (t *Translator) Ancestors(key string) []string {
	var out []string
	for p := t.Parent(key); !t.IsRoot(p); p = t.Parent(p) {
		out = append(out, p)
	}
	return out
}

// Base returns the last segment of key.
func (t *Translator) Base(key string) string {
	key = strings.TrimSuffix(key, Separator)
	return key[strings.LastIndex(key, Separator)+1:]
}

// Join appends name to dirKey.
func (t *Translator) Join(dirKey, name string) string {
	switch {
	case dirKey == "":
		return name
	case name == "":
		return dirKey
	}
	return dirKey + Separator + name
}

// stripScheme removes a leading scheme://authority and checks the authority.
func (t *Translator) stripScheme(p string) (string, error) {
	i := strings.Index(p, "://")
	if i < 0 {
		return p, nil
	}
	if !validScheme(p[:i]) {
		return "", invalidPath(p, "malformed scheme")
	}
	rest := p[i+3:]
	authority := rest
	if j := strings.Index(rest, Separator); j >= 0 {
		authority, rest = rest[:j], rest[j:]
	} else {
		rest = Separator
	}
	if t.authority != "" && authority != t.authority {
		return "", invalidPath(p, fmt.Sprintf("authority %q does not match %q", authority, t.authority))
	}
	return rest, nil
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0
}

func invalidPath(p, msg string) error {
	return errors.NewPathError("normalize", p, errors.ErrInvalidPath).WithMessage(msg)
}
