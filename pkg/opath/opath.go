// Package opath provides the canonical virtual path type used across all
// object store backends.
//
// A Path is an ordered sequence of non-empty, slash-free segments. Its
// canonical string form is the slash-joined sequence with no leading or
// trailing delimiter. Two paths are equal exactly when their segment
// sequences are equal, so a percent-encoded input compares equal to its
// decoded form after Parse.
package opath

import (
	"fmt"
	"net/url"
	"strings"
)

// Delimiter separates path segments in the canonical string form.
const Delimiter = "/"

// InvalidPathError reports a raw string that cannot be parsed into a Path.
type InvalidPathError struct {
	Input  string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Input, e.Reason)
}

// Path is an immutable, normalized virtual path.
//
// The zero value is the empty path (no segments), which acts as the root
// prefix for listing operations.
type Path struct {
	raw string
}

// Parse builds a Path from a raw string, percent-decoding every segment.
// Empty segments (leading, trailing or doubled slashes) are dropped.
// Malformed percent-encodings and the relative segments "." and ".." are
// rejected with InvalidPathError.
func Parse(s string) (Path, error) {
	var parts []string
	for _, seg := range strings.Split(s, Delimiter) {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return Path{}, &InvalidPathError{Input: s, Reason: err.Error()}
		}
		if err := checkSegment(decoded); err != nil {
			return Path{}, &InvalidPathError{Input: s, Reason: err.Error()}
		}
		parts = append(parts, decoded)
	}
	return Path{raw: strings.Join(parts, Delimiter)}, nil
}

// MustParse is Parse for static inputs known to be valid. It panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromRaw builds a Path taking segments verbatim, with no percent-decoding.
// Empty segments are dropped; everything else is accepted as-is. FromRaw and
// Parse are not interchangeable: FromRaw("a%2Fb") keeps the literal three
// characters "%2F" inside one segment.
func FromRaw(s string) Path {
	parts := splitNonEmpty(s)
	return Path{raw: strings.Join(parts, Delimiter)}
}

// FromParts builds a Path from already-split segments. Empty segments are
// dropped, others are taken verbatim.
func FromParts(parts ...string) Path {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return Path{raw: strings.Join(kept, Delimiter)}
}

func checkSegment(seg string) error {
	switch seg {
	case ".", "..":
		return fmt.Errorf("relative segment %q is not allowed", seg)
	}
	if strings.Contains(seg, Delimiter) {
		return fmt.Errorf("segment %q contains the path delimiter", seg)
	}
	return nil
}

func splitNonEmpty(s string) []string {
	var parts []string
	for _, seg := range strings.Split(s, Delimiter) {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

// String returns the canonical slash-joined form.
func (p Path) String() string { return p.raw }

// IsEmpty reports whether the path has no segments.
func (p Path) IsEmpty() bool { return p.raw == "" }

// Parts returns the segment sequence. The empty path yields a nil slice.
func (p Path) Parts() []string {
	if p.raw == "" {
		return nil
	}
	return strings.Split(p.raw, Delimiter)
}

// Filename returns the last segment, or "" for the empty path.
func (p Path) Filename() string {
	if p.raw == "" {
		return ""
	}
	if i := strings.LastIndex(p.raw, Delimiter); i >= 0 {
		return p.raw[i+1:]
	}
	return p.raw
}

// Child appends a single raw segment. Empty segments are ignored.
func (p Path) Child(seg string) Path {
	if seg == "" {
		return p
	}
	if p.raw == "" {
		return Path{raw: seg}
	}
	return Path{raw: p.raw + Delimiter + seg}
}

// Join appends the segment sequence of other to p. This is the operation the
// prefix decorator builds full paths with.
func (p Path) Join(other Path) Path {
	switch {
	case p.raw == "":
		return other
	case other.raw == "":
		return p
	default:
		return Path{raw: p.raw + Delimiter + other.raw}
	}
}

// HasPrefix reports whether prefix is a whole-segment prefix of p.
// "foo/bar" has prefix "foo" but not "fo".
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.raw == "" {
		return true
	}
	if p.raw == prefix.raw {
		return true
	}
	return strings.HasPrefix(p.raw, prefix.raw+Delimiter)
}

// StripPrefix removes a whole-segment prefix from p. The second return is
// false when prefix does not match, in which case p is returned unchanged.
// For every prefix q and path r: StripPrefix(q, q.Join(r)) == (r, true).
func (p Path) StripPrefix(prefix Path) (Path, bool) {
	if prefix.raw == "" {
		return p, true
	}
	if p.raw == prefix.raw {
		return Path{}, true
	}
	if rest, ok := strings.CutPrefix(p.raw, prefix.raw+Delimiter); ok {
		return Path{raw: rest}, true
	}
	return p, false
}

// Compare orders paths by their segment sequences. It is consistent with
// comparing canonical strings segment-by-segment.
func Compare(a, b Path) int {
	ap, bp := a.Parts(), b.Parts()
	for i := 0; i < len(ap) && i < len(bp); i++ {
		if ap[i] != bp[i] {
			if ap[i] < bp[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ap) < len(bp):
		return -1
	case len(ap) > len(bp):
		return 1
	default:
		return 0
	}
}
