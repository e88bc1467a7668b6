package types

import "strings"

// Path is a hierarchical state-store key: a sequence of non-empty segments
// with a dotted string rendering. It is grounded on the upstream Rust
// DotPathBuf (original_source/core/indexer/src/runtime/dot_path_buf.rs):
// push/pop mutate the segment list, empty segments are silently dropped,
// and String/ParsePath round-trip.
type Path struct {
	segments []string
}

// NewPath builds a Path from already-known segments, dropping empties.
func NewPath(segments ...string) Path {
	p := Path{}
	for _, s := range segments {
		p.Push(s)
	}
	return p
}

// ParsePath splits a dotted string into a Path, ignoring empty segments
// produced by leading, trailing or duplicated separators.
func ParsePath(s string) Path {
	var p Path
	for _, seg := range strings.Split(s, ".") {
		p.Push(seg)
	}
	return p
}

// Push appends a segment, ignoring it if empty.
func (p *Path) Push(segment string) {
	if segment != "" {
		p.segments = append(p.segments, segment)
	}
}

// Pop removes and returns the last segment, if any.
func (p *Path) Pop() (string, bool) {
	if len(p.segments) == 0 {
		return "", false
	}
	last := p.segments[len(p.segments)-1]
	p.segments = p.segments[:len(p.segments)-1]
	return last, true
}

// Segments returns the path's segments; the caller must not mutate it.
func (p Path) Segments() []string { return p.segments }

// String renders the dotted canonical form.
func (p Path) String() string { return strings.Join(p.segments, ".") }

// Child returns a new path with segment appended, leaving p unmodified.
func (p Path) Child(segment string) Path {
	child := NewPath(p.segments...)
	child.Push(segment)
	return child
}

// Equal reports whether two paths have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p is a (non-strict) prefix of other.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}
