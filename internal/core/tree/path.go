package tree

import (
	"fmt"
	"strings"
)

// Path is an immutable location in the tree. The zero value is the root.
type Path struct {
	pieces []string
}

// ParsePath splits a slash separated path. Empty segments are dropped, so
// "", "/" and "//" all name the root.
func ParsePath(s string) Path {
	raw := strings.Split(s, "/")
	pieces := make([]string, 0, len(raw))
	for _, piece := range raw {
		if piece != "" {
			pieces = append(pieces, piece)
		}
	}
	return Path{pieces: pieces}
}

// NewPath builds a path from individual segments.
func NewPath(segments ...string) Path {
	pieces := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			pieces = append(pieces, s)
		}
	}
	return Path{pieces: pieces}
}

// EmptyPath returns the root path.
func EmptyPath() Path { return Path{} }

func (p Path) Len() int      { return len(p.pieces) }
func (p Path) IsEmpty() bool { return len(p.pieces) == 0 }

// Front returns the first segment, or "" for the root.
func (p Path) Front() string {
	if len(p.pieces) == 0 {
		return ""
	}
	return p.pieces[0]
}

// Back returns the last segment, or "" for the root.
func (p Path) Back() string {
	if len(p.pieces) == 0 {
		return ""
	}
	return p.pieces[len(p.pieces)-1]
}

// PopFront drops the first segment. The root pops to itself.
func (p Path) PopFront() Path {
	if len(p.pieces) == 0 {
		return p
	}
	return Path{pieces: p.pieces[1:]}
}

// Parent drops the last segment. The root has no parent and returns itself.
func (p Path) Parent() Path {
	if len(p.pieces) == 0 {
		return p
	}
	return Path{pieces: p.pieces[: len(p.pieces)-1 : len(p.pieces)-1]}
}

// Child appends a single segment.
func (p Path) Child(name string) Path {
	if name == "" {
		return p
	}
	pieces := make([]string, len(p.pieces), len(p.pieces)+1)
	copy(pieces, p.pieces)
	return Path{pieces: append(pieces, name)}
}

// ChildPath appends every segment of other.
func (p Path) ChildPath(other Path) Path {
	if other.IsEmpty() {
		return p
	}
	if p.IsEmpty() {
		return other
	}
	pieces := make([]string, 0, len(p.pieces)+len(other.pieces))
	pieces = append(pieces, p.pieces...)
	return Path{pieces: append(pieces, other.pieces...)}
}

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.pieces))
	copy(out, p.pieces)
	return out
}

// Contains reports whether other is p or lies beneath p.
func (p Path) Contains(other Path) bool {
	if len(p.pieces) > len(other.pieces) {
		return false
	}
	for i, piece := range p.pieces {
		if other.pieces[i] != piece {
			return false
		}
	}
	return true
}

func (p Path) Equal(other Path) bool {
	return len(p.pieces) == len(other.pieces) && p.Contains(other)
}

func (p Path) String() string {
	if len(p.pieces) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.pieces, "/")
}

// Relative returns inner expressed relative to outer. outer must contain inner.
func Relative(outer, inner Path) Path {
	if !outer.Contains(inner) {
		panic(fmt.Errorf("%w: %s is not contained in %s", ErrNotContained, inner, outer))
	}
	return Path{pieces: inner.pieces[len(outer.pieces):]}
}
