package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	assert.True(t, ParsePath("").IsEmpty())
	assert.True(t, ParsePath("/").IsEmpty())
	assert.True(t, ParsePath("//").IsEmpty())

	p := ParsePath("/a//b/c/")
	assert.Equal(t, []string{"a", "b", "c"}, p.Segments())
	assert.Equal(t, "/a/b/c", p.String())
	assert.Equal(t, "a", p.Front())
	assert.Equal(t, "c", p.Back())
	assert.Equal(t, 3, p.Len())
}

func TestPathNavigation(t *testing.T) {
	p := NewPath("a", "b")

	assert.Equal(t, "/b", p.PopFront().String())
	assert.Equal(t, "/a", p.Parent().String())
	assert.Equal(t, "/a/b/c", p.Child("c").String())
	assert.Equal(t, "/a/b/c/d", p.ChildPath(ParsePath("c/d")).String())
	assert.Equal(t, "/", EmptyPath().String())
	assert.True(t, EmptyPath().PopFront().IsEmpty())
	assert.True(t, EmptyPath().Parent().IsEmpty())
}

func TestPathChildDoesNotAlias(t *testing.T) {
	base := NewPath("a", "b", "c").Parent()
	x := base.Child("x")
	y := base.Child("y")

	assert.Equal(t, "/a/b/x", x.String())
	assert.Equal(t, "/a/b/y", y.String())
}

func TestPathContains(t *testing.T) {
	a := ParsePath("/a")
	ab := ParsePath("/a/b")

	assert.True(t, a.Contains(ab))
	assert.True(t, a.Contains(a))
	assert.False(t, ab.Contains(a))
	assert.False(t, ParsePath("/ab").Contains(ParsePath("/a")))
	assert.True(t, EmptyPath().Contains(ab))
	assert.True(t, ab.Equal(NewPath("a", "b")))
	assert.False(t, ab.Equal(a))
}

func TestRelative(t *testing.T) {
	assert.Equal(t, "/c", Relative(ParsePath("/a/b"), ParsePath("/a/b/c")).String())
	assert.True(t, Relative(ParsePath("/a"), ParsePath("/a")).IsEmpty())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.ErrorIs(t, r.(error), ErrNotContained)
	}()
	Relative(ParsePath("/a/b"), ParsePath("/a"))
}
