package datasaver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usnistgov/datasaver/arraystore"
)

func TestParseIndex(t *testing.T) {
	ix, err := ParseIndex([]string{"..."})
	require.NoError(t, err)
	assert.True(t, ix.IsFull())
	assert.Equal(t, "[...]", ix.String())

	ix, err = ParseIndex([]string{"3", "2:5", "4:", ":", " 1 : 2 "})
	require.NoError(t, err)
	assert.Equal(t, At(Pos(3), Span(2, 5), From(4), All(), Span(1, 2)), ix)
	assert.Equal(t, "[3, 2:5, 4:, :, 1:2]", ix.String())

	for _, bad := range []string{"", "a", "1:b", "x:2", "1.5"} {
		_, err := ParseIndex([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestIndexSlab(t *testing.T) {
	shape := []int{4, 6}
	slab, err := Full.slab("d", shape)
	require.NoError(t, err)
	assert.Equal(t, arraystore.Whole(shape), slab)

	slab, err = At(Pos(2), Span(1, 4)).slab("d", shape)
	require.NoError(t, err)
	assert.Equal(t, arraystore.Slab{Start: []int{2, 1}, Count: []int{1, 3}}, slab)

	slab, err = At(From(1), All()).slab("d", shape)
	require.NoError(t, err)
	assert.Equal(t, arraystore.Slab{Start: []int{1, 0}, Count: []int{3, 6}}, slab)

	for _, ix := range []Index{
		{},
		At(Pos(0)),
		At(Pos(4), All()),
		At(Span(3, 2), All()),
		At(Span(0, 7), All()),
		At(From(5), All()),
		At(Selector{}, All()),
	} {
		_, err := ix.slab("d", shape)
		var ie *IndexError
		require.ErrorAs(t, err, &ie, "%v", ix)
	}
}

func TestExtentTracker(t *testing.T) {
	r, err := resolveSchema(Schema{
		"grid":  {Shape: []int{5, 4, 3}},
		"fixed": {Shape: []int{2}, Chunks: FixedSize},
	})
	require.NoError(t, err)
	tr := newExtentTracker(r)
	assert.True(t, tr.tracks("grid"))
	assert.False(t, tr.tracks("fixed"))
	assert.Equal(t, []string{"grid"}, tr.names())

	require.NoError(t, tr.update("grid", At(Pos(1), Span(0, 2), Pos(0))))
	ext, _ := tr.extent("grid")
	assert.Equal(t, []int{2, 2, 1}, ext)

	// Marks never shrink.
	require.NoError(t, tr.update("grid", At(Pos(0), Span(0, 1), Pos(0))))
	ext, _ = tr.extent("grid")
	assert.Equal(t, []int{2, 2, 1}, ext)

	require.NoError(t, tr.update("grid", At(Pos(0), Span(1, 3), From(2))))
	ext, _ = tr.extent("grid")
	assert.Equal(t, []int{2, 3, 3}, ext)

	require.Error(t, tr.update("grid", At(Pos(9), All(), All())))
	ext, _ = tr.extent("grid")
	assert.Equal(t, []int{2, 3, 3}, ext)

	require.NoError(t, tr.update("grid", Full))
	ext, _ = tr.extent("grid")
	assert.Equal(t, []int{5, 4, 3}, ext)

	require.NoError(t, tr.update("fixed", Full))
	_, ok := tr.extent("fixed")
	assert.False(t, ok)
}
