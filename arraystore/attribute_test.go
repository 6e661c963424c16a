package arraystore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAttributeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateGroup("/meta"))

	cases := []struct {
		in   any
		want any
	}{
		{Empty{}, Empty{}},
		{nil, Empty{}},
		{true, true},
		{"Hz", "Hz"},
		{5, int64(5)},
		{int8(-3), int64(-3)},
		{uint16(9), uint64(9)},
		{float32(0.5), 0.5},
		{2.75, 2.75},
		{[]bool{true, false}, []bool{true, false}},
		{[]string{"a", "b"}, []string{"a", "b"}},
		{[]int{1, 2, 3}, []int64{1, 2, 3}},
		{[]uint8{1, 2}, []uint64{1, 2}},
		{[]float32{1, 2}, []float64{1, 2}},
		{[]any{}, []float64{}},
		{[]any{1, 2.5, uint(3)}, []float64{1, 2.5, 3}},
		{[]any{1, uint(3)}, []int64{1, 3}},
		{[]any{"x", "y"}, []string{"x", "y"}},
		{[3]int{4, 5, 6}, []int64{4, 5, 6}},
		{mat.NewDense(2, 2, []float64{1, 2, 3, 4}), []float64{1, 2, 3, 4}},
	}
	for i, c := range cases {
		key := "k" + strings.Repeat("_", i)
		require.NoError(t, s.SetAttribute("meta", key, c.in), "value %#v", c.in)
		got, err := s.Attribute("/meta", key)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "value %#v", c.in)
	}
	all, err := s.Attributes("meta")
	require.NoError(t, err)
	assert.Len(t, all, len(cases))
}

func TestAttributeFailures(t *testing.T) {
	s := newTestStore(t, WithMaxAttributeSize(64))
	require.NoError(t, s.CreateArray("x", ArraySpec{Shape: []int{2}}))

	for _, v := range []any{
		map[string]int{"a": 1},
		struct{}{},
		[]any{1, "a"},
		[]any{[]int{1}, []int{2, 3}},
		[]any{1, []int{2}},
		[]any{nil, nil},
		make(chan int),
	} {
		assert.ErrorIs(t, s.SetAttribute("x", "bad", v), ErrUnsupportedType, "value %#v", v)
	}
	assert.ErrorIs(t, s.SetAttribute("x", "big", make([]float64, 9)), ErrAttributeTooLarge)
	assert.NoError(t, s.SetAttribute("x", "fits", make([]float64, 8)))
	assert.ErrorIs(t, s.SetAttribute("nowhere", "k", 1), ErrNotFound)
	assert.ErrorIs(t, s.SetAttribute("x", "", 1), ErrInvalidSpec)
	_, err := s.Attribute("x", "bad")
	assert.ErrorIs(t, err, ErrNotFound)

	// Overwriting keeps one value per key.
	require.NoError(t, s.SetAttribute("/", "v", 1))
	require.NoError(t, s.SetAttribute("/", "v", "one"))
	v, err := s.Attribute("/", "v")
	require.NoError(t, err)
	assert.Equal(t, "one", v)
}

func TestAttributeShape(t *testing.T) {
	s := newTestStore(t)
	cases := []struct {
		in    any
		want  any
		shape []int
	}{
		{mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}), []float64{1, 2, 3, 4, 5, 6}, []int{2, 3}},
		{[]any{[]any{1, 2}, []any{3, 4}}, []int64{1, 2, 3, 4}, []int{2, 2}},
		{[][]float64{{0.5}, {1.5}, {2.5}}, []float64{0.5, 1.5, 2.5}, []int{3, 1}},
		{[]any{[]string{"a", "b"}, []string{"c", "d"}}, []string{"a", "b", "c", "d"}, []int{2, 2}},
		{[2][2][2]uint8{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, []int{2, 2, 2}},
		{[]int{1, 2}, []int64{1, 2}, nil},
		{7, int64(7), nil},
	}
	for i, c := range cases {
		key := "k" + strings.Repeat("_", i)
		require.NoError(t, s.SetAttribute("/", key, c.in), "value %#v", c.in)
		got, err := s.Attribute("/", key)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "value %#v", c.in)
		shape, err := s.AttributeShape("/", key)
		require.NoError(t, err)
		assert.Equal(t, c.shape, shape, "value %#v", c.in)
	}

	// Overwriting a matrix with a scalar clears its shape.
	require.NoError(t, s.SetAttribute("/", "k", 1))
	shape, err := s.AttributeShape("/", "k")
	require.NoError(t, err)
	assert.Nil(t, shape)
	_, err = s.AttributeShape("/", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroups(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateGroup("a/b/c"))
	require.NoError(t, s.CreateGroup("/a/b"), "existing groups are not an error")
	require.NoError(t, s.CreateGroup("/"))
	groups, err := s.Groups()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, groups)

	require.NoError(t, s.CreateArray("x", ArraySpec{Shape: []int{1}}))
	assert.ErrorIs(t, s.CreateGroup("x/y"), ErrExists)
	require.NoError(t, s.CreateGroup("g"))
	assert.ErrorIs(t, s.CreateArray("g", ArraySpec{Shape: []int{1}}), ErrExists)

	attrs, err := s.Attributes("/a/b/c")
	require.NoError(t, err)
	assert.Empty(t, attrs)
	_, err = s.Attributes("/zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}
