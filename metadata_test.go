package datasaver

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/usnistgov/datasaver/arraystore"
)

// withSession runs fn in the only session of a fresh one-dataset file and
// returns the file's path.
func withSession(t *testing.T, fn func(*Session) error, opts ...Option) (string, error) {
	t.Helper()
	path := tempPath(t)
	sv, err := New(path, Schema{"fixed": {Shape: []int{1}, Chunks: FixedSize}}, opts...)
	require.NoError(t, err)
	return path, sv.Run(fn)
}

func TestMetadataRoundTrip(t *testing.T) {
	path, err := withSession(t, func(s *Session) error {
		return s.WriteMetadata("", map[string]any{
			"a":      1,
			"b":      map[string]any{"c": 2},
			"nothing": nil,
			"single": []any{5},
			"empty":  []any{},
			"mixed":  []any{1, "a"},
			"floats": []any{1, 2.5},
			"names":  []string{"ch1", "ch2"},
			"flags":  []any{true, false},
			"gain":   mat.NewDense(1, 2, []float64{0.5, 0.25}),
			"when":   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			"set":    map[string]struct{}{"q2": {}, "q1": {}},
			"ints":   []int{5},
			"float":  []float64{2.5},
			"flag":   [1]bool{true},
			"strs":   []string{"a"},
			"none":   []int{},
			"pairs":  []any{[]any{1, 2}, []any{3, 4}},
			"grid":   [][]float64{{1, 2}, {3, 4}, {5, 6}},
		})
	})
	require.NoError(t, err)
	s := reopen(t, path)

	attrs, err := s.Attributes("/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), attrs["a"])
	assert.Equal(t, arraystore.Empty{}, attrs["nothing"])
	assert.Equal(t, int64(5), attrs["single"], "one-element sequences are unwrapped")
	assert.Len(t, attrs["empty"], 0)
	assert.Equal(t, []float64{1, 2.5}, attrs["floats"])
	assert.Equal(t, []string{"ch1", "ch2"}, attrs["names"])
	assert.Equal(t, []bool{true, false}, attrs["flags"])
	assert.Equal(t, []float64{0.5, 0.25}, attrs["gain"])
	assert.Equal(t, "2024-03-01T12:00:00Z", attrs["when"])
	assert.Equal(t, []string{"q1", "q2"}, attrs["set"])
	assert.Equal(t, int64(5), attrs["ints"])
	assert.Equal(t, 2.5, attrs["float"])
	assert.Equal(t, true, attrs["flag"])
	assert.Equal(t, "a", attrs["strs"])
	assert.Len(t, attrs["none"], 0)
	assert.Equal(t, []int64{1, 2, 3, 4}, attrs["pairs"])
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, attrs["grid"])
	for key, want := range map[string][]int{"pairs": {2, 2}, "grid": {3, 2}, "gain": {1, 2}, "floats": nil} {
		shape, err := s.AttributeShape("/", key)
		require.NoError(t, err)
		assert.Equal(t, want, shape, key)
	}
	assert.NotContains(t, attrs, "b")
	assert.NotContains(t, attrs, "mixed")

	child, err := s.Attributes("/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": int64(2)}, child)

	mixed, err := s.Attributes("/mixed")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"0": int64(1), "1": "a"}, mixed)
}

func TestMetadataIntoGroup(t *testing.T) {
	path, err := withSession(t, func(s *Session) error {
		if err := s.WriteMetadata("instruments/lockin", map[string]any{"tau": 0.01}); err != nil {
			return err
		}
		return s.WriteMetadata("/instruments/empty", map[string]any{})
	})
	require.NoError(t, err)
	s := reopen(t, path)
	groups, err := s.Groups()
	require.NoError(t, err)
	assert.Subset(t, groups, []string{"/instruments", "/instruments/lockin", "/instruments/empty"})
	tau, err := s.Attribute("/instruments/lockin", "tau")
	require.NoError(t, err)
	assert.Equal(t, 0.01, tau)
	empty, err := s.Attributes("/instruments/empty")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMetadataTooLarge(t *testing.T) {
	path, err := withSession(t, func(s *Session) error {
		return s.WriteMetadata("", map[string]any{
			"a":   "fine",
			"big": strings.Repeat("x", 128),
			"z":   "never written",
		})
	}, WithStoreOptions(arraystore.WithMaxAttributeSize(64)))
	var tooLarge *ValueTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "/big", tooLarge.Key)
	assert.Contains(t, err.Error(), "dataset")

	attrs, err := reopen(t, path).Attributes("/")
	require.NoError(t, err)
	assert.Equal(t, "fine", attrs["a"], "siblings written before the failure survive")
	assert.NotContains(t, attrs, "z")
}

func TestMetadataUnsupported(t *testing.T) {
	type probe struct{ Gain float64 }
	cases := map[string]struct {
		value any
		key   string
	}{
		"struct":           {probe{1}, "/bad"},
		"nested struct":    {map[string]any{"ok": 1, "p": probe{2}}, "/bad/p"},
		"channel":          {make(chan int), "/bad"},
		"ragged lists":     {[]any{[]any{1, 2}, []any{3}}, "/bad"},
		"lists of mixed":   {[]any{[]any{1, 2}, []any{"a", "b"}}, "/bad"},
		"list of mappings": {[]any{map[string]any{"a": 1}, map[string]any{"a": 2}}, "/bad"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := withSession(t, func(s *Session) error {
				return s.WriteMetadata("", map[string]any{"bad": tc.value})
			})
			var tu *TypeUnsupportedError
			require.ErrorAs(t, err, &tu)
			assert.Equal(t, tc.key, tu.Key)
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{nil, KindEmpty},
		{arraystore.Empty{}, KindEmpty},
		{3, KindNumber},
		{uint8(3), KindNumber},
		{2.5, KindNumber},
		{"s", KindText},
		{true, KindBool},
		{[]float64{1, 2}, KindArray},
		{[3]int{1, 2, 3}, KindArray},
		{[]bool{true, false}, KindArray},
		{[]float64{1}, KindSequence},
		{[]int{}, KindSequence},
		{[1]bool{true}, KindSequence},
		{mat.NewDense(1, 1, nil), KindArray},
		{mat.NewVecDense(2, nil), KindArray},
		{[]any{1, "a"}, KindSequence},
		{[]string{"a"}, KindSequence},
		{map[string]any{}, KindMapping},
		{map[int]string{1: "a"}, KindMapping},
		{map[float64]struct{}{1: {}}, KindSequence},
		{(*int)(nil), KindEmpty},
		{time.Second, KindText},
	}
	for _, tc := range cases {
		v, err := Classify(tc.in)
		require.NoError(t, err, "%#v", tc.in)
		assert.Equal(t, tc.kind, v.Kind(), "%#v", tc.in)
	}
	n := 4
	v, err := Classify(&n)
	require.NoError(t, err)
	assert.Equal(t, KindNumber, v.Kind())

	_, err = Classify(func() {})
	var tu *TypeUnsupportedError
	require.ErrorAs(t, err, &tu)
	assert.Equal(t, "mapping", KindMapping.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestHomogeneous(t *testing.T) {
	classified := func(xs ...any) []Value {
		out := make([]Value, len(xs))
		for i, x := range xs {
			v, err := Classify(x)
			require.NoError(t, err)
			out[i] = v
		}
		return out
	}
	assert.True(t, homogeneous(classified(1, 2.5, uint8(3))))
	assert.True(t, homogeneous(classified("a", "b")))
	assert.True(t, homogeneous(classified(true, false)))
	assert.False(t, homogeneous(classified(1, "a")))
	assert.False(t, homogeneous(classified(true, 1)))
	assert.False(t, homogeneous(classified([]int{1, 2}, []float64{1, 2})))
	assert.True(t, homogeneous(classified([]int{1, 2}, []int{3, 4})))
	assert.False(t, homogeneous(classified([]int{1}, []int{2, 3})))
}
