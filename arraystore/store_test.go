package arraystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "run", "data.sqlite"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestCreateRefusesExistingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "file.sqlite")
	s, err := Create(path)
	require.NoError(t, err, "Create should make missing parent directories")
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second Close should be a no-op")

	_, err = Create(path)
	assert.ErrorIs(t, err, ErrExists)

	_, err = Open(filepath.Join(dir, "missing.sqlite"), ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)

	junk := filepath.Join(dir, "junk.sqlite")
	require.NoError(t, os.WriteFile(junk, []byte("not a container at all, just some text"), 0o644))
	_, err = Open(junk, ReadOnly)
	assert.Error(t, err)
}

func TestWriteSlabAcrossChunks(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("z", ArraySpec{Shape: []int{5, 3}, MaxShape: []int{5, 3}, Chunks: []int{2, 2}}))

	require.NoError(t, s.WriteSlab("z", Whole([]int{5, 3}), seq(15)))
	data, shape, err := s.Read("z")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3}, shape)
	assert.Equal(t, seq(15), data)

	// Overwrite the middle 3x2 block.
	block := []float64{-1, -2, -3, -4, -5, -6}
	require.NoError(t, s.WriteSlab("z", Slab{Start: []int{1, 1}, Count: []int{3, 2}}, block))
	data, _, err = s.Read("z")
	require.NoError(t, err)
	want := []float64{
		0, 1, 2,
		3, -1, -2,
		6, -3, -4,
		9, -5, -6,
		12, 13, 14,
	}
	assert.Equal(t, want, data)

	m, err := s.ReadMatrix("z")
	require.NoError(t, err)
	assert.Equal(t, -6.0, m.At(3, 2))
}

func TestWriteSlabRejectsBadSelections(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("x", ArraySpec{Shape: []int{4}}))

	err := s.WriteSlab("x", Slab{Start: []int{2}, Count: []int{3}}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrOutOfBounds)
	err = s.WriteSlab("x", Slab{Start: []int{0, 0}, Count: []int{1, 1}}, 1.0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	err = s.WriteSlab("x", Slab{Start: []int{0}, Count: []int{2}}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	err = s.WriteSlab("x", Whole([]int{4}), "four")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	err = s.WriteSlab("nope", Whole([]int{4}), seq(4))
	assert.ErrorIs(t, err, ErrNotFound)

	// Nothing above may have changed the array.
	data, _, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 4), data)
}

func TestWriteMatrixAndScalars(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("m", ArraySpec{Shape: []int{2, 3}, DType: Int32}))
	require.NoError(t, s.WriteSlab("m", Whole([]int{2, 3}), mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})))
	require.NoError(t, s.WriteSlab("m", Slab{Start: []int{1, 2}, Count: []int{1, 1}}, int16(60)))
	data, _, err := s.Read("m")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 60}, data)
}

func TestDTypes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("i", ArraySpec{Shape: []int{3}, DType: "int16"}))
	require.NoError(t, s.CreateArray("b", ArraySpec{Shape: []int{3}, DType: Bool}))
	require.NoError(t, s.CreateArray("u", ArraySpec{Shape: []int{3}, DType: "|u1"}))
	require.NoError(t, s.WriteSlab("i", Whole([]int{3}), []float64{1.9, -2.2, 300}))
	require.NoError(t, s.WriteSlab("b", Whole([]int{3}), []bool{true, false, true}))
	require.NoError(t, s.WriteSlab("u", Whole([]int{3}), []uint8{7, 8, 255}))

	info, err := s.Info("i")
	require.NoError(t, err)
	assert.Equal(t, Int16, info.DType)
	assert.False(t, info.Resizable())

	for name, want := range map[string][]float64{
		"i": {1, -2, 300},
		"b": {1, 0, 1},
		"u": {7, 8, 255},
	} {
		data, _, err := s.Read(name)
		require.NoError(t, err)
		assert.Equal(t, want, data, name)
	}

	err = s.CreateArray("bad", ArraySpec{Shape: []int{3}, DType: "complex128"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{
		"": Float64, "<f8": Float64, "float32": Float32, "f4": Float32,
		"=i8": Int64, "int8": Int8, "|u1": Uint8, "UINT16": Uint16, "bool": Bool,
	} {
		got, err := ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDType(">f8")
	assert.Error(t, err)
}

func TestCreateArrayValidation(t *testing.T) {
	s := newTestStore(t)
	cases := map[string]ArraySpec{
		"":    {Shape: []int{1}},
		"a/b": {Shape: []int{1}},
		"r0":  {Shape: []int{}},
		"neg": {Shape: []int{-1}},
		"max": {Shape: []int{4}, MaxShape: []int{3}},
		"mxr": {Shape: []int{4}, MaxShape: []int{4, 4}},
		"chr": {Shape: []int{4}, Chunks: []int{2, 2}},
		"ch0": {Shape: []int{4}, Chunks: []int{0}},
	}
	for name, spec := range cases {
		assert.ErrorIs(t, s.CreateArray(name, spec), ErrInvalidSpec, "array %q", name)
	}
	require.NoError(t, s.CreateArray("ok", ArraySpec{Shape: []int{4}}))
	assert.ErrorIs(t, s.CreateArray("ok", ArraySpec{Shape: []int{4}}), ErrExists)
	names, err := s.Arrays()
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, names)
}

func TestAutoChunks(t *testing.T) {
	assert.Equal(t, []int{10, 4}, autoChunks([]int{10, 4}, 0))
	assert.Equal(t, []int{1, 1}, autoChunks([]int{0, 0}, 0))
	assert.Equal(t, []int{16, 1024}, autoChunks([]int{1000, 1024}, 16*1024))
	assert.Equal(t, []int{1, 100}, autoChunks([]int{50, 1000}, 100))
	assert.Equal(t, []int{5}, autoChunks([]int{5}, 65536))

	s := newTestStore(t, WithChunkBudget(8))
	require.NoError(t, s.CreateArray("a", ArraySpec{Shape: []int{10, 4}, MaxShape: []int{10, 4}}))
	info, err := s.Info("a")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, info.Chunks)
}

func TestResizeArray(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("d", ArraySpec{Shape: []int{10, 4}, MaxShape: []int{10, 4}, Chunks: []int{4, 3}}))
	require.NoError(t, s.WriteSlab("d", Whole([]int{10, 4}), seq(40)))

	require.NoError(t, s.ResizeArray("d", []int{3, 4}))
	data, shape, err := s.Read("d")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, shape)
	assert.Equal(t, seq(12), data)

	// Growing again exposes zeros rather than the trimmed values.
	require.NoError(t, s.ResizeArray("d", []int{5, 4}))
	data, _, err = s.Read("d")
	require.NoError(t, err)
	assert.Equal(t, append(seq(12), make([]float64, 8)...), data)

	assert.ErrorIs(t, s.ResizeArray("d", []int{11, 4}), ErrOutOfBounds)
	assert.ErrorIs(t, s.ResizeArray("d", []int{3}), ErrShapeMismatch)

	require.NoError(t, s.CreateArray("fixed", ArraySpec{Shape: []int{3}}))
	assert.ErrorIs(t, s.ResizeArray("fixed", []int{2}), ErrNotResizable)
	assert.ErrorIs(t, s.ResizeArray("missing", []int{2}), ErrNotFound)
}

func TestDimensionScales(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateArray("x", ArraySpec{Shape: []int{5}}))
	require.NoError(t, s.CreateArray("z", ArraySpec{Shape: []int{3, 5}}))
	require.NoError(t, s.LabelAxis("z", 0, "n"))
	require.NoError(t, s.LabelAxis("z", 1, "x"))
	require.NoError(t, s.BindScale("z", 1, "x"))

	label, err := s.AxisLabel("z", 1)
	require.NoError(t, err)
	assert.Equal(t, "x", label)
	scale, err := s.AxisScale("z", 1)
	require.NoError(t, err)
	assert.Equal(t, "x", scale)
	scale, err = s.AxisScale("z", 0)
	require.NoError(t, err)
	assert.Equal(t, "", scale)

	class, err := s.Attribute("x", ScaleClassKey)
	require.NoError(t, err)
	assert.Equal(t, ScaleClassValue, class)

	assert.ErrorIs(t, s.LabelAxis("z", 2, "oops"), ErrOutOfBounds)
	assert.ErrorIs(t, s.BindScale("z", 0, "nope"), ErrNotFound)
	assert.ErrorIs(t, s.BindScale("z", 0, "z"), ErrInvalidSpec)

	require.NoError(t, s.DeleteArray("x"))
	scale, err = s.AxisScale("z", 1)
	require.NoError(t, err)
	assert.Equal(t, "", scale, "deleting a scale unbinds it")
	label, err = s.AxisLabel("z", 1)
	require.NoError(t, err)
	assert.Equal(t, "x", label, "deleting a scale keeps the label")
	_, err = s.Attribute("x", ScaleClassKey)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteArray("x"), ErrNotFound)
}

func TestLiveReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.sqlite")
	w, err := Create(path)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.CreateArray("x", ArraySpec{Shape: []int{4}, MaxShape: []int{4}}))
	require.NoError(t, w.WriteSlab("x", Slab{Start: []int{0}, Count: []int{2}}, []float64{5, 6}))
	require.NoError(t, w.Flush())

	r, err := Open(path, ReadOnly)
	require.NoError(t, err)
	defer r.Close()
	data, _, err := r.Read("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 0, 0}, data)
	assert.ErrorIs(t, r.WriteSlab("x", Whole([]int{4}), seq(4)), ErrReadOnly)
	assert.ErrorIs(t, r.CreateGroup("g"), ErrReadOnly)

	require.NoError(t, w.WriteSlab("x", Slab{Start: []int{2}, Count: []int{2}}, []float64{7, 8}))
	data, _, err = r.Read("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8}, data)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.CreateArray("x", ArraySpec{Shape: []int{1}}), ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
	_, err := s.Arrays()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWalk(t *testing.T) {
	var seen [][]int
	require.NoError(t, walk([]int{1, 0}, []int{3, 2}, func(idx []int) error {
		seen = append(seen, append([]int{}, idx...))
		return nil
	}))
	assert.Equal(t, [][]int{{1, 0}, {1, 1}, {2, 0}, {2, 1}}, seen)
	assert.Equal(t, []int{12, 4, 1}, strides([]int{2, 3, 4}))
	assert.Equal(t, 7, offset([]int{2, 3}, []int{1, 0}, []int{4, 1}))

	calls := 0
	require.NoError(t, walk([]int{0, 2}, []int{3, 2}, func([]int) error { calls++; return nil }))
	assert.Zero(t, calls)
}
