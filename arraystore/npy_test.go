package arraystore

import (
	"bytes"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReadNpy(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, npyio.Write(&b, []int16{3, -1, 7}))
	data, shape, err := ReadNpy(&b)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, -1, 7}, data)
	assert.Equal(t, []int{3}, shape)

	b.Reset()
	require.NoError(t, npyio.Write(&b, mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	data, shape, err = ReadNpy(&b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, data)
	assert.Equal(t, []int{2, 2}, shape)

	_, _, err = ReadNpy(bytes.NewReader([]byte("not an npy file")))
	assert.Error(t, err)
}

func TestChunkCodec(t *testing.T) {
	for _, dt := range []DType{Float64, Float32, Int64, Int32, Int16, Int8, Uint64, Uint32, Uint16, Uint8, Bool} {
		payload, err := encodeChunk(dt, []float64{0, 1, 1, 0})
		require.NoError(t, err, dt)
		out, err := decodeChunk(dt, payload, 4)
		require.NoError(t, err, dt)
		assert.Equal(t, []float64{0, 1, 1, 0}, out, dt)
	}
	_, err := encodeChunk("<c16", []float64{1})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
