package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Shape{3, 4}
	assert.Equal(t, 12, s.NumElements())
	assert.Equal(t, 3, s.Rows())
	assert.Equal(t, 4, s.Cols())
	assert.Equal(t, "[3, 4]", s.String())
	assert.True(t, s.Equal(Shape{3, 4}))
	assert.False(t, s.Equal(Shape{4, 3}))
	assert.False(t, s.Equal(Shape{3, 4, 1}))

	c := s.Clone()
	c[0] = 7
	assert.Equal(t, 3, s[0])

	assert.NoError(t, s.Validate())
	assert.Error(t, Shape{2, 0}.Validate())
	assert.Equal(t, 1, Shape{}.NumElements())
}

func TestDataType(t *testing.T) {
	for _, dt := range []DataType{Float32, Float64} {
		parsed, ok := ParseDataType(dt.String())
		require.True(t, ok)
		assert.Equal(t, dt, parsed)
	}
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	_, ok := ParseDataType("int8")
	assert.False(t, ok)
}

func TestRawTensor(t *testing.T) {
	r, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(1), r.Device())
	assert.Equal(t, "device:1", r.Device().String())
	assert.Equal(t, 24, r.ByteSize())
	assert.Equal(t, 6, r.NumElements())

	clone := r.Clone()
	clone.AsFloat32()[0] = 10
	assert.Equal(t, float32(1), r.AsFloat32()[0])

	other := MustNewRaw(Shape{2, 3}, Float32, 0)
	require.NoError(t, other.CopyFrom(r))
	assert.Equal(t, r.AsFloat32(), other.AsFloat32())
	assert.Error(t, other.CopyFrom(MustNewRaw(Shape{3, 2}, Float32, 0)))
	assert.Error(t, other.CopyFrom(MustNewRaw(Shape{2, 3}, Float64, 0)))

	other.Zero()
	assert.Equal(t, make([]float32, 6), other.AsFloat32())
	assert.Panics(t, func() { other.AsFloat64() })

	_, err = FromFloat32([]float32{1}, Shape{2, 3}, 0)
	assert.Error(t, err)
	_, err = NewRaw(Shape{0, 3}, Float32, 0)
	assert.Error(t, err)

	other.Release()
	assert.True(t, other.Released())
	assert.Panics(t, func() { other.AsFloat32() })
}

func TestArenaScope(t *testing.T) {
	arena := NewArena()
	scope := arena.NewScope()
	a, err := scope.NewRaw(Shape{2, 2}, Float32, 0)
	require.NoError(t, err)
	a.AsFloat32()[0] = 5
	b, err := scope.NewRaw(Shape{1, 3}, Float64, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, scope.Len())

	assert.Equal(t, 16+24, scope.ReleaseAll())
	assert.Zero(t, scope.Len())
	assert.True(t, a.Released())
	assert.True(t, b.Released())

	// Recycled buffers come back zeroed.
	c, err := arena.NewRaw(Shape{4, 1}, Float32, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), c.AsFloat32())

	_, err = scope.NewRaw(Shape{-1, 2}, Float32, 0)
	assert.Error(t, err)
}
