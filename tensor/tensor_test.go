package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/tensor"
)

func TestFacade(t *testing.T) {
	registry := tensor.NewCPURegistry(0, 1)
	assert.Equal(t, []tensor.DeviceID{0, 1}, registry.Devices())

	raw, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, raw.Shape())
	assert.Equal(t, tensor.DeviceID(1), raw.Device())
	assert.Equal(t, tensor.Float32, raw.DType())

	dst, err := registry.Upload(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, raw.AsFloat32(), dst.AsFloat32())

	_, err = tensor.FromFloat32([]float32{1}, tensor.Shape{2, 3}, 0)
	assert.Error(t, err)
}
