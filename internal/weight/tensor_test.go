package weight

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/tensor"
)

func TestNew_Defaults(t *testing.T) {
	w := New("w", tensor.Shape{2, 3}, 0)
	assert.Equal(t, "w", w.Name())
	assert.Equal(t, 2, w.Rows())
	assert.Equal(t, 3, w.Columns())
	assert.True(t, w.Trainable())
	assert.Equal(t, tensor.Float32, w.DType())
	assert.Nil(t, w.Grad(), "gradient is allocated lazily")
	assert.Equal(t, make([]float32, 6), w.Float32s())

	assert.Panics(t, func() { New("bad", tensor.Shape{6}, 0) })
	assert.Panics(t, func() { New("bad", tensor.Shape{0, 2}, 0) })
}

func TestInitializers(t *testing.T) {
	t.Run("Xavier", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		w := New("w", tensor.Shape{10, 20}, 0, WithXavier(rng))
		bound := math.Sqrt(6.0 / 30.0)
		nonZero := 0
		for _, v := range w.Float32s() {
			assert.LessOrEqual(t, math.Abs(float64(v)), bound+1e-6)
			if v != 0 {
				nonZero++
			}
		}
		assert.Greater(t, nonZero, 0)

		// Same seed, same values.
		again := New("w", tensor.Shape{10, 20}, 0, WithXavier(rand.New(rand.NewPCG(1, 2))))
		assert.Equal(t, w.Float32s(), again.Float32s())
	})

	t.Run("Constant", func(t *testing.T) {
		w := New("b", tensor.Shape{1, 3}, 0, WithConstant(0.5))
		assert.Equal(t, []float32{0.5, 0.5, 0.5}, w.Float32s())
	})

	t.Run("FromSlice", func(t *testing.T) {
		w := New("m", tensor.Shape{2, 2}, 0, FromSlice([]float32{1, 2, 3, 4}), Frozen())
		assert.Equal(t, []float32{1, 2, 3, 4}, w.Float32s())
		assert.False(t, w.Trainable())
		assert.Panics(t, func() { New("m", tensor.Shape{2, 2}, 0, FromSlice([]float32{1})) })
	})

	t.Run("Float64", func(t *testing.T) {
		w := New("d", tensor.Shape{1, 2}, 0, WithDType(tensor.Float64), WithConstant(2))
		assert.Equal(t, []float64{2, 2}, w.Value().AsFloat64())
	})
}

func TestAccumulateGrad(t *testing.T) {
	be := cpu.New()
	w := New("w", tensor.Shape{1, 2}, 0)
	g, err := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{1, 2}, 0)
	require.NoError(t, err)

	require.NoError(t, w.AccumulateGrad(be, g))
	require.NoError(t, w.AccumulateGrad(be, g))
	assert.Equal(t, []float32{2, 4}, w.Grad().AsFloat32(), "gradients accumulate")

	w.ZeroGrad()
	assert.Equal(t, []float32{0, 0}, w.Grad().AsFloat32())

	wrong := tensor.MustNewRaw(tensor.Shape{2, 1}, tensor.Float32, 0)
	assert.True(t, errors.Is(w.AccumulateGrad(be, wrong), ErrShapeMismatch))

	frozen := New("f", tensor.Shape{1, 2}, 0, Frozen())
	assert.True(t, errors.Is(frozen.AccumulateGrad(be, g), ErrNotTrainable))
	assert.Nil(t, frozen.EnsureGrad())

	remote := New("r", tensor.Shape{1, 2}, 1)
	assert.Error(t, remote.AccumulateGrad(be, g))
}

func TestCopyValueFromAndClone(t *testing.T) {
	src := New("w", tensor.Shape{2, 2}, 0, FromSlice([]float32{1, 2, 3, 4}))
	dst := New("w", tensor.Shape{2, 2}, 1)
	require.NoError(t, dst.CopyValueFrom(src))
	assert.Equal(t, src.Float32s(), dst.Float32s())

	other := New("x", tensor.Shape{4, 1}, 0)
	assert.True(t, errors.Is(other.CopyValueFrom(src), ErrShapeMismatch))

	clone := src.CloneTo(3)
	assert.Equal(t, tensor.DeviceID(3), clone.Device())
	assert.Equal(t, src.Name(), clone.Name())
	clone.Float32s()[0] = 42
	assert.Equal(t, float32(1), src.Float32s()[0], "clone owns its buffer")
}

func TestSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	src := New("dec.attn.Ua", tensor.Shape{3, 5}, 0, WithXavier(rng))

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))
	assert.Equal(t, src.RecordSize(), buf.Len())

	t.Run("RoundTrip", func(t *testing.T) {
		dst := New("dec.attn.Ua", tensor.Shape{3, 5}, 0)
		require.NoError(t, dst.Load(bytes.NewReader(buf.Bytes())))
		assert.Equal(t, src.Value().Data(), dst.Value().Data(), "bit-identical")
	})

	t.Run("NameMismatch", func(t *testing.T) {
		dst := New("dec.attn.Wa", tensor.Shape{3, 5}, 0)
		assert.True(t, errors.Is(dst.Load(bytes.NewReader(buf.Bytes())), ErrNameMismatch))
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		dst := New("dec.attn.Ua", tensor.Shape{5, 3}, 0)
		assert.True(t, errors.Is(dst.Load(bytes.NewReader(buf.Bytes())), ErrShapeMismatch))
	})

	t.Run("DTypeMismatch", func(t *testing.T) {
		dst := New("dec.attn.Ua", tensor.Shape{3, 5}, 0, WithDType(tensor.Float64))
		assert.True(t, errors.Is(dst.Load(bytes.NewReader(buf.Bytes())), ErrDTypeMismatch))
	})

	t.Run("Truncated", func(t *testing.T) {
		dst := New("dec.attn.Ua", tensor.Shape{3, 5}, 0)
		assert.Error(t, dst.Load(bytes.NewReader(buf.Bytes()[:buf.Len()-1])))
	})
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	a := f.Zeros("h", tensor.Shape{2, 4}, 0)
	assert.False(t, a.Trainable())
	assert.Nil(t, a.EnsureGrad())
	assert.Equal(t, make([]float32, 8), a.Float32s())
	assert.Equal(t, 1, f.Len())

	// Dirty the buffer, release, and ask again: the recycled buffer must be zeroed.
	for i := range a.Float32s() {
		a.Float32s()[i] = 3
	}
	f.Release()
	assert.Equal(t, 0, f.Len())
	assert.True(t, a.Value().Released())

	b := f.Zeros("h", tensor.Shape{2, 4}, 0)
	assert.Equal(t, make([]float32, 8), b.Float32s())
}
