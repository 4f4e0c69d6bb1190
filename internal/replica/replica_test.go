package replica

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

var testRegistry = device.NewCPU(0, 1, 2)

func newLayer() *nn.FeedForwardLayer {
	return nn.NewFeedForwardLayer("proj", 3, 4, 0, rand.New(rand.NewPCG(1, 2)))
}

// lossStep classifies a fixed batch on the replica's device.
func lossStep(_ int, unit nn.NeuralUnit, g *graph.Graph) error {
	x := weight.New("x", tensor.Shape{2, 3}, unit.GetDeviceId(), weight.Frozen(),
		weight.FromSlice([]float32{0.5, -1, 2, 1, 0, -0.5}))
	logits := unit.(*nn.FeedForwardLayer).Process(x, g)
	_, loss := g.SoftmaxCrossEntropy(logits, []int{1, 3})
	return g.Backward(loss)
}

func TestNew(t *testing.T) {
	primary := newLayer()
	reps := must.M1(New(primary, testRegistry, 0, 1, 2))
	assert.Equal(t, 3, reps.Len())
	assert.Same(t, primary, reps.Primary())
	assert.Equal(t, []tensor.DeviceID{0, 1, 2}, reps.Devices())
	for i := 1; i < reps.Len(); i++ {
		params := reps.Unit(i).GetParams()
		for j, p := range primary.GetParams() {
			assert.Equal(t, p.Float32s(), params[j].Float32s())
			assert.Equal(t, tensor.DeviceID(i), params[j].Device())
		}
	}

	single := must.M1(New(primary, testRegistry))
	assert.Equal(t, 1, single.Len())
}

func TestNew_Errors(t *testing.T) {
	primary := newLayer()
	_, err := New(primary, testRegistry, 1, 0)
	assert.Error(t, err, "first device must be the primary's")
	_, err = New(primary, testRegistry, 0, 1, 1)
	assert.Error(t, err, "duplicate device")
	_, err = New(primary, testRegistry, 0, 9)
	assert.True(t, errors.Is(err, device.ErrUnknownDevice), "got %v", err)
}

func TestStepAggregateGrads(t *testing.T) {
	// Reference gradient of one replica computed alone.
	ref := newLayer()
	g := must.M1(graph.New(0, testRegistry, true))
	require.NoError(t, lossStep(0, ref, g))
	g.Dispose()

	reps := must.M1(New(newLayer(), testRegistry, 0, 1, 2))
	require.NoError(t, reps.Step(context.Background(), lossStep))
	require.NoError(t, reps.AggregateGrads())

	refParams := ref.GetParams()
	for j, p := range reps.Primary().GetParams() {
		want := refParams[j].Grad().AsFloat32()
		got := p.Grad().AsFloat32()
		for k := range want {
			assert.InDelta(t, 3*want[k], got[k], 1e-5, "%s[%d]", p.Name(), k)
		}
	}
	for i := 1; i < reps.Len(); i++ {
		for _, p := range reps.Unit(i).GetParams() {
			assert.Equal(t, make([]float32, p.Shape().NumElements()), p.Grad().AsFloat32(),
				"replica %d gradients are cleared", i)
		}
	}

	reps.ZeroGrads()
	for _, p := range reps.Primary().GetParams() {
		assert.Equal(t, make([]float32, p.Shape().NumElements()), p.Grad().AsFloat32())
	}
}

func TestStep_Errors(t *testing.T) {
	reps := must.M1(New(newLayer(), testRegistry, 0, 1))

	err := reps.Step(context.Background(), func(i int, _ nn.NeuralUnit, _ *graph.Graph) error {
		if i == 1 {
			return errors.New("shard failed")
		}
		return nil
	})
	assert.ErrorContains(t, err, "shard failed")
	assert.ErrorContains(t, err, "replica 1")

	err = reps.Step(context.Background(), func(_ int, unit nn.NeuralUnit, g *graph.Graph) error {
		x := weight.New("x", tensor.Shape{2, 5}, unit.GetDeviceId(), weight.Frozen())
		unit.(*nn.FeedForwardLayer).Process(x, g)
		return nil
	})
	var shapeErr *graph.ShapeError
	assert.True(t, errors.As(err, &shapeErr), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err = reps.Step(ctx, func(int, nn.NeuralUnit, *graph.Graph) error {
		calls.Add(1)
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Zero(t, calls.Load())
}

func TestSyncWeights(t *testing.T) {
	reps := must.M1(New(newLayer(), testRegistry, 0, 2))
	w := reps.Primary().GetParams()[0]
	w.Float32s()[0] = 42
	require.NoError(t, reps.SyncWeights())
	assert.Equal(t, float32(42), reps.Unit(1).GetParams()[0].Float32s()[0])
	assert.Equal(t, w.Float32s(), reps.Unit(1).GetParams()[0].Float32s())
}
