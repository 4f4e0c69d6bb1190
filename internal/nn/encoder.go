package nn

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// BiEncoder is a stacked bidirectional LSTM encoder.
//
// Each layer runs a forward chain left to right and a backward chain right
// to left over the sequence, and concatenates both hidden outputs per time
// step. Layers after the first take inputs of width 2·hiddenDim.
type BiEncoder struct {
	name                       string
	inputDim, hiddenDim, depth int
	device                     tensor.DeviceID

	forward, backward []*LSTMCell
}

// NewBiEncoder creates an encoder of depth layers.
func NewBiEncoder(name string, inputDim, hiddenDim, depth int, device tensor.DeviceID, rng *rand.Rand) *BiEncoder {
	if depth < 1 {
		exceptions.Panicf("%s: depth must be at least 1, got %d", name, depth)
	}
	klog.V(1).Infof("creating BiLSTM encoder %q on %s: inputDim=%d hiddenDim=%d depth=%d",
		name, device, inputDim, hiddenDim, depth)
	e := &BiEncoder{
		name:      name,
		inputDim:  inputDim,
		hiddenDim: hiddenDim,
		depth:     depth,
		device:    device,
	}
	in := inputDim
	for i := range depth {
		e.forward = append(e.forward, NewLSTMCell(fmt.Sprintf("%s.forward%d", name, i), in, hiddenDim, device, rng))
		e.backward = append(e.backward, NewLSTMCell(fmt.Sprintf("%s.backward%d", name, i), in, hiddenDim, device, rng))
		in = 2 * hiddenDim
	}
	return e
}

// Encode runs the encoder over rawInputs, a time-major [seqLen·batch,
// inputDim] tensor, and returns [seqLen·batch, 2·hiddenDim] in the same row
// order. Reset must have been called for batchSize.
func (e *BiEncoder) Encode(rawInputs *weight.Tensor, batchSize int, g *graph.Graph) *weight.Tensor {
	if batchSize <= 0 || rawInputs.Rows()%batchSize != 0 {
		exceptions.Panicf("%s: %d input rows are not a multiple of batch size %d", e.name, rawInputs.Rows(), batchSize)
	}
	seqLen := rawInputs.Rows() / batchSize

	layerOutputs := make([]*weight.Tensor, seqLen)
	for t := range seqLen {
		layerOutputs[t] = g.PeekRow(rawInputs, t*batchSize, batchSize)
	}

	for i := range e.depth {
		forwardOutputs := make([]*weight.Tensor, 0, seqLen)
		backwardOutputs := make([]*weight.Tensor, 0, seqLen)
		for t := range seqLen {
			forwardOutputs = append(forwardOutputs, e.forward[i].Step(layerOutputs[t], g))
			backwardOutputs = append(backwardOutputs, e.backward[i].Step(layerOutputs[seqLen-t-1], g))
		}
		slices.Reverse(backwardOutputs)

		for t := range seqLen {
			layerOutputs[t] = g.ConcatColumns(forwardOutputs[t], backwardOutputs[t])
		}
	}
	return g.ConcatRows(layerOutputs...)
}

// OutputDim returns the width of the encoded sequence, 2·hiddenDim.
func (e *BiEncoder) OutputDim() int { return 2 * e.hiddenDim }

// Kind implements NeuralUnit.
func (e *BiEncoder) Kind() Kind { return KindBiEncoder }

// Name implements NeuralUnit.
func (e *BiEncoder) Name() string { return e.name }

// GetDeviceId implements NeuralUnit.
func (e *BiEncoder) GetDeviceId() tensor.DeviceID { return e.device }

// CloneToDeviceAt implements NeuralUnit.
func (e *BiEncoder) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewBiEncoder(e.name, e.inputDim, e.hiddenDim, e.depth, id, nil), e)
}

// Reset implements NeuralUnit.
func (e *BiEncoder) Reset(f *weight.Factory, batchSize int) {
	for _, c := range e.forward {
		c.Reset(f, batchSize)
	}
	for _, c := range e.backward {
		c.Reset(f, batchSize)
	}
}

// GetParams implements NeuralUnit: forward cells by depth, then backward
// cells by depth.
func (e *BiEncoder) GetParams() []*weight.Tensor {
	var params []*weight.Tensor
	for _, c := range e.forward {
		params = append(params, c.GetParams()...)
	}
	for _, c := range e.backward {
		params = append(params, c.GetParams()...)
	}
	return params
}

// Save implements NeuralUnit.
func (e *BiEncoder) Save(w io.Writer) error { return saveParams(w, e.GetParams()) }

// Load implements NeuralUnit.
func (e *BiEncoder) Load(r io.Reader) error { return loadParams(r, e.GetParams()) }
