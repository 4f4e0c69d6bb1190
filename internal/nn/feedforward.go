package nn

import (
	"io"
	"math/rand/v2"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// FeedForwardLayer is a single affine projection y = x·W + b.
//
// W has shape [inputDim, outputDim] (Xavier initialized) and b [1, outputDim]
// (zeros).
//
// Example:
//
//	proj := nn.NewFeedForwardLayer("proj", hiddenDim, vocabSize, 0, rng)
//	logits := proj.Process(h, g) // [batch, vocabSize]
type FeedForwardLayer struct {
	name                string
	inputDim, outputDim int
	device              tensor.DeviceID
	w, b                *weight.Tensor
}

// NewFeedForwardLayer creates the layer on device.
func NewFeedForwardLayer(name string, inputDim, outputDim int, device tensor.DeviceID, rng *rand.Rand) *FeedForwardLayer {
	return &FeedForwardLayer{
		name:      name,
		inputDim:  inputDim,
		outputDim: outputDim,
		device:    device,
		w:         weight.New(name+".W", tensor.Shape{inputDim, outputDim}, device, xavier(rng)),
		b:         weight.New(name+".b", tensor.Shape{1, outputDim}, device, weight.WithZeros()),
	}
}

// Process projects input [rows, inputDim] to [rows, outputDim].
func (l *FeedForwardLayer) Process(input *weight.Tensor, g *graph.Graph) *weight.Tensor {
	return g.CreateSubGraph(l.name).Affine(input, l.w, l.b)
}

// InputDim returns the input width.
func (l *FeedForwardLayer) InputDim() int { return l.inputDim }

// OutputDim returns the output width.
func (l *FeedForwardLayer) OutputDim() int { return l.outputDim }

// Kind implements NeuralUnit.
func (l *FeedForwardLayer) Kind() Kind { return KindFeedForward }

// Name implements NeuralUnit.
func (l *FeedForwardLayer) Name() string { return l.name }

// GetDeviceId implements NeuralUnit.
func (l *FeedForwardLayer) GetDeviceId() tensor.DeviceID { return l.device }

// CloneToDeviceAt implements NeuralUnit.
func (l *FeedForwardLayer) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewFeedForwardLayer(l.name, l.inputDim, l.outputDim, id, nil), l)
}

// Reset implements NeuralUnit; the layer is stateless.
func (l *FeedForwardLayer) Reset(*weight.Factory, int) {}

// GetParams implements NeuralUnit: W, then b.
func (l *FeedForwardLayer) GetParams() []*weight.Tensor {
	return []*weight.Tensor{l.w, l.b}
}

// Save implements NeuralUnit.
func (l *FeedForwardLayer) Save(w io.Writer) error { return saveParams(w, l.GetParams()) }

// Load implements NeuralUnit.
func (l *FeedForwardLayer) Load(r io.Reader) error { return loadParams(r, l.GetParams()) }
