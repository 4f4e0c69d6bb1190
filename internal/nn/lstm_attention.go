package nn

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// LSTMAttentionDecoderCell is an LSTM cell whose step input is the attention
// context concatenated with the token input: z = [context, x, h]·Wxh + b.
type LSTMAttentionDecoderCell struct {
	lstmCore
	contextDim, inputDim int
}

// NewLSTMAttentionDecoderCell creates a decoder cell.
func NewLSTMAttentionDecoderCell(name string, contextDim, inputDim, hiddenDim int, device tensor.DeviceID, rng *rand.Rand) *LSTMAttentionDecoderCell {
	return &LSTMAttentionDecoderCell{
		lstmCore:   newLSTMCore(name, contextDim+inputDim, hiddenDim, device, rng),
		contextDim: contextDim,
		inputDim:   inputDim,
	}
}

// Step consumes the context [batch, contextDim] and input [batch, inputDim]
// and returns the new hidden state.
func (c *LSTMAttentionDecoderCell) Step(context, input *weight.Tensor, g *graph.Graph) *weight.Tensor {
	c.mustHaveState(input)
	if context.Columns() != c.contextDim {
		exceptions.Panicf("%s: context has %d columns, expected %d", c.name, context.Columns(), c.contextDim)
	}
	sub := g.CreateSubGraph(c.name)
	return c.step(sub, sub.ConcatColumns(context, input, c.hidden))
}

// Hidden returns the current hidden state.
func (c *LSTMAttentionDecoderCell) Hidden() *weight.Tensor { return c.hidden }

// Cell returns the current cell state.
func (c *LSTMAttentionDecoderCell) Cell() *weight.Tensor { return c.cell }

// SetHidden replaces the hidden state.
func (c *LSTMAttentionDecoderCell) SetHidden(h *weight.Tensor) { c.hidden = h }

// SetCell replaces the cell state.
func (c *LSTMAttentionDecoderCell) SetCell(s *weight.Tensor) { c.cell = s }

// Kind implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) Kind() Kind { return KindLSTMAttention }

// Name implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) Name() string { return c.name }

// GetDeviceId implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) GetDeviceId() tensor.DeviceID { return c.device }

// CloneToDeviceAt implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewLSTMAttentionDecoderCell(c.name, c.contextDim, c.inputDim, c.hiddenDim, id, nil), c)
}

// Reset implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) Reset(f *weight.Factory, batchSize int) { c.reset(f, batchSize) }

// GetParams implements NeuralUnit: Wxh, then b.
func (c *LSTMAttentionDecoderCell) GetParams() []*weight.Tensor { return c.params() }

// Save implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) Save(w io.Writer) error { return saveParams(w, c.params()) }

// Load implements NeuralUnit.
func (c *LSTMAttentionDecoderCell) Load(r io.Reader) error { return loadParams(r, c.params()) }
