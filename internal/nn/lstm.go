package nn

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// lstmCore holds the fused gate parameters and the recurrent state shared by
// LSTMCell and LSTMAttentionDecoderCell.
//
// The fused projection z = [x, h]·Wxh + b has 4·hiddenDim columns laid out as
// input, forget, output and candidate gate blocks.
type lstmCore struct {
	name      string
	stepDim   int // width of the step input, excluding the hidden state
	hiddenDim int
	device    tensor.DeviceID

	wxh, b       *weight.Tensor
	hidden, cell *weight.Tensor
}

func newLSTMCore(name string, stepDim, hiddenDim int, device tensor.DeviceID, rng *rand.Rand) lstmCore {
	c := lstmCore{
		name:      name,
		stepDim:   stepDim,
		hiddenDim: hiddenDim,
		device:    device,
		wxh:       weight.New(name+".Wxh", tensor.Shape{stepDim + hiddenDim, 4 * hiddenDim}, device, xavier(rng)),
		b:         weight.New(name+".b", tensor.Shape{1, 4 * hiddenDim}, device, weight.WithZeros()),
	}
	// Forget gate bias starts at 1 so that early training keeps the cell state.
	bias := c.b.Float32s()
	for j := hiddenDim; j < 2*hiddenDim; j++ {
		bias[j] = 1
	}
	return c
}

// step runs the gate transition on the already concatenated [x..., h] input.
func (c *lstmCore) step(g *graph.Graph, xh *weight.Tensor) *weight.Tensor {
	h := c.hiddenDim
	z := g.Affine(xh, c.wxh, c.b)
	inGate := g.Sigmoid(g.PeekColumns(z, 0, h))
	forgetGate := g.Sigmoid(g.PeekColumns(z, h, h))
	outGate := g.Sigmoid(g.PeekColumns(z, 2*h, h))
	candidate := g.Tanh(g.PeekColumns(z, 3*h, h))

	c.cell = g.Add(g.Mul(forgetGate, c.cell), g.Mul(inGate, candidate))
	c.hidden = g.Mul(outGate, g.Tanh(c.cell))
	return c.hidden
}

func (c *lstmCore) mustHaveState(input *weight.Tensor) {
	if c.hidden == nil || c.cell == nil {
		exceptions.Panicf("%s: Step called before Reset", c.name)
	}
	if input.Rows() != c.hidden.Rows() {
		exceptions.Panicf("%s: input has %d rows, state was reset for batch %d", c.name, input.Rows(), c.hidden.Rows())
	}
}

func (c *lstmCore) reset(f *weight.Factory, batchSize int) {
	shape := tensor.Shape{batchSize, c.hiddenDim}
	c.hidden = f.Zeros(c.name+".h", shape, c.device)
	c.cell = f.Zeros(c.name+".c", shape, c.device)
}

func (c *lstmCore) params() []*weight.Tensor {
	return []*weight.Tensor{c.wxh, c.b}
}

// LSTMCell is one recurrent LSTM cell:
//
//	i, f, o = σ(z_i), σ(z_f), σ(z_o);  c̃ = tanh(z_c)   where z = [x, h]·Wxh + b
//	cell'   = f⊙cell + i⊙c̃
//	hidden' = o⊙tanh(cell')
type LSTMCell struct {
	lstmCore
	inputDim int
}

// NewLSTMCell creates a cell taking inputs of width inputDim.
func NewLSTMCell(name string, inputDim, hiddenDim int, device tensor.DeviceID, rng *rand.Rand) *LSTMCell {
	return &LSTMCell{
		lstmCore: newLSTMCore(name, inputDim, hiddenDim, device, rng),
		inputDim: inputDim,
	}
}

// Step consumes input [batch, inputDim], advances the state and returns the
// new hidden state [batch, hiddenDim].
func (c *LSTMCell) Step(input *weight.Tensor, g *graph.Graph) *weight.Tensor {
	c.mustHaveState(input)
	sub := g.CreateSubGraph(c.name)
	return c.step(sub, sub.ConcatColumns(input, c.hidden))
}

// Hidden returns the current hidden state.
func (c *LSTMCell) Hidden() *weight.Tensor { return c.hidden }

// Cell returns the current cell state.
func (c *LSTMCell) Cell() *weight.Tensor { return c.cell }

// SetHidden replaces the hidden state.
func (c *LSTMCell) SetHidden(h *weight.Tensor) { c.hidden = h }

// SetCell replaces the cell state.
func (c *LSTMCell) SetCell(s *weight.Tensor) { c.cell = s }

// HiddenDim returns the state width.
func (c *LSTMCell) HiddenDim() int { return c.hiddenDim }

// Kind implements NeuralUnit.
func (c *LSTMCell) Kind() Kind { return KindLSTM }

// Name implements NeuralUnit.
func (c *LSTMCell) Name() string { return c.name }

// GetDeviceId implements NeuralUnit.
func (c *LSTMCell) GetDeviceId() tensor.DeviceID { return c.device }

// CloneToDeviceAt implements NeuralUnit. Recurrent state is not copied.
func (c *LSTMCell) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewLSTMCell(c.name, c.inputDim, c.hiddenDim, id, nil), c)
}

// Reset implements NeuralUnit.
func (c *LSTMCell) Reset(f *weight.Factory, batchSize int) { c.reset(f, batchSize) }

// GetParams implements NeuralUnit: Wxh, then b.
func (c *LSTMCell) GetParams() []*weight.Tensor { return c.params() }

// Save implements NeuralUnit.
func (c *LSTMCell) Save(w io.Writer) error { return saveParams(w, c.params()) }

// Load implements NeuralUnit.
func (c *LSTMCell) Load(r io.Reader) error { return loadParams(r, c.params()) }
