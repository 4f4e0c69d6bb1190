package nn

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// AttentionDecoder is a stack of LSTMAttentionDecoderCell layers sharing one
// AttentionUnit.
//
// Each Decode step queries attention once, with the top layer's previous
// hidden state, and feeds the resulting context to every layer. Layer 0 takes
// the embedded token; layer i>0 takes the hidden output of layer i-1.
type AttentionDecoder struct {
	name                                string
	embeddingDim, hiddenDim, contextDim int
	depth                               int
	device                              tensor.DeviceID

	attention *AttentionUnit
	cells     []*LSTMAttentionDecoderCell
}

// NewAttentionDecoder creates a decoder of depth layers attending over
// encoder outputs of width contextDim.
func NewAttentionDecoder(name string, embeddingDim, hiddenDim, contextDim, depth int, device tensor.DeviceID,
	rng *rand.Rand) *AttentionDecoder {
	if depth < 1 {
		exceptions.Panicf("%s: depth must be at least 1, got %d", name, depth)
	}
	klog.V(1).Infof("creating attention decoder %q on %s: embeddingDim=%d hiddenDim=%d contextDim=%d depth=%d",
		name, device, embeddingDim, hiddenDim, contextDim, depth)
	d := &AttentionDecoder{
		name:         name,
		embeddingDim: embeddingDim,
		hiddenDim:    hiddenDim,
		contextDim:   contextDim,
		depth:        depth,
		device:       device,
		attention:    NewAttentionUnit(name+".attention", hiddenDim, contextDim, device, rng),
	}
	in := embeddingDim
	for i := range depth {
		d.cells = append(d.cells, NewLSTMAttentionDecoderCell(fmt.Sprintf("%s.cell%d", name, i), contextDim, in, hiddenDim, device, rng))
		in = hiddenDim
	}
	return d
}

// PreProcess prepares the encoder output for every Decode step of the
// sequence.
func (d *AttentionDecoder) PreProcess(encOutput *weight.Tensor, batchSize int, g *graph.Graph) *AttentionPreProcessResult {
	return d.attention.PreProcess(encOutput, batchSize, g)
}

// Decode advances every layer by one step and returns the top layer's new
// hidden state [batch, hiddenDim].
func (d *AttentionDecoder) Decode(input *weight.Tensor, pre *AttentionPreProcessResult, batchSize int,
	g *graph.Graph) *weight.Tensor {
	top := d.cells[d.depth-1]
	if top.Hidden() == nil {
		exceptions.Panicf("%s: Decode called before Reset", d.name)
	}
	context := d.attention.Perform(top.Hidden(), pre, batchSize, g)
	x := input
	for _, c := range d.cells {
		x = c.Step(context, x, g)
	}
	return x
}

// HiddenDim returns the width of the decoder output.
func (d *AttentionDecoder) HiddenDim() int { return d.hiddenDim }

// Depth returns the number of stacked cells.
func (d *AttentionDecoder) Depth() int { return d.depth }

// Attention returns the shared attention unit.
func (d *AttentionDecoder) Attention() *AttentionUnit { return d.attention }

// GetHTs returns the hidden state of every layer in depth order.
func (d *AttentionDecoder) GetHTs() []*weight.Tensor {
	hts := make([]*weight.Tensor, d.depth)
	for i, c := range d.cells {
		hts[i] = c.Hidden()
	}
	return hts
}

// GetCTs returns the cell state of every layer in depth order.
func (d *AttentionDecoder) GetCTs() []*weight.Tensor {
	cts := make([]*weight.Tensor, d.depth)
	for i, c := range d.cells {
		cts[i] = c.Cell()
	}
	return cts
}

// SetHTs replaces the hidden states. hts must hold one [batch, hiddenDim]
// tensor per layer.
func (d *AttentionDecoder) SetHTs(hts []*weight.Tensor) error {
	if err := d.checkStates("hidden", hts); err != nil {
		return err
	}
	for i, c := range d.cells {
		c.SetHidden(hts[i])
	}
	return nil
}

// SetCTs replaces the cell states. cts must hold one [batch, hiddenDim]
// tensor per layer.
func (d *AttentionDecoder) SetCTs(cts []*weight.Tensor) error {
	if err := d.checkStates("cell", cts); err != nil {
		return err
	}
	for i, c := range d.cells {
		c.SetCell(cts[i])
	}
	return nil
}

func (d *AttentionDecoder) checkStates(kind string, states []*weight.Tensor) error {
	if len(states) != d.depth {
		return errors.Wrapf(ErrStateLength, "%s: got %d %s states for depth %d", d.name, len(states), kind, d.depth)
	}
	for i, s := range states {
		if s == nil || s.Columns() != d.hiddenDim {
			return errors.Wrapf(weight.ErrShapeMismatch, "%s: %s state %d must have %d columns", d.name, kind, i, d.hiddenDim)
		}
	}
	return nil
}

// Kind implements NeuralUnit.
func (d *AttentionDecoder) Kind() Kind { return KindAttentionDecoder }

// Name implements NeuralUnit.
func (d *AttentionDecoder) Name() string { return d.name }

// GetDeviceId implements NeuralUnit.
func (d *AttentionDecoder) GetDeviceId() tensor.DeviceID { return d.device }

// CloneToDeviceAt implements NeuralUnit.
func (d *AttentionDecoder) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewAttentionDecoder(d.name, d.embeddingDim, d.hiddenDim, d.contextDim, d.depth, id, nil), d)
}

// Reset implements NeuralUnit.
func (d *AttentionDecoder) Reset(f *weight.Factory, batchSize int) {
	for _, c := range d.cells {
		c.Reset(f, batchSize)
	}
}

// GetParams implements NeuralUnit: the attention unit, then the cells in
// depth order.
func (d *AttentionDecoder) GetParams() []*weight.Tensor {
	params := d.attention.GetParams()
	for _, c := range d.cells {
		params = append(params, c.GetParams()...)
	}
	return params
}

// Save implements NeuralUnit.
func (d *AttentionDecoder) Save(w io.Writer) error { return saveParams(w, d.GetParams()) }

// Load implements NeuralUnit.
func (d *AttentionDecoder) Load(r io.Reader) error { return loadParams(r, d.GetParams()) }
