package nn

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// AttentionUnit implements additive (Bahdanau) attention over an encoder
// output sequence.
//
// For a decoder state s and encoder outputs e_t (time-major rows of the
// encoder output, batch rows per step):
//
//	score_t = tanh(e_t·Ua + bUa + s·Wa + bWa)·V
//	α       = softmax_t(score)
//	context = Σ_t α_t · e_t
//
// The encoder projection e·Ua + bUa does not depend on the decoder state and
// is computed once per source sequence by PreProcess.
type AttentionUnit struct {
	name                  string
	hiddenDim, contextDim int
	device                tensor.DeviceID

	ua, bUa *weight.Tensor // [contextDim, hiddenDim], [1, hiddenDim]
	wa, bWa *weight.Tensor // [hiddenDim, hiddenDim], [1, hiddenDim]
	v       *weight.Tensor // [hiddenDim, 1]
}

// AttentionPreProcessResult is the per-sequence projection of the encoder
// output. Perform never mutates it, so it serves every decoding step of the
// sequence.
type AttentionPreProcessResult struct {
	Uhs       *weight.Tensor // encOut·Ua + bUa, [seqLen·batch, hiddenDim]
	EncOutput *weight.Tensor // [seqLen·batch, contextDim]
	SeqLen    int
	BatchSize int
}

// NewAttentionUnit creates an attention unit for decoder states of width
// hiddenDim over encoder outputs of width contextDim.
func NewAttentionUnit(name string, hiddenDim, contextDim int, device tensor.DeviceID, rng *rand.Rand) *AttentionUnit {
	attnDim := hiddenDim
	return &AttentionUnit{
		name:       name,
		hiddenDim:  hiddenDim,
		contextDim: contextDim,
		device:     device,
		ua:         weight.New(name+".Ua", tensor.Shape{contextDim, attnDim}, device, xavier(rng)),
		bUa:        weight.New(name+".bUa", tensor.Shape{1, attnDim}, device, weight.WithZeros()),
		wa:         weight.New(name+".Wa", tensor.Shape{hiddenDim, attnDim}, device, xavier(rng)),
		bWa:        weight.New(name+".bWa", tensor.Shape{1, attnDim}, device, weight.WithZeros()),
		v:          weight.New(name+".V", tensor.Shape{attnDim, 1}, device, xavier(rng)),
	}
}

// PreProcess projects the encoder output once for the whole sequence.
func (a *AttentionUnit) PreProcess(encOutput *weight.Tensor, batchSize int, g *graph.Graph) *AttentionPreProcessResult {
	if batchSize <= 0 || encOutput.Rows()%batchSize != 0 {
		exceptions.Panicf("%s: %d encoder rows are not a multiple of batch size %d", a.name, encOutput.Rows(), batchSize)
	}
	if encOutput.Columns() != a.contextDim {
		exceptions.Panicf("%s: encoder output has %d columns, expected context width %d", a.name, encOutput.Columns(), a.contextDim)
	}
	sub := g.CreateSubGraph(a.name)
	return &AttentionPreProcessResult{
		Uhs:       sub.Affine(encOutput, a.ua, a.bUa),
		EncOutput: encOutput,
		SeqLen:    encOutput.Rows() / batchSize,
		BatchSize: batchSize,
	}
}

// Perform returns the context vector [batch, contextDim] for decoder state
// [batch, hiddenDim].
func (a *AttentionUnit) Perform(state *weight.Tensor, pre *AttentionPreProcessResult, batchSize int, g *graph.Graph) *weight.Tensor {
	context, _ := a.PerformWithWeights(state, pre, batchSize, g)
	return context
}

// PerformWithWeights is Perform that also returns the alignment weights
// α [batch, seqLen]; every row is non-negative and sums to 1.
func (a *AttentionUnit) PerformWithWeights(state *weight.Tensor, pre *AttentionPreProcessResult, batchSize int,
	g *graph.Graph) (context, alpha *weight.Tensor) {
	if pre.BatchSize != batchSize || state.Rows() != batchSize {
		exceptions.Panicf("%s: batch size %d, state rows %d, preprocessed for batch %d",
			a.name, batchSize, state.Rows(), pre.BatchSize)
	}
	sub := g.CreateSubGraph(a.name)
	wc := sub.Affine(state, a.wa, a.bWa)

	scores := make([]*weight.Tensor, pre.SeqLen)
	for t := range pre.SeqLen {
		uh := sub.PeekRow(pre.Uhs, t*batchSize, batchSize)
		scores[t] = sub.MatMul(sub.Tanh(sub.Add(uh, wc)), a.v)
	}
	alpha = sub.Softmax(sub.ConcatColumns(scores...))

	for t := range pre.SeqLen {
		weighted := sub.ScaleRows(sub.PeekRow(pre.EncOutput, t*batchSize, batchSize), sub.PeekColumns(alpha, t, 1))
		if context == nil {
			context = weighted
		} else {
			context = sub.Add(context, weighted)
		}
	}
	return context, alpha
}

// Kind implements NeuralUnit.
func (a *AttentionUnit) Kind() Kind { return KindAttention }

// Name implements NeuralUnit.
func (a *AttentionUnit) Name() string { return a.name }

// GetDeviceId implements NeuralUnit.
func (a *AttentionUnit) GetDeviceId() tensor.DeviceID { return a.device }

// CloneToDeviceAt implements NeuralUnit.
func (a *AttentionUnit) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	return copyParams(NewAttentionUnit(a.name, a.hiddenDim, a.contextDim, id, nil), a)
}

// Reset implements NeuralUnit; attention keeps no recurrent state.
func (a *AttentionUnit) Reset(*weight.Factory, int) {}

// GetParams implements NeuralUnit: Ua, bUa, Wa, bWa, V.
func (a *AttentionUnit) GetParams() []*weight.Tensor {
	return []*weight.Tensor{a.ua, a.bUa, a.wa, a.bWa, a.v}
}

// Save implements NeuralUnit.
func (a *AttentionUnit) Save(w io.Writer) error { return saveParams(w, a.GetParams()) }

// Load implements NeuralUnit.
func (a *AttentionUnit) Load(r io.Reader) error { return loadParams(r, a.GetParams()) }
