package nn

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Seq2SeqConfig holds the dimensions of a Seq2Seq model.
type Seq2SeqConfig struct {
	SrcVocab     int
	TgtVocab     int
	EmbeddingDim int
	HiddenDim    int
	EncoderDepth int
	DecoderDepth int
}

// Validate checks that every dimension is positive.
func (c Seq2SeqConfig) Validate() error {
	dims := []struct {
		name  string
		value int
	}{
		{"SrcVocab", c.SrcVocab},
		{"TgtVocab", c.TgtVocab},
		{"EmbeddingDim", c.EmbeddingDim},
		{"HiddenDim", c.HiddenDim},
		{"EncoderDepth", c.EncoderDepth},
		{"DecoderDepth", c.DecoderDepth},
	}
	for _, d := range dims {
		if d.value <= 0 {
			return errors.Errorf("seq2seq config: %s must be positive, got %d", d.name, d.value)
		}
	}
	return nil
}

// Seq2Seq wires source and target embeddings, a BiEncoder, an
// AttentionDecoder and the output projection into a trainable translation
// model.
//
// Token sequences are batch-major ([batch][time]); inside the model every
// sequence tensor is time-major, batch rows per step. Negative token ids
// embed as zero rows.
type Seq2Seq struct {
	name   string
	config Seq2SeqConfig
	device tensor.DeviceID

	SrcEmbedding *weight.Tensor // [SrcVocab, EmbeddingDim]
	TgtEmbedding *weight.Tensor // [TgtVocab, EmbeddingDim]
	Encoder      *BiEncoder
	Decoder      *AttentionDecoder
	Projection   *FeedForwardLayer
}

// NewSeq2Seq creates a model on device. The decoder attends over the
// encoder output, so its context width is 2·HiddenDim.
func NewSeq2Seq(name string, cfg Seq2SeqConfig, device tensor.DeviceID, rng *rand.Rand) (*Seq2Seq, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Seq2Seq{
		name:         name,
		config:       cfg,
		device:       device,
		SrcEmbedding: weight.New(name+".srcEmbedding", tensor.Shape{cfg.SrcVocab, cfg.EmbeddingDim}, device, xavier(rng)),
		TgtEmbedding: weight.New(name+".tgtEmbedding", tensor.Shape{cfg.TgtVocab, cfg.EmbeddingDim}, device, xavier(rng)),
		Encoder:      NewBiEncoder(name+".encoder", cfg.EmbeddingDim, cfg.HiddenDim, cfg.EncoderDepth, device, rng),
	}
	m.Decoder = NewAttentionDecoder(name+".decoder", cfg.EmbeddingDim, cfg.HiddenDim, m.Encoder.OutputDim(),
		cfg.DecoderDepth, device, rng)
	m.Projection = NewFeedForwardLayer(name+".projection", cfg.HiddenDim, cfg.TgtVocab, device, rng)
	klog.V(1).Infof("created seq2seq model %q with %d parameters", name, CountParams(m))
	return m, nil
}

// Config returns the model dimensions.
func (m *Seq2Seq) Config() Seq2SeqConfig { return m.config }

// Forward runs one teacher-forced pass: the decoder reads tgt[:, :-1] and is
// scored against tgt[:, 1:]. It returns the mean cross-entropy as a [1, 1]
// tensor; target ids equal to graph.IgnoreTarget are not counted.
//
// Forward resets the recurrent state with f, which the caller releases after
// the step.
func (m *Seq2Seq) Forward(g *graph.Graph, f *weight.Factory, src, tgt [][]int) *weight.Tensor {
	batch := len(src)
	srcLen := m.checkBatch("source", src, batch)
	tgtLen := m.checkBatch("target", tgt, batch)
	if tgtLen < 2 {
		exceptions.Panicf("%s: target sequences need at least 2 tokens, got %d", m.name, tgtLen)
	}

	pre := m.encode(g, f, src, srcLen)

	logits := make([]*weight.Tensor, 0, tgtLen-1)
	targets := make([]int, 0, (tgtLen-1)*batch)
	for t := 0; t < tgtLen-1; t++ {
		x := m.embedStep(g, f, m.TgtEmbedding, tgt, t)
		logits = append(logits, m.Projection.Process(m.Decoder.Decode(x, pre, batch, g), g))
		for b := range batch {
			targets = append(targets, tgt[b][t+1])
		}
	}
	_, loss := g.SoftmaxCrossEntropy(g.ConcatRows(logits...), targets)
	return loss
}

// GreedyDecode translates src, starting every target with bos and stopping a
// row at eos or after maxLen tokens. The returned sequences exclude bos and
// eos.
func (m *Seq2Seq) GreedyDecode(registry *device.Registry, f *weight.Factory, src [][]int, bos, eos, maxLen int) ([][]int, error) {
	if maxLen <= 0 {
		klog.Warningf("%s: greedy decode with maxLen %d produces empty sequences", m.name, maxLen)
	}
	g, err := graph.New(m.device, registry, false)
	if err != nil {
		return nil, err
	}
	defer g.Dispose()

	batch := len(src)
	out := make([][]int, batch)
	err = graph.Run(func() {
		srcLen := m.checkBatch("source", src, batch)
		pre := m.encode(g, f, src, srcLen)

		prev := make([][]int, batch)
		for b := range prev {
			prev[b] = []int{bos}
		}
		done := make([]bool, batch)
		remaining := batch
		for step := 0; step < maxLen && remaining > 0; step++ {
			x := m.embedStep(g, f, m.TgtEmbedding, prev, 0)
			next := graph.ArgMaxRows(m.Projection.Process(m.Decoder.Decode(x, pre, batch, g), g))
			for b, id := range next {
				prev[b][0] = id
				if done[b] {
					continue
				}
				if id == eos {
					done[b] = true
					remaining--
					continue
				}
				out[b] = append(out[b], id)
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: greedy decode", m.name)
	}
	return out, nil
}

// encode resets the model for the batch, encodes src and prepares attention.
func (m *Seq2Seq) encode(g *graph.Graph, f *weight.Factory, src [][]int, srcLen int) *AttentionPreProcessResult {
	batch := len(src)
	m.Reset(f, batch)
	steps := make([]*weight.Tensor, srcLen)
	for t := range srcLen {
		steps[t] = m.embedStep(g, f, m.SrcEmbedding, src, t)
	}
	encoded := m.Encoder.Encode(g.ConcatRows(steps...), batch, g)
	return m.Decoder.PreProcess(encoded, batch, g)
}

// embedStep gathers the embedding rows of ids[b][t] for every b.
func (m *Seq2Seq) embedStep(g *graph.Graph, f *weight.Factory, table *weight.Tensor, ids [][]int, t int) *weight.Tensor {
	rows := make([]*weight.Tensor, len(ids))
	for b, seq := range ids {
		id := seq[t]
		switch {
		case id < 0:
			rows[b] = f.Zeros(table.Name()+".pad", tensor.Shape{1, table.Columns()}, table.Device())
		case id >= table.Rows():
			exceptions.Panicf("%s: token id %d outside vocabulary of %d", m.name, id, table.Rows())
		default:
			rows[b] = g.PeekRow(table, id, 1)
		}
	}
	return g.ConcatRows(rows...)
}

func (m *Seq2Seq) checkBatch(kind string, ids [][]int, batch int) int {
	if len(ids) != batch || batch == 0 {
		exceptions.Panicf("%s: %s batch has %d sequences, expected %d", m.name, kind, len(ids), batch)
	}
	length := len(ids[0])
	if length == 0 {
		exceptions.Panicf("%s: empty %s sequences", m.name, kind)
	}
	for b, seq := range ids {
		if len(seq) != length {
			exceptions.Panicf("%s: %s sequence %d has length %d, expected %d", m.name, kind, b, len(seq), length)
		}
	}
	return length
}

// Kind implements NeuralUnit.
func (m *Seq2Seq) Kind() Kind { return KindSeq2Seq }

// Name implements NeuralUnit.
func (m *Seq2Seq) Name() string { return m.name }

// GetDeviceId implements NeuralUnit.
func (m *Seq2Seq) GetDeviceId() tensor.DeviceID { return m.device }

// CloneToDeviceAt implements NeuralUnit.
func (m *Seq2Seq) CloneToDeviceAt(id tensor.DeviceID) NeuralUnit {
	clone, err := NewSeq2Seq(m.name, m.config, id, nil)
	if err != nil {
		panic(errors.WithMessagef(err, "clone of %q", m.name))
	}
	return copyParams(clone, m)
}

// Reset implements NeuralUnit.
func (m *Seq2Seq) Reset(f *weight.Factory, batchSize int) {
	m.Encoder.Reset(f, batchSize)
	m.Decoder.Reset(f, batchSize)
}

// GetParams implements NeuralUnit: the embeddings, then the encoder, the
// decoder and the projection.
func (m *Seq2Seq) GetParams() []*weight.Tensor {
	params := []*weight.Tensor{m.SrcEmbedding, m.TgtEmbedding}
	params = append(params, m.Encoder.GetParams()...)
	params = append(params, m.Decoder.GetParams()...)
	return append(params, m.Projection.GetParams()...)
}

// Save implements NeuralUnit.
func (m *Seq2Seq) Save(w io.Writer) error { return saveParams(w, m.GetParams()) }

// Load implements NeuralUnit.
func (m *Seq2Seq) Load(r io.Reader) error { return loadParams(r, m.GetParams()) }
