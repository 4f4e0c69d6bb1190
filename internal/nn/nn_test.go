package nn

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

var testRegistry = device.NewCPU(0, 1)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func newGraph(t *testing.T, backprop bool) *graph.Graph {
	t.Helper()
	return must.M1(graph.New(0, testRegistry, backprop))
}

// input returns a frozen [rows, cols] tensor with values in [-1, 1].
func input(name string, rows, cols int, rng *rand.Rand) *weight.Tensor {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = float32(rng.Float64()*2 - 1)
	}
	return weight.New(name, tensor.Shape{rows, cols}, 0, weight.Frozen(), weight.FromSlice(data))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "BiEncoder", KindBiEncoder.String())
	assert.Equal(t, "Seq2Seq", KindSeq2Seq.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}

func TestFeedForwardLayer_Process(t *testing.T) {
	l := NewFeedForwardLayer("proj", 3, 2, 0, seeded(1))
	params := l.GetParams()
	require.Len(t, params, 2)
	assert.Equal(t, "proj.W", params[0].Name())
	assert.Equal(t, tensor.Shape{3, 2}, params[0].Shape())
	assert.Equal(t, tensor.Shape{1, 2}, params[1].Shape())

	g := newGraph(t, false)
	defer g.Dispose()
	x := weight.New("x", tensor.Shape{1, 3}, 0, weight.Frozen(), weight.FromSlice([]float32{1, 0, 0}))
	y := l.Process(x, g)
	assert.Equal(t, tensor.Shape{1, 2}, y.Shape())
	// With a zero bias, the first row of W comes out.
	assert.InDeltaSlice(t, params[0].Float32s()[:2], y.Float32s(), 1e-6)
}

func TestLSTMCell_StepAndReset(t *testing.T) {
	const batch, in, hid = 2, 3, 4
	c := NewLSTMCell("lstm", in, hid, 0, seeded(1))
	assert.Equal(t, tensor.Shape{in + hid, 4 * hid}, c.GetParams()[0].Shape())
	bias := c.GetParams()[1].Float32s()
	assert.Equal(t, float32(0), bias[0])
	assert.Equal(t, float32(1), bias[hid])

	g := newGraph(t, false)
	defer g.Dispose()
	err := graph.Run(func() { c.Step(input("x", batch, in, seeded(2)), g) })
	assert.Error(t, err, "Step before Reset")

	f := weight.NewFactory()
	defer f.Release()
	c.Reset(f, batch)
	h := c.Step(input("x", batch, in, seeded(2)), g)
	assert.Equal(t, tensor.Shape{batch, hid}, h.Shape())
	assert.Same(t, h, c.Hidden())
	for _, v := range h.Float32s() {
		assert.Less(t, float64(v*v), 1.0, "hidden state is bounded by tanh")
	}

	err = graph.Run(func() { c.Step(input("x", batch+1, in, seeded(2)), g) })
	assert.Error(t, err, "batch differs from Reset")

	c.Reset(f, batch)
	assert.Equal(t, make([]float32, batch*hid), c.Hidden().Float32s())
	assert.Equal(t, make([]float32, batch*hid), c.Cell().Float32s())
}

func TestBiEncoder_EncodeShape(t *testing.T) {
	for _, depth := range []int{1, 2, 3} {
		const batch, seqLen, in, hid = 2, 3, 5, 4
		e := NewBiEncoder("enc", in, hid, depth, 0, seeded(1))
		assert.Len(t, e.GetParams(), 4*depth)
		assert.Equal(t, 2*hid, e.OutputDim())

		f := weight.NewFactory()
		g := newGraph(t, false)
		e.Reset(f, batch)
		out := e.Encode(input("x", seqLen*batch, in, seeded(2)), batch, g)
		assert.Equal(t, tensor.Shape{seqLen * batch, 2 * hid}, out.Shape(), "depth %d", depth)
		g.Dispose()
		f.Release()
	}
}

func TestBiEncoder_ParamOrder(t *testing.T) {
	e := NewBiEncoder("enc", 3, 2, 2, 0, seeded(1))
	var names []string
	for _, p := range e.GetParams() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{
		"enc.forward0.Wxh", "enc.forward0.b", "enc.forward1.Wxh", "enc.forward1.b",
		"enc.backward0.Wxh", "enc.backward0.b", "enc.backward1.Wxh", "enc.backward1.b",
	}, names)
	// Deeper layers read both directions of the layer below.
	assert.Equal(t, tensor.Shape{2*2 + 2, 4 * 2}, e.GetParams()[2].Shape())
}

func TestBiEncoder_IndivisibleRows(t *testing.T) {
	e := NewBiEncoder("enc", 3, 2, 1, 0, seeded(1))
	f := weight.NewFactory()
	defer f.Release()
	e.Reset(f, 2)
	g := newGraph(t, false)
	defer g.Dispose()
	err := graph.Run(func() { e.Encode(input("x", 5, 3, seeded(2)), 2, g) })
	assert.Error(t, err)
}

// The backward chain must see the sequence reversed: encoding a sequence
// and its time reversal with the same unit swaps the two halves of the
// output of a single-layer encoder.
func TestBiEncoder_Directions(t *testing.T) {
	const seqLen, in, hid = 3, 2, 3
	e := NewBiEncoder("enc", in, hid, 1, 0, seeded(1))
	// Share weights between the directions.
	must.M(e.backward[0].wxh.CopyValueFrom(e.forward[0].wxh))
	must.M(e.backward[0].b.CopyValueFrom(e.forward[0].b))

	x := input("x", seqLen, in, seeded(2))
	rows := x.Float32s()
	reversed := make([]float32, 0, len(rows))
	for step := seqLen - 1; step >= 0; step-- {
		reversed = append(reversed, rows[step*in:(step+1)*in]...)
	}
	xr := weight.New("xr", tensor.Shape{seqLen, in}, 0, weight.Frozen(), weight.FromSlice(reversed))

	encode := func(x *weight.Tensor) []float32 {
		f := weight.NewFactory()
		defer f.Release()
		g := newGraph(t, false)
		defer g.Dispose()
		e.Reset(f, 1)
		return append([]float32(nil), e.Encode(x, 1, g).Float32s()...)
	}
	out, outR := encode(x), encode(xr)
	for step := range seqLen {
		fwd := out[step*2*hid : step*2*hid+hid]
		bwdR := outR[(seqLen-1-step)*2*hid+hid : (seqLen-step)*2*hid]
		assert.InDeltaSlice(t, fwd, bwdR, 1e-6, "step %d", step)
	}
}

func TestAttentionUnit_Weights(t *testing.T) {
	const batch, seqLen, hid, ctx = 3, 4, 5, 6
	a := NewAttentionUnit("attn", hid, ctx, 0, seeded(1))
	names := []string{}
	for _, p := range a.GetParams() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"attn.Ua", "attn.bUa", "attn.Wa", "attn.bWa", "attn.V"}, names)

	g := newGraph(t, false)
	defer g.Dispose()
	enc := input("enc", seqLen*batch, ctx, seeded(2))
	pre := a.PreProcess(enc, batch, g)
	assert.Equal(t, seqLen, pre.SeqLen)
	uhs := append([]float32(nil), pre.Uhs.Float32s()...)

	context, alpha := a.PerformWithWeights(input("s", batch, hid, seeded(3)), pre, batch, g)
	assert.Equal(t, tensor.Shape{batch, ctx}, context.Shape())
	require.Equal(t, tensor.Shape{batch, seqLen}, alpha.Shape())
	weights := alpha.Float32s()
	for b := range batch {
		row := toFloat64(weights[b*seqLen : (b+1)*seqLen])
		for _, w := range row {
			assert.GreaterOrEqual(t, w, 0.0)
		}
		assert.InDelta(t, 1.0, floats.Sum(row), 1e-5)
	}

	// context = Σ_t α_t·e_t
	encRows := enc.Float32s()
	for b := range batch {
		for j := range ctx {
			want := 0.0
			for step := range seqLen {
				want += float64(weights[b*seqLen+step]) * float64(encRows[(step*batch+b)*ctx+j])
			}
			assert.InDelta(t, want, float64(context.Float32s()[b*ctx+j]), 1e-5)
		}
	}

	a.Perform(input("s2", batch, hid, seeded(4)), pre, batch, g)
	assert.Equal(t, uhs, pre.Uhs.Float32s(), "Perform must not modify the preprocessed encoder")
}

func TestAttentionUnit_Errors(t *testing.T) {
	a := NewAttentionUnit("attn", 2, 4, 0, seeded(1))
	g := newGraph(t, false)
	defer g.Dispose()
	assert.Error(t, graph.Run(func() { a.PreProcess(input("enc", 5, 4, seeded(2)), 2, g) }))
	assert.Error(t, graph.Run(func() { a.PreProcess(input("enc", 6, 3, seeded(2)), 2, g) }))
	pre := a.PreProcess(input("enc", 6, 4, seeded(2)), 2, g)
	assert.Error(t, graph.Run(func() { a.Perform(input("s", 3, 2, seeded(3)), pre, 3, g) }))
}

// Encoder hidden 2, embeddings 3, decoder hidden 4, context 4, depth 1,
// batch 2 and 3 source steps.
func TestEncoderDecoder_EndToEnd(t *testing.T) {
	const batch, seqLen, emb, encHid, decHid = 2, 3, 3, 2, 4
	enc := NewBiEncoder("enc", emb, encHid, 1, 0, seeded(1))
	dec := NewAttentionDecoder("dec", emb, decHid, enc.OutputDim(), 1, 0, seeded(2))

	f := weight.NewFactory()
	defer f.Release()
	g := newGraph(t, true)
	defer g.Dispose()

	enc.Reset(f, batch)
	dec.Reset(f, batch)
	var out *weight.Tensor
	require.NoError(t, graph.Run(func() {
		encoded := enc.Encode(input("src", seqLen*batch, emb, seeded(3)), batch, g)
		require.Equal(t, tensor.Shape{seqLen * batch, 2 * encHid}, encoded.Shape())
		pre := dec.PreProcess(encoded, batch, g)
		out = dec.Decode(input("tgt", batch, emb, seeded(4)), pre, batch, g)
	}))
	assert.Equal(t, tensor.Shape{batch, decHid}, out.Shape())
	assert.Same(t, out, dec.GetHTs()[0])

	require.NoError(t, g.Backward(out))
	for _, p := range append(enc.GetParams(), dec.GetParams()...) {
		assert.NotNil(t, p.Grad(), "no gradient reached %s", p.Name())
	}
}

func TestAttentionDecoder_States(t *testing.T) {
	const batch, depth, hid = 2, 3, 4
	dec := NewAttentionDecoder("dec", 3, hid, 6, depth, 0, seeded(1))
	assert.Equal(t, "dec.attention.Ua", dec.GetParams()[0].Name(), "attention parameters come first")
	assert.Equal(t, "dec.cell0.Wxh", dec.GetParams()[5].Name())

	f := weight.NewFactory()
	defer f.Release()
	dec.Reset(f, batch)
	hts, cts := dec.GetHTs(), dec.GetCTs()
	require.Len(t, hts, depth)
	require.Len(t, cts, depth)

	newHTs := make([]*weight.Tensor, depth)
	for i := range newHTs {
		newHTs[i] = input("h", batch, hid, seeded(uint64(i)))
	}
	require.NoError(t, dec.SetHTs(newHTs))
	require.NoError(t, dec.SetCTs(cts))
	for i := range depth {
		assert.Same(t, newHTs[i], dec.GetHTs()[i])
		assert.Same(t, cts[i], dec.GetCTs()[i])
	}

	err := dec.SetHTs(newHTs[:depth-1])
	assert.True(t, errors.Is(err, ErrStateLength), "got %v", err)
	err = dec.SetCTs([]*weight.Tensor{cts[0], cts[1], input("bad", batch, hid+1, seeded(9))})
	assert.True(t, errors.Is(err, weight.ErrShapeMismatch), "got %v", err)
	assert.Same(t, cts[2], dec.GetCTs()[2], "a failed Set leaves the state untouched")
}

func TestAttentionDecoder_DecodeBeforeReset(t *testing.T) {
	dec := NewAttentionDecoder("dec", 3, 4, 4, 1, 0, seeded(1))
	g := newGraph(t, false)
	defer g.Dispose()
	err := graph.Run(func() {
		pre := dec.PreProcess(input("enc", 4, 4, seeded(2)), 2, g)
		dec.Decode(input("x", 2, 3, seeded(3)), pre, 2, g)
	})
	assert.Error(t, err)
}

var testSeq2SeqConfig = Seq2SeqConfig{
	SrcVocab: 7, TgtVocab: 6, EmbeddingDim: 3, HiddenDim: 4, EncoderDepth: 2, DecoderDepth: 2,
}

// allUnits builds one of every unit with the given seed.
func allUnits(seed uint64) []NeuralUnit {
	rng := seeded(seed)
	return []NeuralUnit{
		NewFeedForwardLayer("ff", 3, 4, 0, rng),
		NewLSTMCell("lstm", 3, 4, 0, rng),
		NewLSTMAttentionDecoderCell("lstmAttn", 6, 3, 4, 0, rng),
		NewAttentionUnit("attn", 4, 6, 0, rng),
		NewBiEncoder("enc", 3, 4, 2, 0, rng),
		NewAttentionDecoder("dec", 3, 4, 8, 2, 0, rng),
		must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, rng)),
	}
}

func TestSaveLoad_BitIdentical(t *testing.T) {
	sources, targets := allUnits(1), allUnits(2)
	for i, src := range sources {
		dst := targets[i]
		t.Run(src.Kind().String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, src.Save(&buf))
			saved := append([]byte(nil), buf.Bytes()...)

			total := 0
			for _, r := range ParamRecords(src) {
				total += r.Bytes
			}
			assert.Equal(t, total, len(saved))

			require.NoError(t, dst.Load(bytes.NewReader(saved)))
			srcParams, dstParams := src.GetParams(), dst.GetParams()
			require.Len(t, dstParams, len(srcParams))
			for j := range srcParams {
				assert.Equal(t, srcParams[j].Value().Data(), dstParams[j].Value().Data(), srcParams[j].Name())
			}

			var again bytes.Buffer
			require.NoError(t, dst.Save(&again))
			assert.Equal(t, saved, again.Bytes())
		})
	}
}

func TestLoad_Mismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFeedForwardLayer("proj", 3, 4, 0, seeded(1)).Save(&buf))
	saved := buf.Bytes()

	err := NewFeedForwardLayer("proj", 3, 5, 0, seeded(1)).Load(bytes.NewReader(saved))
	assert.True(t, errors.Is(err, weight.ErrShapeMismatch), "got %v", err)

	err = NewFeedForwardLayer("other", 3, 4, 0, seeded(1)).Load(bytes.NewReader(saved))
	assert.True(t, errors.Is(err, weight.ErrNameMismatch), "got %v", err)

	err = NewFeedForwardLayer("proj", 3, 4, 0, seeded(1)).Load(bytes.NewReader(saved[:len(saved)-3]))
	assert.Error(t, err)
}

func TestCloneToDeviceAt(t *testing.T) {
	for _, unit := range allUnits(1) {
		t.Run(unit.Kind().String(), func(t *testing.T) {
			clone := unit.CloneToDeviceAt(1)
			assert.Equal(t, tensor.DeviceID(1), clone.GetDeviceId())
			assert.Equal(t, unit.Kind(), clone.Kind())
			assert.Equal(t, unit.Name(), clone.Name())

			src, dst := unit.GetParams(), clone.GetParams()
			require.Len(t, dst, len(src))
			for i := range src {
				assert.Equal(t, src[i].Name(), dst[i].Name())
				assert.Equal(t, tensor.DeviceID(1), dst[i].Device())
				assert.Equal(t, src[i].Float32s(), dst[i].Float32s())
			}
			before := src[0].Float32s()[0]
			dst[0].Float32s()[0] += 1
			assert.Equal(t, before, src[0].Float32s()[0], "clone must own its buffers")
		})
	}
}

func TestParamRecords(t *testing.T) {
	m := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1)))
	records := ParamRecords(m)
	params := m.GetParams()
	require.Len(t, records, len(params))
	assert.Equal(t, "model.srcEmbedding", records[0].Name)
	assert.Equal(t, "model.tgtEmbedding", records[1].Name)
	assert.Equal(t, "model.projection.b", records[len(records)-1].Name)
	total := 0
	for i, r := range records {
		assert.Equal(t, params[i].Name(), r.Name)
		total += r.Shape.NumElements()
	}
	assert.Equal(t, total, CountParams(m))
}

func TestSeq2SeqConfig_Validate(t *testing.T) {
	require.NoError(t, testSeq2SeqConfig.Validate())
	bad := testSeq2SeqConfig
	bad.DecoderDepth = 0
	assert.Error(t, bad.Validate())
	_, err := NewSeq2Seq("model", bad, 0, nil)
	assert.Error(t, err)
}

// copyBatch is a copy task: the target is the source framed by bos=0 and eos=1.
func copyBatch() (src, tgt [][]int) {
	src = [][]int{{2, 3, 4}, {5, 4, 3}}
	tgt = [][]int{{0, 2, 3, 4, 1}, {0, 5, 4, 3, 1}}
	return src, tgt
}

func sgdStep(unit NeuralUnit, lr float32) {
	for _, p := range unit.GetParams() {
		if p.Grad() == nil {
			continue
		}
		values, grads := p.Float32s(), p.Grad().AsFloat32()
		for i := range values {
			values[i] -= lr * grads[i]
		}
	}
	ZeroGrads(unit)
}

func TestSeq2Seq_TrainingReducesLoss(t *testing.T) {
	m := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1)))
	src, tgt := copyBatch()

	var losses []float64
	for range 15 {
		f := weight.NewFactory()
		g := newGraph(t, true)
		var loss *weight.Tensor
		require.NoError(t, graph.Run(func() { loss = m.Forward(g, f, src, tgt) }))
		losses = append(losses, graph.Scalar(loss))
		require.NoError(t, g.Backward(loss))
		assert.NotNil(t, m.SrcEmbedding.Grad())
		assert.NotNil(t, m.Projection.GetParams()[0].Grad())
		sgdStep(m, 0.1)
		g.Dispose()
		f.Release()
	}
	assert.Greater(t, losses[0], 0.0)
	assert.Less(t, losses[len(losses)-1], losses[0], "losses: %v", losses)
}

func TestSeq2Seq_ForwardIgnoresPadding(t *testing.T) {
	m := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1)))
	src := [][]int{{2, 3, graph.IgnoreTarget}}
	tgt := [][]int{{0, 2, 1, graph.IgnoreTarget}}
	f := weight.NewFactory()
	defer f.Release()
	g := newGraph(t, false)
	defer g.Dispose()
	var loss *weight.Tensor
	require.NoError(t, graph.Run(func() { loss = m.Forward(g, f, src, tgt) }))
	assert.Greater(t, graph.Scalar(loss), 0.0)

	err := graph.Run(func() { m.Forward(g, f, [][]int{{2}, {3, 4}}, [][]int{{0, 1}, {0, 1}}) })
	assert.Error(t, err, "ragged batch")
	err = graph.Run(func() { m.Forward(g, f, [][]int{{99}}, [][]int{{0, 1}}) })
	assert.Error(t, err, "token outside vocabulary")
}

func TestSeq2Seq_GreedyDecode(t *testing.T) {
	m := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1)))
	src, _ := copyBatch()
	f := weight.NewFactory()
	defer f.Release()

	const maxLen = 4
	out, err := m.GreedyDecode(testRegistry, f, src, 0, 1, maxLen)
	require.NoError(t, err)
	require.Len(t, out, len(src))
	for _, seq := range out {
		assert.LessOrEqual(t, len(seq), maxLen)
		for _, id := range seq {
			assert.NotEqual(t, 1, id, "eos is not part of the output")
			assert.Less(t, id, testSeq2SeqConfig.TgtVocab)
		}
	}

	_, err = m.GreedyDecode(testRegistry, f, [][]int{{99}}, 0, 1, maxLen)
	assert.Error(t, err)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.s2s")
	src := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1)))
	id, err := SaveCheckpoint(path, src, CheckpointInfo{Metadata: map[string]string{"task": "copy"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	dst := must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(2)))
	header, err := LoadCheckpoint(path, dst)
	require.NoError(t, err)
	assert.Equal(t, id, header.ID)
	assert.Equal(t, "Seq2Seq", header.ModelType)
	assert.Equal(t, "copy", header.Metadata["task"])
	srcParams, dstParams := src.GetParams(), dst.GetParams()
	for i := range srcParams {
		assert.Equal(t, srcParams[i].Float32s(), dstParams[i].Float32s(), srcParams[i].Name())
	}
}

func TestCheckpoint_Mismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.s2s")
	_, err := SaveCheckpoint(path, must.M1(NewSeq2Seq("model", testSeq2SeqConfig, 0, seeded(1))), CheckpointInfo{})
	require.NoError(t, err)

	bigger := testSeq2SeqConfig
	bigger.HiddenDim++
	_, err = LoadCheckpoint(path, must.M1(NewSeq2Seq("model", bigger, 0, seeded(1))))
	assert.True(t, errors.Is(err, ErrCheckpointMismatch), "got %v", err)

	renamed := must.M1(NewSeq2Seq("other", testSeq2SeqConfig, 0, seeded(1)))
	_, err = LoadCheckpoint(path, renamed)
	assert.True(t, errors.Is(err, ErrCheckpointMismatch), "got %v", err)

	_, err = LoadCheckpoint(path, NewFeedForwardLayer("model", 3, 4, 0, seeded(1)))
	assert.True(t, errors.Is(err, ErrCheckpointMismatch), "got %v", err)

	header, payload, err := EncodeCheckpoint(NewFeedForwardLayer("ff", 3, 4, 0, seeded(1)), CheckpointInfo{})
	require.NoError(t, err)
	err = RestoreCheckpoint(&header, append(payload, 0), NewFeedForwardLayer("ff", 3, 4, 0, seeded(2)))
	assert.True(t, errors.Is(err, ErrCheckpointMismatch), "trailing bytes: got %v", err)
}
