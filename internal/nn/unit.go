// Package nn implements the recurrent sequence-to-sequence layers built on
// the compute graph: LSTM cells, the attention unit, the bidirectional
// encoder, the attentional decoder and the feed-forward projection.
//
// Every layer implements NeuralUnit, the capability set an outer training
// loop needs to treat encoders, decoders and projections uniformly:
// enumerate parameters, persist them, reset recurrent state and replicate
// onto another device.
package nn

import (
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Kind tags the fixed set of layer kinds.
type Kind int

// Layer kinds.
const (
	KindFeedForward Kind = iota
	KindLSTM
	KindLSTMAttention
	KindAttention
	KindBiEncoder
	KindAttentionDecoder
	KindSeq2Seq
)

var kindNames = [...]string{
	KindFeedForward:      "FeedForward",
	KindLSTM:             "LSTM",
	KindLSTMAttention:    "LSTMAttention",
	KindAttention:        "Attention",
	KindBiEncoder:        "BiEncoder",
	KindAttentionDecoder: "AttentionDecoder",
	KindSeq2Seq:          "Seq2Seq",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// NeuralUnit is the contract shared by every layer.
type NeuralUnit interface {
	// Kind identifies the layer type.
	Kind() Kind

	// Name is the prefix of every parameter the unit owns.
	Name() string

	// GetDeviceId returns the device holding the unit's parameters.
	GetDeviceId() tensor.DeviceID

	// CloneToDeviceAt builds the same architecture on device id, with its own
	// buffers holding a copy of the current parameter values.
	CloneToDeviceAt(id tensor.DeviceID) NeuralUnit

	// Reset zeroes recurrent state for a new batch. Stateless units ignore it.
	Reset(f *weight.Factory, batchSize int)

	// GetParams returns the trainable tensors, depth-first: own parameters
	// first, then sub-components in construction order. Save and Load use
	// exactly this order.
	GetParams() []*weight.Tensor

	// Save writes every parameter record in GetParams order.
	Save(w io.Writer) error

	// Load reads the records written by Save into the existing buffers.
	Load(r io.Reader) error
}

// ErrStateLength is returned when a recurrent state list does not match the
// number of layers.
var ErrStateLength = errors.New("state list length does not match depth")

// saveParams and loadParams are the single traversal used by every unit's
// Save and Load, so persistence order always equals GetParams order.
func saveParams(w io.Writer, params []*weight.Tensor) error {
	for _, p := range params {
		if err := p.Save(w); err != nil {
			return err
		}
	}
	return nil
}

func loadParams(r io.Reader, params []*weight.Tensor) error {
	for _, p := range params {
		if err := p.Load(r); err != nil {
			return err
		}
	}
	return nil
}

// copyParams copies src's parameter values into dst, which must have the same
// architecture.
func copyParams(dst, src NeuralUnit) NeuralUnit {
	dstParams, srcParams := dst.GetParams(), src.GetParams()
	if len(dstParams) != len(srcParams) {
		panic(errors.Errorf("clone of %q: %d parameters, source has %d", src.Name(), len(dstParams), len(srcParams)))
	}
	for i := range dstParams {
		if err := dstParams[i].CopyValueFrom(srcParams[i]); err != nil {
			panic(errors.WithMessagef(err, "clone of %q", src.Name()))
		}
	}
	return dst
}

// xavier is the default initializer of weight matrices.
func xavier(rng *rand.Rand) weight.Option {
	return weight.WithXavier(rng)
}
