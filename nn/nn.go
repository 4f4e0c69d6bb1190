// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/serialization"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// NeuralUnit is the contract shared by every layer.
type NeuralUnit = nn.NeuralUnit

// Kind tags the layer type.
type Kind = nn.Kind

// WeightTensor is a named, optionally trainable 2-D tensor with a lazily
// allocated gradient.
type WeightTensor = weight.Tensor

// Factory hands out zeroed, non-trainable tensors for recurrent state.
type Factory = weight.Factory

// Graph records operations for backpropagation.
type Graph = graph.Graph

// IgnoreTarget marks padded target positions excluded from the loss.
const IgnoreTarget = graph.IgnoreTarget

// NewFactory creates a float32 Factory.
func NewFactory() *Factory { return weight.NewFactory() }

// NewGraph creates a graph bound to deviceID.
func NewGraph(deviceID tensor.DeviceID, registry *device.Registry, needsBackprop bool) (*Graph, error) {
	return graph.New(deviceID, registry, needsBackprop)
}

// Run executes fn, returning the panics of graph operations as errors.
func Run(fn func()) error { return graph.Run(fn) }

// FeedForwardLayer is an affine projection.
type FeedForwardLayer = nn.FeedForwardLayer

// NewFeedForwardLayer creates an affine layer with Xavier-initialized weights.
func NewFeedForwardLayer(name string, inputDim, outputDim int, device tensor.DeviceID, rng *rand.Rand) *FeedForwardLayer {
	return nn.NewFeedForwardLayer(name, inputDim, outputDim, device, rng)
}

// LSTMCell is one LSTM layer holding its recurrent state.
type LSTMCell = nn.LSTMCell

// NewLSTMCell creates an LSTM cell.
func NewLSTMCell(name string, inputDim, hiddenDim int, device tensor.DeviceID, rng *rand.Rand) *LSTMCell {
	return nn.NewLSTMCell(name, inputDim, hiddenDim, device, rng)
}

// LSTMAttentionDecoderCell is an LSTM cell whose gates also read an
// attention context.
type LSTMAttentionDecoderCell = nn.LSTMAttentionDecoderCell

// NewLSTMAttentionDecoderCell creates a decoder cell.
func NewLSTMAttentionDecoderCell(name string, contextDim, inputDim, hiddenDim int, device tensor.DeviceID,
	rng *rand.Rand) *LSTMAttentionDecoderCell {
	return nn.NewLSTMAttentionDecoderCell(name, contextDim, inputDim, hiddenDim, device, rng)
}

// AttentionUnit computes additive attention over encoder outputs.
type AttentionUnit = nn.AttentionUnit

// AttentionPreProcessResult caches the query-independent attention terms of
// one sequence.
type AttentionPreProcessResult = nn.AttentionPreProcessResult

// NewAttentionUnit creates an attention unit.
func NewAttentionUnit(name string, hiddenDim, contextDim int, device tensor.DeviceID, rng *rand.Rand) *AttentionUnit {
	return nn.NewAttentionUnit(name, hiddenDim, contextDim, device, rng)
}

// BiEncoder is a stacked bidirectional LSTM encoder.
type BiEncoder = nn.BiEncoder

// NewBiEncoder creates an encoder of depth layers.
func NewBiEncoder(name string, inputDim, hiddenDim, depth int, device tensor.DeviceID, rng *rand.Rand) *BiEncoder {
	return nn.NewBiEncoder(name, inputDim, hiddenDim, depth, device, rng)
}

// AttentionDecoder is a stack of attention decoder cells sharing one
// AttentionUnit.
type AttentionDecoder = nn.AttentionDecoder

// NewAttentionDecoder creates a decoder of depth layers.
func NewAttentionDecoder(name string, embeddingDim, hiddenDim, contextDim, depth int, device tensor.DeviceID,
	rng *rand.Rand) *AttentionDecoder {
	return nn.NewAttentionDecoder(name, embeddingDim, hiddenDim, contextDim, depth, device, rng)
}

// Seq2SeqConfig holds the dimensions of a Seq2Seq model.
type Seq2SeqConfig = nn.Seq2SeqConfig

// Seq2Seq is a complete attention-based translation model.
type Seq2Seq = nn.Seq2Seq

// NewSeq2Seq validates cfg and creates a model on device.
func NewSeq2Seq(name string, cfg Seq2SeqConfig, device tensor.DeviceID, rng *rand.Rand) (*Seq2Seq, error) {
	return nn.NewSeq2Seq(name, cfg, device, rng)
}

// CheckpointInfo carries the optional training state and metadata of a
// checkpoint.
type CheckpointInfo = nn.CheckpointInfo

// CheckpointHeader describes a checkpoint file.
type CheckpointHeader = serialization.Header

// SaveCheckpoint writes unit to path and returns the checkpoint id.
func SaveCheckpoint(path string, unit NeuralUnit, info CheckpointInfo) (string, error) {
	return nn.SaveCheckpoint(path, unit, info)
}

// LoadCheckpoint reads path into unit's parameters.
func LoadCheckpoint(path string, unit NeuralUnit) (*CheckpointHeader, error) {
	return nn.LoadCheckpoint(path, unit)
}

// CountParams returns the number of scalar parameters of unit.
func CountParams(unit NeuralUnit) int { return nn.CountParams(unit) }
