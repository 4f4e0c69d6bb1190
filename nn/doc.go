// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the recurrent layers of an attention-based
// sequence-to-sequence model.
//
// # Overview
//
// Every layer implements NeuralUnit: it names its parameters, lists them in
// a fixed order, persists them and can be cloned to another device.
//   - FeedForwardLayer: affine projection
//   - LSTMCell: one LSTM step with its recurrent state
//   - LSTMAttentionDecoderCell: LSTM step that also reads an attention context
//   - AttentionUnit: additive attention over encoder outputs
//   - BiEncoder: stacked bidirectional LSTM encoder
//   - AttentionDecoder: stacked attention decoder
//   - Seq2Seq: embeddings, encoder, decoder and output projection
//
// Operations are recorded on a Graph, which computes eagerly and replays the
// recorded backward closures in reverse order.
//
// # Basic Usage
//
//	registry := tensor.NewCPURegistry(0)
//	model, err := nn.NewSeq2Seq("model", nn.Seq2SeqConfig{
//	    SrcVocab: 64, TgtVocab: 64, EmbeddingDim: 16, HiddenDim: 32,
//	    EncoderDepth: 1, DecoderDepth: 1,
//	}, 0, rand.New(rand.NewPCG(1, 2)))
//
//	factory := nn.NewFactory()
//	g, _ := nn.NewGraph(0, registry, true)
//	err = nn.Run(func() {
//	    loss := model.Forward(g, factory, src, tgt)
//	    must.M(g.Backward(loss))
//	})
//	g.Dispose()
//	factory.Release()
//
// # Checkpoints
//
//	id, err := nn.SaveCheckpoint("model.s2s", model, nn.CheckpointInfo{})
//	header, err := nn.LoadCheckpoint("model.s2s", model)
package nn
