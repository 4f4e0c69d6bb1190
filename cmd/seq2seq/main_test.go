package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/serialization"
	"github.com/born-ml/seq2seq/internal/tokenizer"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Model.HiddenDim = 6
	cfg.Model.EmbeddingDim = 4
	cfg.Model.SrcVocab = 8
	cfg.Model.TgtVocab = 8
	cfg.Train.BatchSize = 2
	cfg.Train.Steps = 3
	cfg.Train.Devices = []int{0, 1}
	return cfg
}

func TestCopyTask(t *testing.T) {
	task := must.M1(newCopyTask(8, 2, 4))
	rng := rand.New(rand.NewPCG(1, 1))
	src, tgt := task.Batch(rng, 5)
	require.Len(t, src, 5)
	assert.Equal(t, src, tgt)
	for _, seq := range src {
		assert.Len(t, seq, len(src[0]), "batch is padded to one length")
		assert.Equal(t, tokenizer.BOS, seq[0])
		body := stripReserved(seq)
		assert.GreaterOrEqual(t, len(body), 2)
		assert.LessOrEqual(t, len(body), 4)
		for _, id := range body {
			assert.GreaterOrEqual(t, id, 3)
			assert.Less(t, id, 8)
		}
	}

	_, err := newCopyTask(3, 1, 2)
	assert.Error(t, err)
	_, err = newCopyTask(8, 3, 2)
	assert.Error(t, err)
}

func TestParseDevices(t *testing.T) {
	assert.Equal(t, []int{0, 2}, must.M1(parseDevices("0, 2")))
	_, err := parseDevices("0,x")
	assert.Error(t, err)
}

func TestTrain_CheckpointAndInspect(t *testing.T) {
	cfg := smallConfig()
	task := must.M1(newCopyTask(cfg.Model.SrcVocab, 2, 3))
	result := must.M1(train(context.Background(), cfg, task, rand.New(rand.NewPCG(5, 6)), false))
	assert.Equal(t, int64(3), result.meta.Step)
	assert.Equal(t, []int{0, 1}, result.meta.Devices)
	assert.Equal(t, "adam", result.meta.Optimizer)
	assert.Greater(t, result.meta.Loss, 0.0)

	path := filepath.Join(t.TempDir(), "model.s2s")
	must.M1(nn.SaveCheckpoint(path, result.model, nn.CheckpointInfo{Training: result.meta, Metadata: map[string]string{"task": "copy"}}))

	header, payload := must.M2(serialization.ReadFile(path, serialization.ReaderOptions{}))
	var out bytes.Buffer
	renderCheckpoint(&out, path, header, len(payload))
	text := out.String()
	assert.Contains(t, text, "Seq2Seq")
	assert.Contains(t, text, "seq2seq.srcEmbedding")
	assert.Contains(t, text, "[8×4]")
	assert.Contains(t, text, "adam")
	assert.Contains(t, text, "copy")

	require.NoError(t, inspectCmd([]string{path}))
	assert.Error(t, inspectCmd(nil))
}

func TestTrain_Cancelled(t *testing.T) {
	cfg := smallConfig()
	task := must.M1(newCopyTask(cfg.Model.SrcVocab, 2, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := train(ctx, cfg, task, rand.New(rand.NewPCG(5, 6)), false)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestLoadPairs_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := loadPairs(filepath.Join(dir, "missing.tsv"), nil, 0)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.tsv")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = loadPairs(empty, stubTokenizer{}, 0)
	assert.ErrorContains(t, err, "no sentence pairs")
}

type stubTokenizer struct{}

func (stubTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i, r := range []byte(text) {
		ids[i] = int(r)
	}
	return ids
}

func (stubTokenizer) Decode(ids []int) string {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b)
}

func (stubTokenizer) Name() string { return "bytes" }

func TestLoadPairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.tsv")
	require.NoError(t, os.WriteFile(path, []byte("ab\tba\nabc\tcba\n"), 0o644))
	corpus := must.M1(loadPairs(path, stubTokenizer{}, 0))
	assert.Equal(t, 6, corpus.vocab.Size())
	src, tgt := corpus.Batch(rand.New(rand.NewPCG(1, 2)), 4)
	require.Len(t, src, 4)
	for i := range src {
		assert.Equal(t, len(src[0]), len(src[i]))
		assert.Equal(t, len(tgt[0]), len(tgt[i]))
	}
	assert.Equal(t, "cba", corpus.vocab.Decode(corpus.tgt[1]))
}
