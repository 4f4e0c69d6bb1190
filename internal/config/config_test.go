package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/tensor"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []tensor.DeviceID{0}, cfg.DeviceIDs())
	s := cfg.Seq2Seq()
	assert.Equal(t, cfg.Model.HiddenDim, s.HiddenDim)
	assert.Equal(t, cfg.Model.TgtVocab, s.TgtVocab)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg := must.M1(Parse([]byte(`
model:
  hidden_dim: 8
  decoder_depth: 2
train:
  optimizer: momentum
  devices: [0, 1]
`)))
	assert.Equal(t, 8, cfg.Model.HiddenDim)
	assert.Equal(t, 2, cfg.Model.DecoderDepth)
	assert.Equal(t, Default().Model.EmbeddingDim, cfg.Model.EmbeddingDim)
	assert.Equal(t, "momentum", cfg.Train.Optimizer)
	assert.Equal(t, []tensor.DeviceID{0, 1}, cfg.DeviceIDs())

	empty := must.M1(Parse(nil))
	assert.Equal(t, Default(), empty)
}

func TestParse_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":     "model:\n  width: 3\n",
		"bad yaml":          "model: [",
		"zero hidden":       "model:\n  hidden_dim: 0\n",
		"no devices":        "train:\n  devices: []\n",
		"repeated device":   "train:\n  devices: [1, 1]\n",
		"unknown optimizer": "train:\n  optimizer: lbfgs\n",
		"negative lr":       "train:\n  lr: -1\n",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}

	_, err := Parse([]byte("train:\n  batch_size: 0\n"))
	assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
}

func TestLoad_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Train.CheckpointPath = "model.s2s"
	cfg.Train.Devices = []int{0, 2}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, must.M1(cfg.Marshal()), 0o644))

	loaded := must.M1(Load(path))
	assert.Equal(t, cfg, loaded)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
