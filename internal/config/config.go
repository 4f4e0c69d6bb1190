// Package config holds the YAML configuration of a seq2seq model and its
// training run.
package config

import (
	"bytes"
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// Optimizers lists the names accepted by Train.Optimizer.
var Optimizers = []string{"sgd", "momentum", "adam"}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of a configuration file.
type Config struct {
	Model Model `yaml:"model"`
	Train Train `yaml:"train"`
}

// Model holds the model dimensions.
type Model struct {
	HiddenDim    int `yaml:"hidden_dim"`
	EmbeddingDim int `yaml:"embedding_dim"`
	EncoderDepth int `yaml:"encoder_depth"`
	DecoderDepth int `yaml:"decoder_depth"`
	SrcVocab     int `yaml:"src_vocab"`
	TgtVocab     int `yaml:"tgt_vocab"`
}

// Train holds the training loop settings.
type Train struct {
	BatchSize      int     `yaml:"batch_size"`
	Steps          int     `yaml:"steps"`
	LR             float64 `yaml:"lr"`
	Optimizer      string  `yaml:"optimizer"`
	ClipNorm       float64 `yaml:"clip_norm,omitempty"`
	Devices        []int   `yaml:"devices"`
	Seed           uint64  `yaml:"seed"`
	CheckpointPath string  `yaml:"checkpoint_path,omitempty"`
}

// Default returns a small configuration suitable for the synthetic copy task.
func Default() *Config {
	return &Config{
		Model: Model{
			HiddenDim:    32,
			EmbeddingDim: 16,
			EncoderDepth: 1,
			DecoderDepth: 1,
			SrcVocab:     16,
			TgtVocab:     16,
		},
		Train: Train{
			BatchSize: 8,
			Steps:     200,
			LR:        0.01,
			Optimizer: "adam",
			ClipNorm:  5,
			Devices:   []int{0},
			Seed:      42,
		},
	}
}

// Load reads a YAML file on top of Default, so omitted fields keep their
// default values. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", path)
	}
	klog.V(1).Infof("loaded config from %s", path)
	return cfg, nil
}

// Parse decodes YAML data on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
		return nil, errors.Wrap(err, "decoding yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.WithStack(err)
}

// Validate checks dimensions, device list and optimizer name.
func (c *Config) Validate() error {
	if err := c.Seq2Seq().Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	t := c.Train
	switch {
	case t.BatchSize <= 0:
		return errors.Wrapf(ErrInvalid, "train.batch_size must be positive, got %d", t.BatchSize)
	case t.Steps < 0:
		return errors.Wrapf(ErrInvalid, "train.steps must not be negative, got %d", t.Steps)
	case t.LR <= 0:
		return errors.Wrapf(ErrInvalid, "train.lr must be positive, got %g", t.LR)
	case t.ClipNorm < 0:
		return errors.Wrapf(ErrInvalid, "train.clip_norm must not be negative, got %g", t.ClipNorm)
	case len(t.Devices) == 0:
		return errors.Wrap(ErrInvalid, "train.devices needs at least one device")
	case !slices.Contains(Optimizers, t.Optimizer):
		return errors.Wrapf(ErrInvalid, "train.optimizer %q is not one of %v", t.Optimizer, Optimizers)
	}
	seen := make(map[int]bool, len(t.Devices))
	for _, d := range t.Devices {
		if d < 0 || seen[d] {
			return errors.Wrapf(ErrInvalid, "train.devices: invalid or repeated device %d", d)
		}
		seen[d] = true
	}
	return nil
}

// Seq2Seq converts the model section into the model constructor's config.
func (c *Config) Seq2Seq() nn.Seq2SeqConfig {
	m := c.Model
	return nn.Seq2SeqConfig{
		SrcVocab:     m.SrcVocab,
		TgtVocab:     m.TgtVocab,
		EmbeddingDim: m.EmbeddingDim,
		HiddenDim:    m.HiddenDim,
		EncoderDepth: m.EncoderDepth,
		DecoderDepth: m.DecoderDepth,
	}
}

// DeviceIDs returns Train.Devices as device ids, primary first.
func (c *Config) DeviceIDs() []tensor.DeviceID {
	ids := make([]tensor.DeviceID, len(c.Train.Devices))
	for i, d := range c.Train.Devices {
		ids[i] = tensor.DeviceID(d)
	}
	return ids
}
