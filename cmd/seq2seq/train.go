package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/optim"
	"github.com/born-ml/seq2seq/internal/replica"
	"github.com/born-ml/seq2seq/internal/serialization"
	"github.com/born-ml/seq2seq/internal/tokenizer"
	"github.com/born-ml/seq2seq/internal/weight"
)

// trainOptions are the train flags that are not part of config.Config.
type trainOptions struct {
	textPath  string
	encoding  string
	maxVocab  int
	minLen    int
	maxLen    int
	quiet     bool
	samples   int
	decodeLen int
}

func trainCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file; flags override its values.")
	steps := fs.Int("steps", -1, "Number of training steps.")
	batch := fs.Int("batch", 0, "Batch size per device.")
	lr := fs.Float64("lr", 0, "Learning rate.")
	optimizer := fs.String("optimizer", "", "Optimizer: sgd, momentum or adam.")
	devices := fs.String("devices", "", "Comma-separated CPU device ids, primary first, e.g. 0,1.")
	seed := fs.Uint64("seed", 0, "Random seed.")
	checkpoint := fs.String("checkpoint", "", "Checkpoint file to write after training.")
	var opts trainOptions
	fs.StringVar(&opts.textPath, "text", "", "Tab-separated source/target sentence pairs; empty trains the copy task.")
	fs.StringVar(&opts.encoding, "encoding", tokenizer.DefaultEncoding, "tiktoken encoding used with -text.")
	fs.IntVar(&opts.maxVocab, "vocab", 4096, "Maximum vocabulary size with -text.")
	fs.IntVar(&opts.minLen, "min_len", 2, "Minimum copy task sequence length.")
	fs.IntVar(&opts.maxLen, "max_len", 6, "Maximum copy task sequence length.")
	fs.BoolVar(&opts.quiet, "quiet", false, "Disable the progress bar.")
	fs.IntVar(&opts.samples, "samples", 3, "Number of greedy translations printed after training.")
	fs.IntVar(&opts.decodeLen, "decode_len", 20, "Maximum length of the printed translations.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "steps":
			cfg.Train.Steps = *steps
		case "batch":
			cfg.Train.BatchSize = *batch
		case "lr":
			cfg.Train.LR = *lr
		case "optimizer":
			cfg.Train.Optimizer = *optimizer
		case "seed":
			cfg.Train.Seed = *seed
		case "checkpoint":
			cfg.Train.CheckpointPath = *checkpoint
		}
	})
	if *devices != "" {
		ids, err := parseDevices(*devices)
		if err != nil {
			return err
		}
		cfg.Train.Devices = ids
	}

	rng := rand.New(rand.NewPCG(cfg.Train.Seed, cfg.Train.Seed^0x5eed))
	var (
		data  dataset
		vocab *tokenizer.Vocab
	)
	if opts.textPath != "" {
		tok, err := tokenizer.NewTikToken(opts.encoding)
		if err != nil {
			return err
		}
		corpus, err := loadPairs(opts.textPath, tok, opts.maxVocab)
		if err != nil {
			return err
		}
		cfg.Model.SrcVocab, cfg.Model.TgtVocab = corpus.vocab.Size(), corpus.vocab.Size()
		data, vocab = corpus, corpus.vocab
	} else {
		task, err := newCopyTask(min(cfg.Model.SrcVocab, cfg.Model.TgtVocab), opts.minLen, opts.maxLen)
		if err != nil {
			return err
		}
		data = task
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	result, err := train(ctx, cfg, data, rng, !opts.quiet)
	if err != nil {
		return err
	}
	if opts.samples > 0 {
		if err := printSamples(result, data, vocab, rng, opts.samples, opts.decodeLen); err != nil {
			return err
		}
	}
	if path := cfg.Train.CheckpointPath; path != "" {
		meta := map[string]string{"task": "copy"}
		if opts.textPath != "" {
			meta = map[string]string{"task": "text", "encoding": opts.encoding, "corpus": opts.textPath}
		}
		if _, err := nn.SaveCheckpoint(path, result.model, nn.CheckpointInfo{Training: result.meta, Metadata: meta}); err != nil {
			return err
		}
	}
	return nil
}

func parseDevices(s string) ([]int, error) {
	var ids []int
	for part := range strings.SplitSeq(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid device list %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// trainResult is the state left by train.
type trainResult struct {
	model    *nn.Seq2Seq
	registry *device.Registry
	meta     *serialization.TrainingMeta
}

// train runs cfg.Train.Steps data-parallel steps: every device computes the
// gradients of its own batch, the gradients are summed into the primary
// model, the optimizer updates it and the new weights are copied back to the
// replicas.
func train(ctx context.Context, cfg *config.Config, data dataset, rng *rand.Rand, showProgress bool) (*trainResult, error) {
	ids := cfg.DeviceIDs()
	registry := device.NewCPU(ids...)
	model, err := nn.NewSeq2Seq("seq2seq", cfg.Seq2Seq(), ids[0], rng)
	if err != nil {
		return nil, err
	}
	reps, err := replica.New(model, registry, ids...)
	if err != nil {
		return nil, err
	}
	lr := float32(cfg.Train.LR)
	if cfg.Train.Optimizer != "adam" {
		// Gradients are summed over replicas.
		lr /= float32(reps.Len())
	}
	opt, err := optim.New(cfg.Train.Optimizer, model.GetParams(), lr, registry)
	if err != nil {
		return nil, err
	}
	klog.Infof("training %s parameters (%s) on %v with %s, %d steps of %d×%d sequences",
		humanize.Comma(int64(nn.CountParams(model))), humanize.Bytes(uint64(paramBytes(model))),
		ids, opt.Name(), cfg.Train.Steps, reps.Len(), cfg.Train.BatchSize)

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(cfg.Train.Steps,
			progressbar.OptionSetDescription("training"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("steps"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	losses := make([]float64, reps.Len())
	var loss float64
	step := 0
	for ; step < cfg.Train.Steps; step++ {
		shards := make([][2][][]int, reps.Len())
		for i := range shards {
			shards[i][0], shards[i][1] = data.Batch(rng, cfg.Train.BatchSize)
		}
		err := reps.Step(ctx, func(i int, unit nn.NeuralUnit, g *graph.Graph) error {
			f := weight.NewFactory()
			defer f.Release()
			out := unit.(*nn.Seq2Seq).Forward(g, f, shards[i][0], shards[i][1])
			losses[i] = graph.Scalar(out)
			return g.Backward(out)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d", step)
		}
		if err := reps.AggregateGrads(); err != nil {
			return nil, err
		}
		if cfg.Train.ClipNorm > 0 {
			optim.ClipGradNorm(model.GetParams(), cfg.Train.ClipNorm)
		}
		if err := opt.Step(); err != nil {
			return nil, errors.WithMessagef(err, "step %d", step)
		}
		reps.ZeroGrads()
		if err := reps.SyncWeights(); err != nil {
			return nil, err
		}

		loss = 0
		for _, l := range losses {
			loss += l
		}
		loss /= float64(len(losses))
		if bar != nil {
			bar.Describe(fmt.Sprintf("loss %.4f", loss))
			_ = bar.Add(1)
		}
		if klog.V(1).Enabled() && step%50 == 0 {
			klog.Infof("step %d: loss %.4f", step, loss)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	klog.Infof("finished %d steps, final loss %.4f", step, loss)

	devices := make([]int, len(ids))
	for i, id := range ids {
		devices[i] = int(id)
	}
	return &trainResult{
		model:    model,
		registry: registry,
		meta: &serialization.TrainingMeta{
			Step:         int64(step),
			Loss:         loss,
			Optimizer:    opt.Name(),
			LearningRate: float64(opt.GetLR()),
			Devices:      devices,
		},
	}, nil
}

func paramBytes(unit nn.NeuralUnit) int {
	total := 0
	for _, r := range nn.ParamRecords(unit) {
		total += r.Bytes
	}
	return total
}

// printSamples greedily decodes a few fresh batches and prints them next to
// their references.
func printSamples(result *trainResult, data dataset, vocab *tokenizer.Vocab, rng *rand.Rand, n, maxLen int) error {
	src, tgt := data.Batch(rng, n)
	f := weight.NewFactory()
	defer f.Release()
	out, err := result.model.GreedyDecode(result.registry, f, src, tokenizer.BOS, tokenizer.EOS, maxLen)
	if err != nil {
		return err
	}
	correct := 0
	for i := range src {
		want := stripReserved(tgt[i])
		if fmt.Sprint(want) == fmt.Sprint(out[i]) {
			correct++
		}
		if vocab != nil {
			fmt.Printf("src: %s\nref: %s\nout: %s\n\n", vocab.Decode(src[i]), vocab.Decode(tgt[i]), vocab.Decode(out[i]))
		} else {
			fmt.Printf("src: %v\nref: %v\nout: %v\n\n", stripReserved(src[i]), want, out[i])
		}
	}
	fmt.Printf("exact matches: %d/%d\n", correct, len(src))
	return nil
}

// stripReserved drops BOS, EOS and padding.
func stripReserved(seq []int) []int {
	var out []int
	for _, id := range seq {
		if id != tokenizer.BOS && id != tokenizer.EOS && id != tokenizer.PadID {
			out = append(out, id)
		}
	}
	return out
}
