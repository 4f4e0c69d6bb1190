package main

import (
	"bufio"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/tokenizer"
)

// dataset yields training batches of source and target id sequences.
type dataset interface {
	// Batch returns size source and target sequences, right-padded.
	Batch(rng *rand.Rand, size int) (src, tgt [][]int)
}

// copyTask generates random sequences whose target equals the source.
// Token ids start after the reserved BOS, EOS and UNK ids.
type copyTask struct {
	vocab          int
	minLen, maxLen int
}

func newCopyTask(vocab, minLen, maxLen int) (*copyTask, error) {
	if vocab <= 3 {
		return nil, errors.Errorf("copy task needs a vocabulary larger than 3, got %d", vocab)
	}
	if minLen < 1 || maxLen < minLen {
		return nil, errors.Errorf("invalid copy task lengths [%d, %d]", minLen, maxLen)
	}
	return &copyTask{vocab: vocab, minLen: minLen, maxLen: maxLen}, nil
}

func (c *copyTask) sample(rng *rand.Rand) []int {
	n := c.minLen + rng.IntN(c.maxLen-c.minLen+1)
	seq := make([]int, 0, n+2)
	seq = append(seq, tokenizer.BOS)
	for range n {
		seq = append(seq, 3+rng.IntN(c.vocab-3))
	}
	return append(seq, tokenizer.EOS)
}

func (c *copyTask) Batch(rng *rand.Rand, size int) (src, tgt [][]int) {
	src = make([][]int, size)
	for i := range src {
		src[i] = c.sample(rng)
	}
	return tokenizer.PadBatch(src), tokenizer.PadBatch(src)
}

// pairCorpus holds encoded (source, target) pairs read from a text file.
type pairCorpus struct {
	vocab    *tokenizer.Vocab
	src, tgt [][]int
}

// loadPairs reads "source<TAB>target" lines from path and builds a shared
// vocabulary of at most maxVocab ids over both sides.
func loadPairs(path string, tok tokenizer.Tokenizer, maxVocab int) (*pairCorpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	texts := make([]string, 0, 2*len(lines))
	for _, line := range lines {
		src, tgt, _ := strings.Cut(line, "\t")
		texts = append(texts, src, tgt)
	}
	vocab := tokenizer.BuildVocab(tok, texts, maxVocab)
	src, tgt, err := vocab.SplitPairs(lines, "\t")
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	if len(src) == 0 {
		return nil, errors.Errorf("%s: no sentence pairs", path)
	}
	klog.Infof("loaded %d sentence pairs from %s, vocabulary of %d", len(src), path, vocab.Size())
	return &pairCorpus{vocab: vocab, src: src, tgt: tgt}, nil
}

func (p *pairCorpus) Batch(rng *rand.Rand, size int) (src, tgt [][]int) {
	src = make([][]int, size)
	tgt = make([][]int, size)
	for i := range size {
		j := rng.IntN(len(p.src))
		src[i], tgt[i] = p.src[j], p.tgt[j]
	}
	return tokenizer.PadBatch(src), tokenizer.PadBatch(tgt)
}
