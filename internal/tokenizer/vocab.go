package tokenizer

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/graph"
)

// Reserved ids of every Vocab.
const (
	BOS = 0
	EOS = 1
	UNK = 2

	// PadID right-pads batches. Padding embeds as a zero row and is ignored
	// by the loss.
	PadID = graph.IgnoreTarget

	numReserved = 3
)

// Vocab maps the sub-word ids of a Tokenizer onto the dense range
// [0, Size()).
type Vocab struct {
	tok       Tokenizer
	toDense   map[int]int
	fromDense []int // dense id - numReserved → sub-word id
}

// BuildVocab keeps the maxSize-numReserved most frequent sub-words of corpus,
// ties broken by the smaller sub-word id. maxSize <= 0 keeps all of them.
func BuildVocab(tok Tokenizer, corpus []string, maxSize int) *Vocab {
	counts := make(map[int]int)
	for _, text := range corpus {
		for _, id := range tok.Encode(text) {
			counts[id]++
		}
	}
	ids := slices.SortedFunc(maps.Keys(counts), func(a, b int) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if maxSize > 0 && len(ids) > maxSize-numReserved {
		klog.V(1).Infof("vocab: keeping %d of %d sub-words", max(maxSize-numReserved, 0), len(ids))
		ids = ids[:max(maxSize-numReserved, 0)]
	}
	v := &Vocab{tok: tok, toDense: make(map[int]int, len(ids)), fromDense: ids}
	for i, id := range ids {
		v.toDense[id] = i + numReserved
	}
	return v
}

// Size is the number of dense ids, reserved ones included.
func (v *Vocab) Size() int { return len(v.fromDense) + numReserved }

// Encode returns BOS, the dense ids of text, then EOS. Sub-words outside the
// vocabulary map to UNK.
func (v *Vocab) Encode(text string) []int {
	sub := v.tok.Encode(text)
	ids := make([]int, 0, len(sub)+2)
	ids = append(ids, BOS)
	for _, id := range sub {
		dense, found := v.toDense[id]
		if !found {
			dense = UNK
		}
		ids = append(ids, dense)
	}
	return append(ids, EOS)
}

// Decode converts dense ids back to text, skipping reserved ids and padding.
func (v *Vocab) Decode(ids []int) string {
	sub := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= numReserved && id < v.Size() {
			sub = append(sub, v.fromDense[id-numReserved])
		}
	}
	return v.tok.Decode(sub)
}

// PadBatch right-pads seqs with PadID to the longest length. The input
// slices are not modified.
func PadBatch(seqs [][]int) [][]int {
	length := 0
	for _, s := range seqs {
		length = max(length, len(s))
	}
	out := make([][]int, len(seqs))
	for i, s := range seqs {
		row := make([]int, length)
		copy(row, s)
		for j := len(s); j < length; j++ {
			row[j] = PadID
		}
		out[i] = row
	}
	return out
}

// SplitPairs splits "source<TAB>target" lines into encoded pairs, skipping
// blank lines.
func (v *Vocab) SplitPairs(lines []string, sep string) (src, tgt [][]int, err error) {
	for n, line := range lines {
		if line == "" {
			continue
		}
		i := strings.Index(line, sep)
		if i < 0 {
			return nil, nil, errors.Errorf("line %d: missing separator %q", n+1, sep)
		}
		src = append(src, v.Encode(line[:i]))
		tgt = append(tgt, v.Encode(line[i+len(sep):]))
	}
	return src, tgt, nil
}
