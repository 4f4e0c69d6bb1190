// Package tokenizer turns text into the dense token id sequences a Seq2Seq
// model consumes.
//
// A Tokenizer splits text into sub-word ids (TikToken wraps the OpenAI BPE
// encodings). Those ids range over a vocabulary far larger than a small
// translation model needs, so a Vocab remaps the sub-words seen in a corpus
// onto a compact range with reserved BOS, EOS and UNK ids:
//
//	tok, err := tokenizer.NewTikToken("cl100k_base")
//	...
//	vocab := tokenizer.BuildVocab(tok, corpus, 4096)
//	ids := vocab.Encode("Hello, world!") // [BOS, ..., EOS]
//	batch := tokenizer.PadBatch(seqs)    // right-padded with PadID
package tokenizer
