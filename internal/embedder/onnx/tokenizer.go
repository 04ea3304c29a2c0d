// Package onnx runs a BERT-style sentence embedding model (BGE, MiniLM)
// through ONNX Runtime. The runtime-backed model needs the onnx build tag;
// the tokenizer is always available.
package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
)

// Tokenizer is a WordPiece tokenizer read from a HuggingFace tokenizer.json.
type Tokenizer struct {
	vocab     map[string]int64
	cls       int64
	sep       int64
	unk       int64
	maxLength int
}

// Encoding is a fixed-length model input.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

func LoadTokenizer(path string, maxLength int) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tokenizer %s: %w", path, err)
	}

	return NewTokenizer(doc.Model.Vocab, maxLength)
}

func NewTokenizer(vocab map[string]int64, maxLength int) (*Tokenizer, error) {
	if maxLength < 3 {
		return nil, fmt.Errorf("max length %d leaves no room for tokens", maxLength)
	}

	t := &Tokenizer{vocab: vocab, maxLength: maxLength}
	for name, dst := range map[string]*int64{clsToken: &t.cls, sepToken: &t.sep, unkToken: &t.unk} {
		id, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", name)
		}
		*dst = id
	}

	return t, nil
}

// Encode produces [CLS] tokens... [SEP] padded to the max length.
func (t *Tokenizer) Encode(text string) Encoding {
	ids := make([]int64, t.maxLength)
	mask := make([]int64, t.maxLength)

	tokens := t.tokenize(text)
	if len(tokens) > t.maxLength-2 {
		tokens = tokens[:t.maxLength-2]
	}

	ids[0], mask[0] = t.cls, 1
	for i, id := range tokens {
		ids[i+1], mask[i+1] = id, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = t.sep, 1

	return Encoding{
		IDs:           ids,
		AttentionMask: mask,
		TypeIDs:       make([]int64, t.maxLength),
	}
}

func (t *Tokenizer) tokenize(text string) []int64 {
	var out []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		out = append(out, t.wordPiece(word)...)
	}
	return out
}

// splitWords splits on whitespace and isolates punctuation, as BERT's
// basic tokenizer does.
func splitWords(text string) []string {
	var (
		words   []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}

// wordPiece greedily matches the longest known prefix, continuing with
// ##-prefixed pieces. A word with an unmatchable piece becomes [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	runes := []rune(word)
	var pieces []int64

	for start := 0; start < len(runes); {
		end := len(runes)
		matched := false

		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				pieces = append(pieces, id)
				matched = true
				break
			}
			end--
		}

		if !matched {
			return []int64{t.unk}
		}
		start = end
	}

	return pieces
}
