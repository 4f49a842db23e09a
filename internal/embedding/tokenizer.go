package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Special token ids shared by BERT-style vocabularies.
const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabSize  = 30000
	vocabFirst = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// CodeTokenizer splits source text into identifier parts and maps each part to a
// hashed token id. It is vocabulary-free, so ids only need to be stable, not meaningful.
type CodeTokenizer struct{}

// Tokenize produces [CLS] tokens... [SEP] padded to maxTokens.
func (t *CodeTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, word := range SplitIdentifiers(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(vocabFirst + HashString(word)%(vocabSize-vocabFirst))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitIdentifiers lowercases text and splits it on punctuation, whitespace,
// underscores and camelCase boundaries: "parseHTTPRequest(x_y)" yields
// parse, http, request, x, y.
func SplitIdentifiers(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// HashString returns a deterministic 32-bit FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32())
}
