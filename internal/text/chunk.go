// Package text groups text into pieces that fit a token budget.
package text

import (
	"unicode"
	"unicode/utf8"
)

// Counter reports how many tokens text encodes to.
type Counter interface {
	Count(text string) (int, error)
}

// ChunkBySentence groups consecutive sentences into chunks of at most
// maxTokens tokens as measured by c. A sentence that alone exceeds maxTokens
// becomes its own chunk. If maxTokens is 0 or less, text is returned whole.
// Concatenating the chunks gives back text.
func ChunkBySentence(c Counter, text string, maxTokens int) ([]string, error) {
	if maxTokens <= 0 || text == "" {
		return []string{text}, nil
	}

	var (
		chunks  []string
		current string
	)
	for _, s := range SplitSentences(text) {
		if current == "" {
			current = s
			continue
		}
		// Counts are not additive across a boundary, so measure the joined text.
		n, err := c.Count(current + s)
		if err != nil {
			return nil, err
		}
		if n > maxTokens {
			chunks = append(chunks, current)
			current = s
		} else {
			current += s
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks, nil
}

// SplitSentences cuts text after each run of sentence terminators (., !, ?)
// that is followed by whitespace or the end of text. Whitespace after a
// terminator starts the next sentence, so the pieces concatenate back to text.
func SplitSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isTerminator(r) {
			continue
		}
		for i < len(text) && isTerminator(rune(text[i])) {
			i++
		}
		next, _ := utf8.DecodeRuneInString(text[i:])
		if i == len(text) || unicode.IsSpace(next) {
			sentences = append(sentences, text[start:i])
			start = i
		}
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }
