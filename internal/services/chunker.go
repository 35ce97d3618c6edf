package services

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type TextChunker interface {
	ChunkText(text string) []string
}

type textChunker struct {
	maxChunkSize int
	overlap      int
}

func NewTextChunker(maxChunkSize, overlap int) TextChunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChunkSize {
		overlap = maxChunkSize / 4
	}
	return &textChunker{maxChunkSize: maxChunkSize, overlap: overlap}
}

// ChunkText splits on paragraphs, then lines, then sentences, and finally cuts
// fixed rune windows out of anything still too long. Each chunk after the first
// starts with the tail of the previous one and stays within maxChunkSize.
func (tc *textChunker) ChunkText(text string) []string {
	var (
		chunks  []string
		current strings.Builder
		fresh   bool
	)

	// Room left for a single piece once the overlap and a separator are in place.
	limit := tc.maxChunkSize - tc.overlap - 2
	if limit < 1 {
		limit = 1
	}
	fits := func(s string) bool { return utf8.RuneCountInString(s) <= limit }

	flush := func() {
		if !fresh {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		current.WriteString(lastNRunes(chunks[len(chunks)-1], tc.overlap))
		fresh = false
	}

	add := func(piece, sep string) {
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(piece)+len(sep) > tc.maxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
		fresh = true
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if fits(para) {
			add(para, "\n\n")
			continue
		}

		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if fits(line) {
				add(line, "\n")
				continue
			}

			for _, sentence := range splitIntoSentences(line) {
				if fits(sentence) {
					add(sentence, " ")
					continue
				}
				for i, window := range splitRunes(sentence, limit) {
					sep := ""
					if i == 0 {
						sep = " "
					}
					add(window, sep)
				}
			}
		}
	}

	if fresh {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitIntoSentences ends a sentence at . ! or ? followed by whitespace, so
// decimals and abbreviations inside a token stay intact. Punctuation is kept.
func splitIntoSentences(text string) []string {
	var (
		result []string
		start  int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			result = append(result, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		result = append(result, s)
	}
	return result
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func lastNRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= n {
		return text
	}

	return string(runes[len(runes)-n:])
}
