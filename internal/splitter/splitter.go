// Package splitter breaks long outbound text into chunks that fit a chat
// platform's per-message size limit. Splitting is lossless and
// order-preserving: concatenating the chunks reproduces the input exactly.
package splitter

import (
	"strings"
	"unicode/utf8"
)

// DefaultMessageLimit is the platform-typical per-message character limit.
const DefaultMessageLimit = 4096

// separators, strongest semantic boundary first. When none applies the text
// is cut by raw length.
var separators = []string{
	"\n\n",
	"\n",
	". ",
	"! ",
	"? ",
	", ",
	" ",
}

// Split returns an ordered sequence of chunks, each shorter than limit,
// cut at the strongest boundary available. A single indivisible run longer
// than the limit is force-cut to limit-1. Adjacent pieces are greedily
// recombined left to right to minimize the number of messages.
//
// Lengths are measured in characters, and cuts land on character
// boundaries; a multibyte character is never split across chunks.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 1 {
		limit = 2
	}
	return combine(split(text, limit, separators), limit)
}

func split(text string, limit int, seps []string) []string {
	if len(seps) == 0 {
		return cut(text, limit-1)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	// Keep the separator attached to the preceding piece so that
	// concatenation stays exact.
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += sep
	}

	var result []string
	for _, part := range parts {
		if utf8.RuneCountInString(part) < limit {
			result = append(result, part)
			continue
		}
		result = append(result, split(part, limit, seps[1:])...)
	}
	return result
}

func cut(text string, size int) []string {
	var chunks []string
	for {
		idx := runeIndex(text, size)
		if idx >= len(text) {
			break
		}
		chunks = append(chunks, text[:idx])
		text = text[idx:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// runeIndex returns the byte offset just after the n-th character, or
// len(s) when s has fewer characters.
func runeIndex(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return i
}

func combine(parts []string, limit int) []string {
	if len(parts) == 0 {
		return nil
	}
	result := []string{parts[0]}
	for _, part := range parts[1:] {
		last := result[len(result)-1]
		if utf8.RuneCountInString(last)+utf8.RuneCountInString(part) < limit {
			result[len(result)-1] = last + part
		} else {
			result = append(result, part)
		}
	}
	return result
}
