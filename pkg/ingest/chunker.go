package ingest

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	paragraphRe  = regexp.MustCompile(`\n\s*\n+`)
)

// splitParagraphs splits page text on blank lines.
func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range paragraphRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// sectionTitle returns the paragraph's first line when it looks like a
// heading: at most 80 runes, at least two words, and no terminal sentence
// punctuation.
func sectionTitle(para string) string {
	line, _, _ := strings.Cut(para, "\n")
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) == 0 || len(runes) > 80 {
		return ""
	}
	if len(strings.Fields(line)) < 2 {
		return ""
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?', ',', ';', ':':
		return ""
	}
	return line
}

// chunkText splits normalized text into chunks of at most size runes
// (plus a 20% allowance when a sentence boundary sits just past the
// target) with overlap runes of context carried between neighbors.
//
// Cuts prefer the latest sentence boundary within 20% of the target, then
// a sentence boundary shortly after the target, then the latest word
// boundary. A cut lands inside a word only when the window holds no
// whitespace at all.
func chunkText(text string, size, overlap int) []string {
	s := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if s == "" {
		return nil
	}

	runes := []rune(s)
	n := len(runes)

	var chunks []string
	start := 0

	for start < n {
		end := min(start+size, n)

		if end < n {
			end = findCut(runes, start, end, size/5)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= n {
			break
		}

		// Carry overlap into the next window, always making progress.
		nextStart := end - overlap
		if nextStart <= start {
			nextStart = start + 1
		}
		start = nextStart
	}

	return chunks
}

// findCut picks the cut position for a window ending at target.
func findCut(runes []rune, start, target, slack int) int {
	n := len(runes)

	// Latest sentence boundary within slack runes before the target.
	for j := target - 1; j > start && j >= target-slack; j-- {
		if isSentenceEnd(runes, j) {
			return j + 1
		}
	}

	// First sentence boundary within slack runes past the target.
	for j := target; j < n && j < target+slack; j++ {
		if isSentenceEnd(runes, j) {
			return j + 1
		}
	}

	// Latest word boundary anywhere in the window.
	for j := target - 1; j > start; j-- {
		if runes[j] == ' ' {
			return j
		}
	}

	// No whitespace at all: cut inside the word.
	return target
}

func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	return i+1 >= len(runes) || runes[i+1] == ' '
}
