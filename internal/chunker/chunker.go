// Package chunker splits cleaned page text into overlapping, sentence-aligned
// chunks bounded by a token budget. Pure functions, no dependencies; the same
// input always yields the same chunk sequence.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// One token is approximated as four characters of English text.
const charsPerToken = 4

// How far around the naive cut we look for a sentence ending, and how far
// past the target a sentence ending may land and still be accepted.
const (
	boundaryLookback  = 200
	boundaryLookahead = 100
	boundarySlack     = 50
)

// Chunk is one bounded span of page text, the unit of embedding and
// retrieval.
type Chunk struct {
	Content string
	Index   int
}

var (
	spaceRuns = regexp.MustCompile(`[ \t\r\f]+`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses whitespace runs and excess blank lines.
func Normalize(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split chunks text into windows of roughly targetTokens tokens with
// overlapTokens of overlap between consecutive chunks. Windows are cut at
// sentence boundaries where one lies close enough to the naive cut, then at
// word boundaries, then hard.
func Split(text string, targetTokens, overlapTokens int) []Chunk {
	cleaned := Normalize(text)
	if cleaned == "" {
		return nil
	}

	targetChars := targetTokens * charsPerToken
	overlapChars := overlapTokens * charsPerToken
	if targetChars <= 0 {
		return nil
	}

	if len(cleaned) <= targetChars {
		return []Chunk{{Content: cleaned, Index: 0}}
	}

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(cleaned) {
		end := start + targetChars
		if end >= len(cleaned) {
			end = len(cleaned)
		} else {
			end = findBoundary(cleaned, start, end)
		}

		content := strings.TrimSpace(cleaned[start:end])
		if content != "" {
			chunks = append(chunks, Chunk{Content: content, Index: index})
			index++
		}

		if end >= len(cleaned) {
			break
		}

		next := end - overlapChars
		if next <= start {
			// Overlap would rewind past the current window; skip it rather
			// than re-emit the same span.
			next = end
		}
		start = next
	}

	return chunks
}

// findBoundary picks the cut position for a window ending nominally at
// target. Prefers the last sentence ending within the search window that
// does not overshoot target by more than the slack; falls back to the last
// word boundary before target; hard-cuts otherwise.
func findBoundary(text string, start, target int) int {
	searchStart := target - boundaryLookback
	if searchStart < start {
		searchStart = start
	}
	searchEnd := target + boundaryLookahead
	if searchEnd > len(text) {
		searchEnd = len(text)
	}

	best := -1
	for i := searchStart; i < searchEnd-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(text[i+1]) {
			if i+1 <= target+boundarySlack {
				best = i + 1
			}
		}
	}
	if best > start {
		return best
	}

	if word := strings.LastIndexByte(text[:target], ' '); word > start {
		return word
	}

	// Hard cut; back up to a rune start so multi-byte text never splits.
	for target > start && !utf8.RuneStart(text[target]) {
		target--
	}
	return target
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t'
}
