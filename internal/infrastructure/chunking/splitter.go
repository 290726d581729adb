package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultMaxRunes = 900

// Reporter and party abbreviations whose trailing period never ends a
// sentence. Single uppercase initials ("F.", "U.", "J.") are handled
// separately.
var citationAbbreviations = map[string]bool{
	"v":    true,
	"no":   true,
	"co":   true,
	"inc":  true,
	"corp": true,
	"cir":  true,
	"dist": true,
	"supp": true,
	"rptr": true,
	"ed":   true,
	"art":  true,
	"sec":  true,
	"stat": true,
	"rev":  true,
	"ann":  true,
}

// Splitter breaks passage text into embeddable chunks along sentence
// boundaries. Periods inside citations ("F. Supp. 2d", "S.D.N.Y.") do not
// end a sentence, so a citation is never torn across two chunks.
type Splitter struct {
	MaxRunes         int
	OverlapSentences int
}

func NewSplitter(maxRunes, overlapSentences int) *Splitter {
	if maxRunes <= 0 {
		maxRunes = defaultMaxRunes
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	return &Splitter{
		MaxRunes:         maxRunes,
		OverlapSentences: overlapSentences,
	}
}

func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) <= s.MaxRunes {
		return []string{trimmed}
	}

	// Sentences longer than a whole chunk fall back to fixed windows.
	var pieces []string
	for _, sentence := range splitSentences(trimmed) {
		if utf8.RuneCountInString(sentence) > s.MaxRunes {
			pieces = append(pieces, windowSplit(sentence, s.MaxRunes)...)
			continue
		}
		pieces = append(pieces, sentence)
	}

	var chunks []string
	var seed []string
	i := 0
	for i < len(pieces) {
		current := append([]string{}, seed...)
		currentLen := joinedLen(current)
		added := 0
		for i < len(pieces) {
			n := utf8.RuneCountInString(pieces[i])
			sep := 0
			if currentLen > 0 {
				sep = 1
			}
			if currentLen+sep+n > s.MaxRunes {
				break
			}
			current = append(current, pieces[i])
			currentLen += sep + n
			added++
			i++
		}
		if added == 0 {
			// The overlap seed left no room; retry the piece without it.
			seed = nil
			continue
		}
		chunks = append(chunks, strings.Join(current, " "))
		seed = s.overlapTail(current)
	}
	return chunks
}

// overlapTail picks the sentences carried into the next chunk. The seed is
// capped at half the chunk budget so overlap cannot starve new content.
func (s *Splitter) overlapTail(chunk []string) []string {
	if s.OverlapSentences <= 0 {
		return nil
	}
	start := len(chunk) - s.OverlapSentences
	if start < 0 {
		start = 0
	}
	tail := chunk[start:]
	for len(tail) > 0 && joinedLen(tail) > s.MaxRunes/2 {
		tail = tail[1:]
	}
	if len(tail) == 0 {
		return nil
	}
	return append([]string{}, tail...)
}

func joinedLen(parts []string) int {
	if len(parts) == 0 {
		return 0
	}
	total := len(parts) - 1
	for _, part := range parts {
		total += utf8.RuneCountInString(part)
	}
	return total
}

func windowSplit(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '?', '!':
		default:
			continue
		}
		if !sentenceBoundary(runes, i) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// sentenceBoundary requires whitespace after the terminator and an
// uppercase, numeric or quoting opener for the next sentence.
func sentenceBoundary(runes []rune, i int) bool {
	j := i + 1
	if j < len(runes) && !unicode.IsSpace(runes[j]) {
		return false
	}
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j == len(runes) {
		return true
	}
	next := runes[j]
	if !unicode.IsUpper(next) && !unicode.IsDigit(next) && next != '[' && next != '(' && next != '"' {
		return false
	}
	if runes[i] != '.' {
		return true
	}
	return !abbreviationBefore(runes, i)
}

func abbreviationBefore(runes []rune, i int) bool {
	end := i
	start := end
	for start > 0 && (unicode.IsLetter(runes[start-1]) || unicode.IsDigit(runes[start-1])) {
		start--
	}
	if start == end {
		return false
	}
	word := runes[start:end]
	if len(word) == 1 && unicode.IsUpper(word[0]) {
		return true
	}
	return citationAbbreviations[strings.ToLower(string(word))]
}
