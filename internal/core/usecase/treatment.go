package usecase

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

const (
	defaultTreatmentThreshold = 0.6
	treatmentWindowRunes      = 240
	treatmentMaxTokenDist     = 30
	// distance decay takes up to 30% off the signal strength
	treatmentDistancePenalty = 0.3
	baselineCitedConfidence  = 0.5
)

type treatmentSignal struct {
	// stem matches token prefixes; phrase matches the window verbatim
	stem      string
	phrase    string
	treatment domain.Treatment
	strength  float64
}

// treatmentSignals is ordered strongest-first inside each group; the
// classifier keeps the candidate with the highest decayed confidence and
// breaks ties by group severity (overruled, distinguished, followed).
var treatmentSignals = []treatmentSignal{
	{phrase: "no longer good law", treatment: domain.TreatmentOverruled, strength: 0.95},
	{stem: "overrul", treatment: domain.TreatmentOverruled, strength: 0.95},
	{stem: "abrogat", treatment: domain.TreatmentOverruled, strength: 0.9},
	{phrase: "limited to its facts", treatment: domain.TreatmentDistinguished, strength: 0.85},
	{stem: "distinguish", treatment: domain.TreatmentDistinguished, strength: 0.85},
	{stem: "reaffirm", treatment: domain.TreatmentFollowed, strength: 0.85},
	{stem: "follow", treatment: domain.TreatmentFollowed, strength: 0.8},
	{stem: "adopt", treatment: domain.TreatmentFollowed, strength: 0.8},
}

func treatmentSeverity(t domain.Treatment) int {
	switch t {
	case domain.TreatmentOverruled:
		return 3
	case domain.TreatmentDistinguished:
		return 2
	case domain.TreatmentFollowed:
		return 1
	default:
		return 0
	}
}

type TreatmentClassifier struct {
	threshold float64
	logger    *slog.Logger
}

func NewTreatmentClassifier(threshold float64, logger *slog.Logger) *TreatmentClassifier {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultTreatmentThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TreatmentClassifier{threshold: threshold, logger: logger}
}

// Classify scans a window around the citation span for treatment signal
// words. Confidence is the signal strength decayed by token distance from
// the span; without a signal the citation is plain "cited" at baseline
// confidence. Signals landing below the threshold downgrade to "cited" but
// keep their confidence.
func (c *TreatmentClassifier) Classify(passageText string, cite domain.Citation) domain.TreatmentMention {
	mention := domain.TreatmentMention{
		Citation:   cite,
		Treatment:  domain.TreatmentCited,
		Confidence: baselineCitedConfidence,
	}

	window, citeStart, citeEnd := citationWindow(passageText, cite)
	if window == "" {
		return mention
	}
	tokens := tokenizeWithOffsets(window)
	if len(tokens) == 0 {
		return mention
	}

	best, found := c.strongestSignal(window, tokens, citeStart, citeEnd)
	if !found {
		return mention
	}

	mention.Signal = best.signal
	mention.Confidence = best.confidence
	if best.confidence < c.threshold {
		c.logger.Warn("treatment_downgraded",
			"kind", domain.ErrLowConfidenceTreatment.Error(),
			"cited", cite.Key(),
			"signal", best.signal,
			"treatment", string(best.treatment),
			"confidence", best.confidence,
			"threshold", c.threshold,
		)
		return mention
	}

	mention.Treatment = best.treatment
	return mention
}

type signalCandidate struct {
	signal     string
	treatment  domain.Treatment
	confidence float64
}

func (c *TreatmentClassifier) strongestSignal(window string, tokens []offsetToken, citeStart, citeEnd int) (signalCandidate, bool) {
	lower := strings.ToLower(window)
	var best signalCandidate
	found := false

	consider := func(candidate signalCandidate) {
		if !found ||
			candidate.confidence > best.confidence ||
			(candidate.confidence == best.confidence &&
				treatmentSeverity(candidate.treatment) > treatmentSeverity(best.treatment)) {
			best = candidate
			found = true
		}
	}

	for _, signal := range treatmentSignals {
		if signal.phrase != "" {
			at := strings.Index(lower, signal.phrase)
			for at >= 0 {
				dist := tokenDistance(tokens, at, citeStart, citeEnd)
				consider(signalCandidate{
					signal:     signal.phrase,
					treatment:  signal.treatment,
					confidence: decayConfidence(signal.strength, dist),
				})
				next := strings.Index(lower[at+1:], signal.phrase)
				if next < 0 {
					break
				}
				at += 1 + next
			}
			continue
		}
		for _, token := range tokens {
			if !strings.HasPrefix(token.text, signal.stem) {
				continue
			}
			dist := tokenDistance(tokens, token.start, citeStart, citeEnd)
			consider(signalCandidate{
				signal:     signal.stem,
				treatment:  signal.treatment,
				confidence: decayConfidence(signal.strength, dist),
			})
		}
	}
	return best, found
}

// citationWindow clips the passage to treatmentWindowRunes on each side of
// the citation span and returns the span offsets inside the window.
func citationWindow(text string, cite domain.Citation) (string, int, int) {
	if text == "" {
		return "", 0, 0
	}
	start := cite.Start
	end := cite.End
	if start < 0 || end > len(text) || start >= end {
		return text, 0, len(text)
	}

	windowStart := start - treatmentWindowRunes
	if windowStart < 0 {
		windowStart = 0
	}
	windowEnd := end + treatmentWindowRunes
	if windowEnd > len(text) {
		windowEnd = len(text)
	}
	return text[windowStart:windowEnd], start - windowStart, end - windowStart
}

type offsetToken struct {
	text  string
	start int
}

func tokenizeWithOffsets(s string) []offsetToken {
	tokens := make([]offsetToken, 0, 32)
	var b strings.Builder
	tokenStart := -1
	for i, r := range s {
		lower := unicode.ToLower(r)
		if (lower >= 'a' && lower <= 'z') || (lower >= '0' && lower <= '9') {
			if tokenStart < 0 {
				tokenStart = i
			}
			b.WriteRune(lower)
			continue
		}
		if tokenStart >= 0 {
			tokens = append(tokens, offsetToken{text: b.String(), start: tokenStart})
			b.Reset()
			tokenStart = -1
		}
	}
	if tokenStart >= 0 {
		tokens = append(tokens, offsetToken{text: b.String(), start: tokenStart})
	}
	return tokens
}

// tokenDistance counts tokens between a signal offset and the citation
// span; signals inside the span are distance 0.
func tokenDistance(tokens []offsetToken, signalOffset, citeStart, citeEnd int) int {
	if signalOffset >= citeStart && signalOffset < citeEnd {
		return 0
	}
	distance := 0
	if signalOffset < citeStart {
		for _, token := range tokens {
			if token.start > signalOffset && token.start < citeStart {
				distance++
			}
		}
		return distance
	}
	for _, token := range tokens {
		if token.start >= citeEnd && token.start < signalOffset {
			distance++
		}
	}
	return distance
}

func decayConfidence(strength float64, tokenDist int) float64 {
	if tokenDist > treatmentMaxTokenDist {
		tokenDist = treatmentMaxTokenDist
	}
	decay := 1 - treatmentDistancePenalty*float64(tokenDist)/float64(treatmentMaxTokenDist)
	return strength * decay
}
