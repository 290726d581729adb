package usecase

import (
	"strings"
	"testing"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

func extractSingleCitation(t *testing.T, text string) domain.Citation {
	t.Helper()
	citations := NewCiteExtractor(nil, nil).Extract(text)
	if len(citations) != 1 {
		t.Fatalf("expected exactly 1 citation in fixture, got %d", len(citations))
	}
	return citations[0]
}

func TestClassifyOverruledSignal(t *testing.T) {
	text := "We conclude that Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), was overruled by the en banc court."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentOverruled {
		t.Fatalf("expected overruled, got %s (confidence %f)", mention.Treatment, mention.Confidence)
	}
	if mention.Confidence < 0.6 || mention.Confidence > 0.95 {
		t.Fatalf("confidence out of range: %f", mention.Confidence)
	}
	if mention.Citation.Key() != "123 f3d 456" {
		t.Fatalf("unexpected citation key %q", mention.Citation.Key())
	}
}

func TestClassifyNoLongerGoodLawPhrase(t *testing.T) {
	text := "Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), is no longer good law in this circuit."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentOverruled {
		t.Fatalf("expected overruled, got %s", mention.Treatment)
	}
	if mention.Signal != "no longer good law" {
		t.Fatalf("unexpected signal %q", mention.Signal)
	}
}

func TestClassifyDistinguishedSignal(t *testing.T) {
	text := "The panel distinguished Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), on its facts."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentDistinguished {
		t.Fatalf("expected distinguished, got %s", mention.Treatment)
	}
}

func TestClassifyFollowedSignal(t *testing.T) {
	text := "We follow Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), and affirm."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentFollowed {
		t.Fatalf("expected followed, got %s", mention.Treatment)
	}
}

func TestClassifyNoSignalIsCited(t *testing.T) {
	text := "The complaint references Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), in passing."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentCited {
		t.Fatalf("expected cited, got %s", mention.Treatment)
	}
	if mention.Confidence != baselineCitedConfidence {
		t.Fatalf("expected baseline confidence %f, got %f", baselineCitedConfidence, mention.Confidence)
	}
	if mention.Signal != "" {
		t.Fatalf("expected no signal, got %q", mention.Signal)
	}
}

func TestClassifyDistantSignalDowngradesToCited(t *testing.T) {
	filler := strings.TrimSpace(strings.Repeat("the de novo rule ", 9))
	text := "Smith v. Jones, 123 F.3d 456 (9th Cir. 2019). " + filler + " The district court followed that approach."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentCited {
		t.Fatalf("expected downgrade to cited, got %s", mention.Treatment)
	}
	// The decayed signal confidence is kept on the downgraded mention.
	if mention.Confidence >= 0.6 {
		t.Fatalf("expected confidence below threshold, got %f", mention.Confidence)
	}
	if mention.Signal != "follow" {
		t.Fatalf("expected follow signal recorded, got %q", mention.Signal)
	}
}

func TestClassifyNearerSignalWins(t *testing.T) {
	text := "Although earlier panels followed it, we now overrule Smith v. Jones, 123 F.3d 456 (9th Cir. 2019)."
	cite := extractSingleCitation(t, text)

	mention := NewTreatmentClassifier(0.6, nil).Classify(text, cite)
	if mention.Treatment != domain.TreatmentOverruled {
		t.Fatalf("expected overruled to win, got %s", mention.Treatment)
	}
}
