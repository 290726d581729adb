package ollama

import (
	"fmt"
	"strings"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// buildDraftPrompt renders the question and the numbered evidence blocks.
// The marker instructions mirror what the verifier checks afterwards: only
// numbers that appear in the evidence may be cited, and an unanswerable
// question should produce no markers at all.
func buildDraftPrompt(question string, evidence []domain.EvidenceItem) string {
	var blocks strings.Builder
	for _, item := range evidence {
		blocks.WriteString(renderEvidenceBlock(item))
	}

	return fmt.Sprintf(`You are a legal research assistant. Answer the question using only the
numbered evidence blocks below. Support every statement with a bracketed
marker such as [1] that names the evidence block it rests on. Never cite a
number that is not in the evidence. If the evidence does not answer the
question, reply with one short sentence and no markers.

Question:
%s

Evidence:
%s`, question, blocks.String())
}

func renderEvidenceBlock(item domain.EvidenceItem) string {
	passage := item.Passage
	header := fmt.Sprintf("[%d] %s", item.Index, passage.CaseName)
	if passage.Court != "" {
		header += ", " + passage.Court
	}
	if passage.Year != 0 {
		header += fmt.Sprintf(" (%d)", passage.Year)
	}
	if passage.Section != "" {
		header += " [" + string(passage.Section) + "]"
	}
	return header + "\n" + passage.Text + "\n\n"
}
