package usecase

import (
	"testing"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

func TestExtractFullCitation(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	citations := extractor.Extract("The court relied on Smith v. Jones, 123 F.3d 456 (9th Cir. 2019) throughout.")
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	cite := citations[0]
	if cite.CaseName != "Smith v. Jones" {
		t.Fatalf("unexpected case name %q", cite.CaseName)
	}
	if cite.Volume != 123 || cite.Reporter != "f3d" || cite.Page != 456 {
		t.Fatalf("unexpected fields: volume=%d reporter=%q page=%d", cite.Volume, cite.Reporter, cite.Page)
	}
	if cite.Court != "9th Cir." || cite.Year != 2019 {
		t.Fatalf("unexpected parenthetical: court=%q year=%d", cite.Court, cite.Year)
	}
	if cite.Key() != "123 f3d 456" {
		t.Fatalf("unexpected key %q", cite.Key())
	}
}

func TestExtractCanonicalizesReporterSpellings(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	texts := []string{
		"Smith v. Jones, 123 F.3d 456 (2019) controls.",
		"Smith v. Jones, 123 F. 3d 456 (2019) controls.",
		"Smith v. Jones, 123 F3d 456 (2019) controls.",
	}
	for _, text := range texts {
		citations := extractor.Extract(text)
		if len(citations) != 1 {
			t.Fatalf("%q: expected 1 citation, got %d", text, len(citations))
		}
		if citations[0].Key() != "123 f3d 456" {
			t.Fatalf("%q: expected key %q, got %q", text, "123 f3d 456", citations[0].Key())
		}
	}
}

func TestExtractShortFormResolvesAgainstFullCite(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	text := "Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), controls here. " +
		"As Smith, 123 F.3d at 460 explains, the duty attaches on delivery."
	citations := extractor.Extract(text)
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	short := citations[1]
	if short.Page != 456 {
		t.Fatalf("short form must keep the first page of the decision, got %d", short.Page)
	}
	if short.Key() != citations[0].Key() {
		t.Fatalf("short form key %q differs from full cite key %q", short.Key(), citations[0].Key())
	}
	if short.CaseName != "Smith v. Jones" {
		t.Fatalf("short form did not inherit case name, got %q", short.CaseName)
	}
}

func TestExtractDropsUnknownReporter(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	citations := extractor.Extract("Doe v. Roe, 12 Wombat 34 (2001) is not a real reporter.")
	if len(citations) != 0 {
		t.Fatalf("expected unresolvable citation to be dropped, got %d", len(citations))
	}
}

func TestExtractExtraAliasesResolve(t *testing.T) {
	extractor := NewCiteExtractor(map[string]string{"Wombat": "wombat"}, nil)

	citations := extractor.Extract("Doe v. Roe, 12 Wombat 34 (2001) resolves with the extra row.")
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation via extra alias, got %d", len(citations))
	}
	if citations[0].Key() != "12 wombat 34" {
		t.Fatalf("unexpected key %q", citations[0].Key())
	}
}

func TestExtractSkipsStatutes(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	text := "Plaintiff sued under 42 U.S.C. § 1983, citing Smith v. Jones, 123 F.3d 456 (2019)."
	citations := extractor.Extract(text)
	if len(citations) != 1 {
		t.Fatalf("expected only the case citation, got %d", len(citations))
	}
	if citations[0].Key() != "123 f3d 456" {
		t.Fatalf("unexpected key %q", citations[0].Key())
	}
}

func TestExtractBareCitation(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	citations := extractor.Extract("See 304 U.S. 144 for the famous footnote.")
	if len(citations) != 1 {
		t.Fatalf("expected 1 bare citation, got %d", len(citations))
	}
	if citations[0].Key() != "304 us 144" {
		t.Fatalf("unexpected key %q", citations[0].Key())
	}
	if citations[0].CaseName != "" {
		t.Fatalf("bare citation should have no case name, got %q", citations[0].CaseName)
	}
}

func TestExtractOrdersBySpan(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)

	text := "Compare Brown v. Board of Education, 347 U.S. 483 (1954) with " +
		"Plessy v. Ferguson, 163 U.S. 537 (1896)."
	citations := extractor.Extract(text)
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].Key() != "347 us 483" || citations[1].Key() != "163 us 537" {
		t.Fatalf("unexpected order: %q, %q", citations[0].Key(), citations[1].Key())
	}
	if citations[0].Start >= citations[1].Start {
		t.Fatalf("citations not ordered by span: %d >= %d", citations[0].Start, citations[1].Start)
	}
	if citations[0].CaseName != "Brown v. Board of Education" {
		t.Fatalf("connector words lost from case name: %q", citations[0].CaseName)
	}
}

func TestExtractEmptyTextIsEmpty(t *testing.T) {
	extractor := NewCiteExtractor(nil, nil)
	if got := extractor.Extract("   "); len(got) != 0 {
		t.Fatalf("expected no citations, got %d", len(got))
	}
}

func TestNormalizeReporterKey(t *testing.T) {
	cases := map[string]string{
		"F.3d":   "f3d",
		"F. 3d":  "f3d",
		"F3d":    "f3d",
		"U.S.":   "us",
		"S. Ct.": "sct",
	}
	for raw, want := range cases {
		if got := normalizeReporterKey(raw); got != want {
			t.Fatalf("normalizeReporterKey(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCitationKeyFormat(t *testing.T) {
	cite := domain.Citation{Volume: 347, Reporter: "us", Page: 483}
	if cite.Key() != "347 us 483" {
		t.Fatalf("unexpected key %q", cite.Key())
	}
}
