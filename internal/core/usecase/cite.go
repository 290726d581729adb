package usecase

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// Party names are runs of capitalized words with a few lowercase
// connectors, which keeps surrounding sentence words out of the capture.
const (
	citeNameWord      = `[A-Z0-9][A-Za-z0-9.'&\-]*`
	citeNameConnector = `(?:of|the|ex|rel\.?|for|and|in|re|de|la)`
	citeParty         = citeNameWord + `(?:\s+(?:` + citeNameWord + `|` + citeNameConnector + `))*`
)

var (
	// Smith v. Jones, 123 F.3d 456 (9th Cir. 2019)
	fullCitePattern = regexp.MustCompile(
		`(` + citeParty + `\s+[vV]\.?\s+` + citeParty + `),\s+` +
			`(\d{1,4})\s+([A-Z][A-Za-z0-9. ']{0,30}?)\s+(\d{1,5})\b` +
			`(?:\s*\(([^)]*?)\s*(\d{4})\))?`)
	// Smith, 123 F.3d at 456
	shortCitePattern = regexp.MustCompile(
		`([A-Z][A-Za-z0-9.'&\-]+),\s+(\d{1,4})\s+([A-Z][A-Za-z0-9. ']{0,30}?)\s+at\s+(\d{1,5})\b`)
	// 123 F.3d 456 with no case name in front
	bareCitePattern = regexp.MustCompile(
		`\b(\d{1,4})\s+([A-Z][A-Za-z0-9. ']{0,30}?)\s+(\d{1,5})\b`)
	// 42 U.S.C. § 1983 and friends; statutes are not case nodes
	statutePattern = regexp.MustCompile(
		`\b\d{1,4}\s+[A-Z][A-Za-z. ]{0,30}?§+\s*[\d.]+|\b\d{1,4}\s+U\.? ?S\.? ?C\.?`)
)

// builtinReporterAliases maps mechanically normalized reporter spellings
// (lowercase, dots and spaces stripped) to their canonical form. Rows from
// the citation_aliases table extend this set.
func builtinReporterAliases() map[string]string {
	return map[string]string{
		"us":        "us",
		"sct":       "sct",
		"led":       "led",
		"led2d":     "led2d",
		"f":         "f",
		"f2d":       "f2d",
		"f3d":       "f3d",
		"f4th":      "f4th",
		"fsupp":     "fsupp",
		"fsupp2d":   "fsupp2d",
		"fsupp3d":   "fsupp3d",
		"frd":       "frd",
		"br":        "br",
		"a":         "a",
		"a2d":       "a2d",
		"a3d":       "a3d",
		"p":         "p",
		"p2d":       "p2d",
		"p3d":       "p3d",
		"ne":        "ne",
		"ne2d":      "ne2d",
		"ne3d":      "ne3d",
		"nw":        "nw",
		"nw2d":      "nw2d",
		"se":        "se",
		"se2d":      "se2d",
		"sw":        "sw",
		"sw2d":      "sw2d",
		"sw3d":      "sw3d",
		"so":        "so",
		"so2d":      "so2d",
		"so3d":      "so3d",
		"calrptr":   "calrptr",
		"calrptr2d": "calrptr2d",
		"calrptr3d": "calrptr3d",
		"nys2d":     "nys2d",
		"nys3d":     "nys3d",
		"wl":        "wl",
	}
}

// citeStopWords are signal and connector words that precede a case name in
// running text and get absorbed by the party pattern when capitalized.
var citeStopWords = map[string]bool{
	"see": true, "compare": true, "cf": true, "accord": true, "contra": true,
	"but": true, "citing": true, "quoting": true, "under": true, "in": true,
	"eg": true, "also": true, "id": true, "the": true, "per": true,
}

// trimCiteStopWords strips leading stop words from a captured case name.
// A stop word directly before "v." is a real party name (See v. Seattle)
// and stays.
func trimCiteStopWords(name string) string {
	words := strings.Fields(name)
	for len(words) > 2 {
		first := strings.Trim(strings.ToLower(words[0]), ".,")
		second := strings.ToLower(words[1])
		if !citeStopWords[first] || second == "v." || second == "v" {
			break
		}
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// normalizeReporterKey lowers the reporter spelling and strips dots and
// spaces, so "F.3d", "F. 3d" and "F3d" land on the same lookup key.
func normalizeReporterKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if r == '.' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type CiteExtractor struct {
	aliases map[string]string
	logger  *slog.Logger
}

// NewCiteExtractor builds an extractor over the built-in reporter table
// extended by extraAliases (raw spelling -> canonical reporter).
func NewCiteExtractor(extraAliases map[string]string, logger *slog.Logger) *CiteExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	aliases := builtinReporterAliases()
	for raw, canonical := range extraAliases {
		key := normalizeReporterKey(raw)
		if key == "" || canonical == "" {
			continue
		}
		aliases[key] = strings.TrimSpace(canonical)
	}
	return &CiteExtractor{aliases: aliases, logger: logger}
}

// Extract finds reporter citations in text, in order of appearance. Statute
// references are skipped and unresolvable references are dropped with a
// warning; neither ever fails the pipeline.
func (e *CiteExtractor) Extract(text string) []domain.Citation {
	if strings.TrimSpace(text) == "" {
		return []domain.Citation{}
	}

	statuteSpans := statutePattern.FindAllStringIndex(text, -1)
	for _, span := range statuteSpans {
		e.logger.Debug("statute_reference_skipped", "raw", text[span[0]:span[1]])
	}

	citations := make([]domain.Citation, 0, 4)
	taken := make([][2]int, 0, 8)
	taken = appendSpans(taken, statuteSpans)

	for _, m := range fullCitePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(taken, m[0], m[1]) {
			continue
		}
		// Dropped spans still count as consumed so the bare pass does
		// not re-report them.
		taken = append(taken, [2]int{m[0], m[1]})
		cite, ok := e.buildCitation(text, m)
		if !ok {
			continue
		}
		citations = append(citations, cite)
	}

	for _, m := range shortCitePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(taken, m[0], m[1]) {
			continue
		}
		taken = append(taken, [2]int{m[0], m[1]})
		cite, ok := e.resolveShortCitation(text, m, citations)
		if !ok {
			continue
		}
		citations = append(citations, cite)
	}

	for _, m := range bareCitePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(taken, m[0], m[1]) {
			continue
		}
		raw := text[m[0]:m[1]]
		volume, page, ok := parseVolumePage(text[m[2]:m[3]], text[m[6]:m[7]])
		if !ok {
			e.dropCitation(raw, "malformed volume or page")
			continue
		}
		reporter, ok := e.resolveReporter(text[m[4]:m[5]])
		if !ok {
			// Bare triples have no case-name anchor, so unknown
			// reporters here are usually not citations at all.
			e.logger.Debug("bare_reference_skipped", "raw", raw)
			continue
		}
		citations = append(citations, domain.Citation{
			Raw:      raw,
			Volume:   volume,
			Reporter: reporter,
			Page:     page,
			Start:    m[0],
			End:      m[1],
		})
		taken = append(taken, [2]int{m[0], m[1]})
	}

	sortCitationsBySpan(citations)
	return citations
}

func (e *CiteExtractor) buildCitation(text string, m []int) (domain.Citation, bool) {
	raw := text[m[0]:m[1]]
	volume, page, ok := parseVolumePage(text[m[4]:m[5]], text[m[8]:m[9]])
	if !ok {
		e.dropCitation(raw, "malformed volume or page")
		return domain.Citation{}, false
	}
	reporter, ok := e.resolveReporter(text[m[6]:m[7]])
	if !ok {
		e.dropCitation(raw, "unknown reporter "+strings.TrimSpace(text[m[6]:m[7]]))
		return domain.Citation{}, false
	}

	cite := domain.Citation{
		Raw:      raw,
		CaseName: trimCiteStopWords(strings.TrimSpace(text[m[2]:m[3]])),
		Volume:   volume,
		Reporter: reporter,
		Page:     page,
		Start:    m[0],
		End:      m[1],
	}
	if m[10] >= 0 {
		cite.Court = strings.Trim(strings.TrimSpace(text[m[10]:m[11]]), ",")
	}
	if m[12] >= 0 {
		cite.Year, _ = strconv.Atoi(text[m[12]:m[13]])
	}
	return cite, true
}

// resolveShortCitation matches "Smith, 123 F.3d at 456" against an earlier
// full citation with the same volume and reporter; the canonical key keeps
// the first page of the decision, not the pincite.
func (e *CiteExtractor) resolveShortCitation(text string, m []int, earlier []domain.Citation) (domain.Citation, bool) {
	raw := text[m[0]:m[1]]
	volume, _, ok := parseVolumePage(text[m[4]:m[5]], text[m[8]:m[9]])
	if !ok {
		e.dropCitation(raw, "malformed volume or page")
		return domain.Citation{}, false
	}
	reporter, ok := e.resolveReporter(text[m[6]:m[7]])
	if !ok {
		e.dropCitation(raw, "unknown reporter "+strings.TrimSpace(text[m[6]:m[7]]))
		return domain.Citation{}, false
	}

	for _, full := range earlier {
		if full.Volume == volume && full.Reporter == reporter {
			return domain.Citation{
				Raw:      raw,
				CaseName: full.CaseName,
				Volume:   full.Volume,
				Reporter: full.Reporter,
				Page:     full.Page,
				Court:    full.Court,
				Year:     full.Year,
				Start:    m[0],
				End:      m[1],
			}, true
		}
	}
	e.dropCitation(raw, "short form with no matching full citation")
	return domain.Citation{}, false
}

func (e *CiteExtractor) resolveReporter(raw string) (string, bool) {
	canonical, ok := e.aliases[normalizeReporterKey(raw)]
	return canonical, ok
}

func (e *CiteExtractor) dropCitation(raw, cause string) {
	e.logger.Warn("citation_dropped",
		"kind", domain.ErrUnresolvableCitation.Error(),
		"raw", strings.TrimSpace(raw),
		"cause", cause,
	)
}

func parseVolumePage(volumeRaw, pageRaw string) (int, int, bool) {
	volume, err := strconv.Atoi(volumeRaw)
	if err != nil || volume <= 0 {
		return 0, 0, false
	}
	page, err := strconv.Atoi(pageRaw)
	if err != nil || page <= 0 {
		return 0, 0, false
	}
	return volume, page, true
}

func appendSpans(taken [][2]int, spans [][]int) [][2]int {
	for _, span := range spans {
		taken = append(taken, [2]int{span[0], span[1]})
	}
	return taken
}

func overlapsAny(taken [][2]int, start, end int) bool {
	for _, span := range taken {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func sortCitationsBySpan(citations []domain.Citation) {
	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Start < citations[j].Start
	})
}
