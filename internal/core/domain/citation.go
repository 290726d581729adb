package domain

import "fmt"

type Treatment string

const (
	TreatmentFollowed      Treatment = "followed"
	TreatmentOverruled     Treatment = "overruled"
	TreatmentDistinguished Treatment = "distinguished"
	TreatmentCited         Treatment = "cited"
)

// Citation is a resolved reporter citation. Reporter holds the canonical
// form (lowercase, dots and spaces stripped), so equal keys mean the same
// decision regardless of how the source text spelled the reporter.
type Citation struct {
	Raw      string `json:"raw"`
	CaseName string `json:"case_name,omitempty"`
	Volume   int    `json:"volume"`
	Reporter string `json:"reporter"`
	Page     int    `json:"page"`
	Court    string `json:"court,omitempty"`
	Year     int    `json:"year,omitempty"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Key is the canonical node identity "<volume> <reporter> <page>".
func (c Citation) Key() string {
	return fmt.Sprintf("%d %s %d", c.Volume, c.Reporter, c.Page)
}

// TreatmentMention is a classified citation occurrence inside one passage.
type TreatmentMention struct {
	Citation   Citation  `json:"citation"`
	Treatment  Treatment `json:"treatment"`
	Confidence float64   `json:"confidence"`
	Signal     string    `json:"signal,omitempty"`
}

// AnswerCitation links an inline [n] marker in a grounded answer back to the
// evidence passage it cites.
type AnswerCitation struct {
	Marker    int     `json:"marker"`
	PassageID string  `json:"passage_id"`
	CaseID    string  `json:"case_id"`
	CaseName  string  `json:"case_name"`
	Section   Section `json:"section"`
}
