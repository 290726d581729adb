package usecase

import (
	"sort"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

const defaultRerankTopK = 8

// rerankCandidates multiplies each fused score by the section weight of its
// passage and keeps the topK best. Sorting is stable: final desc, section
// weight desc, passage id asc.
func rerankCandidates(candidates []domain.FusedCandidate, topK int) []domain.RankedPassage {
	if topK <= 0 {
		topK = defaultRerankTopK
	}
	if len(candidates) == 0 {
		return []domain.RankedPassage{}
	}

	ranked := make([]domain.RankedPassage, 0, len(candidates))
	for _, candidate := range candidates {
		weight := candidate.Passage.Section.Weight()
		ranked = append(ranked, domain.RankedPassage{
			Passage:       candidate.Passage,
			Lexical:       candidate.Lexical,
			Vector:        candidate.Vector,
			Fused:         candidate.Fused,
			SectionWeight: weight,
			Final:         candidate.Fused * weight,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Final != ranked[j].Final {
			return ranked[i].Final > ranked[j].Final
		}
		if ranked[i].SectionWeight != ranked[j].SectionWeight {
			return ranked[i].SectionWeight > ranked[j].SectionWeight
		}
		return ranked[i].Passage.ID < ranked[j].Passage.ID
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}
