package consensus

import (
	"cmp"
	"slices"
)

// Aggregate combines rankings into one consensus order over models.
//
// Each label is resolved to its model through mapping and scored by its
// 0-based position. A model's AverageRank is taken over only the rankings
// that mention it; rankings that leave it out contribute nothing. Labels
// the mapping does not know are ignored. Ties on AverageRank fall back to
// Score and then to the model identifier, so the result never depends on
// map iteration order.
func Aggregate(rankings []Ranking, mapping *LabelMapping) AggregateRanking {
	byModel := make(map[string]*AggregateEntry)
	for _, r := range rankings {
		for pos, label := range r.Labels {
			model, ok := mapping.Model(label)
			if !ok {
				continue
			}
			e, ok := byModel[model]
			if !ok {
				e = &AggregateEntry{Model: model}
				byModel[model] = e
			}
			e.Score += pos
			e.Positions = append(e.Positions, pos)
			e.RankingsCount++
		}
	}

	out := make(AggregateRanking, 0, len(byModel))
	for _, e := range byModel {
		e.AverageRank = float64(e.Score) / float64(e.RankingsCount)
		out = append(out, *e)
	}

	slices.SortFunc(out, func(a, b AggregateEntry) int {
		return cmp.Or(
			cmp.Compare(a.AverageRank, b.AverageRank),
			cmp.Compare(a.Score, b.Score),
			cmp.Compare(a.Model, b.Model),
		)
	})
	return out
}
