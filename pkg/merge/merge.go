package merge

import (
	"sort"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// DefaultRRFConstant is the K constant of reciprocal rank fusion
const DefaultRRFConstant = 60

// SourceResults is one strategy's ranked result list. Order of the slice
// is the rank: index 0 is that strategy's best hit.
type SourceResults struct {
	Source  string
	Results []types.Result
}

// Options configures a fusion run
type Options struct {
	// Weights maps strategy id to its RRF weight. Missing entries
	// default to 1.0.
	Weights map[string]float64

	// K is the RRF constant; zero means DefaultRRFConstant.
	K int

	// MinScore drops fused results below this RRF score. Zero disables
	// the filter.
	MinScore float64
}

type fused struct {
	representative types.Result
	rrfScore       float64
	sources        []string
	order          int
}

// Fuse combines per-strategy result lists with reciprocal rank fusion.
//
// Each result contributes weight/(K + rank + 1) to its key's fused score.
// Results seen from multiple strategies sum their contributions; the
// representative kept for display is the one with the highest original
// per-strategy score, first-encountered winning ties. Output order is RRF
// score descending and stable with respect to input order.
func Fuse(sources []SourceResults, opts Options) []types.Result {
	k := opts.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byKey := make(map[string]*fused)
	order := 0

	for _, src := range sources {
		weight := 1.0
		if w, ok := opts.Weights[src.Source]; ok {
			weight = w
		}
		for rank, result := range src.Results {
			contribution := weight / float64(k+rank+1)
			key := result.Key()

			entry, ok := byKey[key]
			if !ok {
				entry = &fused{representative: result, order: order}
				byKey[key] = entry
				order++
			} else if result.Score > entry.representative.Score {
				entry.representative = result
			}
			entry.rrfScore += contribution
			entry.sources = append(entry.sources, src.Source)
		}
	}

	merged := make([]*fused, 0, len(byKey))
	for _, entry := range byKey {
		if opts.MinScore > 0 && entry.rrfScore < opts.MinScore {
			continue
		}
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].rrfScore != merged[j].rrfScore {
			return merged[i].rrfScore > merged[j].rrfScore
		}
		return merged[i].order < merged[j].order
	})

	out := make([]types.Result, 0, len(merged))
	for _, entry := range merged {
		result := entry.representative
		if result.Metadata == nil {
			result.Metadata = make(map[string]any, 2)
		}
		result.Metadata["_sources"] = dedupeSources(entry.sources)
		result.Metadata["_rrfScore"] = entry.rrfScore
		out = append(out, result)
	}
	return out
}

// Deduplicate collapses results sharing the same (entityId, recordId)
// key, keeping the one with the highest original score
func Deduplicate(results []types.Result) []types.Result {
	best := make(map[string]int)
	out := make([]types.Result, 0, len(results))

	for _, r := range results {
		key := r.Key()
		if idx, ok := best[key]; ok {
			if r.Score > out[idx].Score {
				out[idx] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}
	return out
}

// MinMaxNormalize rescales scores into [0,1]. Provided for callers that
// want comparable absolute scores; the default pipeline never applies it.
func MinMaxNormalize(results []types.Result) []types.Result {
	if len(results) == 0 {
		return results
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	out := make([]types.Result, len(results))
	copy(out, results)
	if max == min {
		for i := range out {
			out[i].Score = 1.0
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - min) / (max - min)
	}
	return out
}

func dedupeSources(sources []string) []string {
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
