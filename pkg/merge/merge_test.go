package merge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

func result(entity, record, source string, score float64) types.Result {
	return types.Result{
		EntityID: types.EntityID(entity),
		RecordID: record,
		Source:   source,
		Score:    score,
	}
}

func TestFuseSumsContributionsAcrossSources(t *testing.T) {
	// r1 ranked 0 by strategyA and 2 by strategyB, both weight 1.0
	sources := []SourceResults{
		{Source: "strategyA", Results: []types.Result{
			result("customers:person", "r1", "strategyA", 0.9),
		}},
		{Source: "strategyB", Results: []types.Result{
			result("customers:person", "x1", "strategyB", 0.8),
			result("customers:person", "x2", "strategyB", 0.7),
			result("customers:person", "r1", "strategyB", 0.6),
		}},
	}

	merged := Fuse(sources, Options{})
	require.NotEmpty(t, merged)

	var r1 *types.Result
	for i := range merged {
		if merged[i].RecordID == "r1" {
			r1 = &merged[i]
		}
	}
	require.NotNil(t, r1)

	expected := 1.0/61.0 + 1.0/63.0
	assert.InDelta(t, expected, r1.Metadata["_rrfScore"].(float64), 1e-12)
	assert.ElementsMatch(t, []string{"strategyA", "strategyB"}, r1.Metadata["_sources"].([]string))
}

func TestFuseKeepsHighestScoringRepresentative(t *testing.T) {
	sources := []SourceResults{
		{Source: "a", Results: []types.Result{result("m:e", "r1", "a", 0.4)}},
		{Source: "b", Results: []types.Result{result("m:e", "r1", "b", 0.9)}},
	}

	merged := Fuse(sources, Options{})
	require.Len(t, merged, 1)
	assert.Equal(t, "b", merged[0].Source)
	assert.Equal(t, 0.9, merged[0].Score)
}

func TestFuseRepresentativeTieBreakFirstEncountered(t *testing.T) {
	sources := []SourceResults{
		{Source: "a", Results: []types.Result{result("m:e", "r1", "a", 0.5)}},
		{Source: "b", Results: []types.Result{result("m:e", "r1", "b", 0.5)}},
	}

	merged := Fuse(sources, Options{})
	require.Len(t, merged, 1)
	assert.Equal(t, "a", merged[0].Source)
}

func TestFuseAppliesWeights(t *testing.T) {
	sources := []SourceResults{
		{Source: "a", Results: []types.Result{result("m:e", "r1", "a", 1)}},
		{Source: "b", Results: []types.Result{result("m:e", "r2", "b", 1)}},
	}

	merged := Fuse(sources, Options{Weights: map[string]float64{"b": 2.0}})
	require.Len(t, merged, 2)
	assert.Equal(t, "r2", merged[0].RecordID)
	assert.InDelta(t, 2.0/61.0, merged[0].Metadata["_rrfScore"].(float64), 1e-12)
}

func TestFuseMinScoreFiltersAfterFusion(t *testing.T) {
	sources := []SourceResults{
		{Source: "a", Results: []types.Result{
			result("m:e", "r1", "a", 1),
			result("m:e", "r2", "a", 0.5),
		}},
	}

	merged := Fuse(sources, Options{MinScore: 1.0 / 61.5})
	require.Len(t, merged, 1)
	assert.Equal(t, "r1", merged[0].RecordID)
}

func TestFuseCommutativeOverSourceOrder(t *testing.T) {
	a := SourceResults{Source: "a", Results: []types.Result{
		result("m:e", "r1", "a", 0.9),
		result("m:e", "r2", "a", 0.8),
	}}
	b := SourceResults{Source: "b", Results: []types.Result{
		result("m:e", "r2", "b", 0.7),
		result("m:e", "r3", "b", 0.6),
	}}

	ab := Fuse([]SourceResults{a, b}, Options{})
	ba := Fuse([]SourceResults{b, a}, Options{})

	require.Equal(t, len(ab), len(ba))
	scoresAB := make(map[string]float64)
	for _, r := range ab {
		scoresAB[r.Key()] = r.Metadata["_rrfScore"].(float64)
	}
	for _, r := range ba {
		assert.InDelta(t, scoresAB[r.Key()], r.Metadata["_rrfScore"].(float64), 1e-12)
	}
}

func TestFusePreservesWithinSourceRank(t *testing.T) {
	src := SourceResults{Source: "a", Results: []types.Result{
		result("m:e", "r1", "a", 0.1), // rank 0 wins regardless of raw score
		result("m:e", "r2", "a", 0.9),
	}}

	merged := Fuse([]SourceResults{src}, Options{})
	require.Len(t, merged, 2)
	assert.Equal(t, "r1", merged[0].RecordID)
}

func TestDeduplicateKeepsHighestScore(t *testing.T) {
	results := []types.Result{
		result("m:e", "r1", "a", 0.3),
		result("m:e", "r2", "a", 0.2),
		result("m:e", "r1", "b", 0.8),
	}

	deduped := Deduplicate(results)
	require.Len(t, deduped, 2)
	assert.Equal(t, 0.8, deduped[0].Score)
	assert.Equal(t, "r1", deduped[0].RecordID)
}

func TestMinMaxNormalize(t *testing.T) {
	results := []types.Result{
		result("m:e", "r1", "a", 10),
		result("m:e", "r2", "a", 20),
		result("m:e", "r3", "a", 15),
	}

	normalized := MinMaxNormalize(results)
	assert.Equal(t, 0.0, normalized[0].Score)
	assert.Equal(t, 1.0, normalized[1].Score)
	assert.InDelta(t, 0.5, normalized[2].Score, 1e-12)

	// constant scores collapse to 1.0
	flat := MinMaxNormalize([]types.Result{result("m:e", "r1", "a", 5), result("m:e", "r2", "a", 5)})
	assert.Equal(t, 1.0, flat[0].Score)
	assert.False(t, math.IsNaN(flat[1].Score))
}
