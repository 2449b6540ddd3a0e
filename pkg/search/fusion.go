package search

import (
	"sort"

	"github.com/recallhq/recall-go/pkg/storage"
)

// rrfK is the reciprocal rank fusion constant. 60 is the value from the
// original RRF paper and dampens the gap between adjacent ranks.
const rrfK = 60

// rankedList is one signal's ordered candidates with its fusion weight.
type rankedList struct {
	memories []*storage.Memory
	weight   float64
}

// fuse merges per-signal rankings with weighted reciprocal rank fusion:
// score(m) = sum over signals of weight / (k + rank). Candidates keep the
// first memory value seen for their id; ties break by descending id so the
// ordering is deterministic across runs.
func fuse(lists []rankedList) []*storage.Memory {
	type candidate struct {
		memory *storage.Memory
		score  float64
	}
	byID := make(map[int64]*candidate)

	for _, list := range lists {
		if list.weight == 0 {
			continue
		}
		for rank, m := range list.memories {
			contribution := list.weight / float64(rrfK+rank+1)
			if c, ok := byID[m.ID]; ok {
				c.score += contribution
				continue
			}
			byID[m.ID] = &candidate{memory: m, score: contribution}
		}
	}

	fused := make([]*storage.Memory, 0, len(byID))
	for _, c := range byID {
		c.memory.Score = c.score
		fused = append(fused, c.memory)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID > fused[j].ID
	})
	return fused
}

// resolveWeights fills in equal weights for active signals when the caller
// left the weight set zero.
func resolveWeights(w storage.HybridWeights, dense, fullText, sparse bool) storage.HybridWeights {
	if w.Dense != 0 || w.FullText != 0 || w.Sparse != 0 {
		return w
	}
	if dense {
		w.Dense = 1
	}
	if fullText {
		w.FullText = 1
	}
	if sparse {
		w.Sparse = 1
	}
	return w
}
