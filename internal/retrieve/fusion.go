package retrieve

import (
	"sort"

	"legalrag/internal/vectorstore"
)

// fused is the per-chunk result of combining full-text and vector ranks via
// Reciprocal Rank Fusion, before the parent join and graph expansion stages.
type fused struct {
	ChildChunkUUID string
	FtRank         int // 1-based; 0 if absent from the full-text list
	VecRank        int // 1-based; 0 if absent from the vector list
	Score          float64
	VecMetadata    map[string]string
}

// fuseRRF combines full-text and vector candidate lists. alpha weights the
// full-text contribution; (1-alpha) weights the vector contribution. rrfK is
// the RRF denominator constant (typically ~60): larger values flatten the
// influence of rank position.
func fuseRRF(ft []FullTextHit, vec []vectorstore.Result, alpha float64, rrfK int) []fused {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	if rrfK <= 0 {
		rrfK = 60
	}
	wft, wvec := alpha, 1-alpha

	ftRank := make(map[string]int, len(ft))
	for i, h := range ft {
		ftRank[h.ChildChunkUUID] = i + 1
	}
	vecRank := make(map[string]int, len(vec))
	vecMeta := make(map[string]map[string]string, len(vec))
	for i, r := range vec {
		vecRank[r.ChildChunkUUID] = i + 1
		vecMeta[r.ChildChunkUUID] = r.Metadata
	}

	seen := map[string]bool{}
	var ids []string
	for _, h := range ft {
		if !seen[h.ChildChunkUUID] {
			seen[h.ChildChunkUUID] = true
			ids = append(ids, h.ChildChunkUUID)
		}
	}
	for _, r := range vec {
		if !seen[r.ChildChunkUUID] {
			seen[r.ChildChunkUUID] = true
			ids = append(ids, r.ChildChunkUUID)
		}
	}

	out := make([]fused, 0, len(ids))
	for _, id := range ids {
		fr, vr := ftRank[id], vecRank[id]
		var ftContrib, vecContrib float64
		if fr > 0 {
			ftContrib = 1.0 / float64(rrfK+fr)
		}
		if vr > 0 {
			vecContrib = 1.0 / float64(rrfK+vr)
		}
		out = append(out, fused{
			ChildChunkUUID: id,
			FtRank:         fr,
			VecRank:        vr,
			Score:          wft*ftContrib + wvec*vecContrib,
			VecMetadata:    vecMeta[id],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChildChunkUUID < out[j].ChildChunkUUID
	})
	return out
}

// diversify penalizes repeated hits from the same parent chunk so the final
// top-K is not dominated by a single document section. parentOf resolves a
// child chunk uuid to its owning parent id; ties favor the original order.
func diversify(candidates []fused, k int, parentOf map[string]string) []fused {
	if k <= 0 || k >= len(candidates) {
		return candidates
	}
	const lambda = 0.75
	parentCount := map[string]int{}
	used := make([]bool, len(candidates))
	selected := make([]fused, 0, k)

	for len(selected) < k {
		bestIdx := -1
		bestAdj := -1.0
		for i, c := range candidates {
			if used[i] {
				continue
			}
			denom := 1.0 + lambda*float64(parentCount[parentOf[c.ChildChunkUUID]])
			adj := c.Score / denom
			if adj > bestAdj {
				bestAdj = adj
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, candidates[bestIdx])
		used[bestIdx] = true
		parentCount[parentOf[candidates[bestIdx].ChildChunkUUID]]++
	}
	return selected
}
