package rag

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched or zero-length vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MaxMarginalRelevance selects up to k candidates balancing relevance to the
// query against redundancy with already selected ones.
//
// Each step picks the candidate maximizing
//
//	(1-w)*sim(query, c) - w*max(sim(c, s) for s in selected)
//
// so w=0 is pure relevance ranking and larger w spreads the selection.
// The most relevant candidate is always selected first. Order of the result
// is selection order.
func MaxMarginalRelevance(query []float32, candidates []ScoredChunk, k int, diversityWeight float64) []ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return []ScoredChunk{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = CosineSimilarity(query, c.Embedding)
	}

	// maxSim[i] tracks the highest similarity of candidate i to any selected item
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	used := make([]bool, len(candidates))
	selected := make([]ScoredChunk, 0, k)

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			score := relevance[i]
			if len(selected) > 0 {
				score = (1-diversityWeight)*relevance[i] - diversityWeight*maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		used[best] = true
		selected = append(selected, candidates[best])

		for i := range candidates {
			if used[i] {
				continue
			}
			if s := CosineSimilarity(candidates[i].Embedding, candidates[best].Embedding); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}

	return selected
}
