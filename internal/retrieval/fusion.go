package retrieval

import (
	"math"
	"sort"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// hit is one ranked result from a single ranker. Rank is 1-based.
type hit struct {
	id    string
	score float64
	rank  int
}

// fuseRRF merges ranked lists by reciprocal rank. Ties keep the order in
// which ids were first seen.
func fuseRRF(k int, lists ...[]hit) []hit {
	type agg struct {
		id    string
		score float64
		first int
	}
	m := map[string]*agg{}
	seen := 0
	for _, list := range lists {
		for _, h := range list {
			x, ok := m[h.id]
			if !ok {
				x = &agg{id: h.id, first: seen}
				m[h.id] = x
				seen++
			}
			x.score += 1.0 / float64(rrfK+h.rank)
		}
	}
	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].first < items[j].first
	})
	n := min(k, len(items))
	out := make([]hit, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, hit{id: items[i].id, score: items[i].score, rank: i + 1})
	}
	return out
}

func rankByCosine(q []float32, ids []string, vectors map[string][]float32, k int) []hit {
	scored := make([]hit, 0, len(ids))
	for _, id := range ids {
		v, ok := vectors[id]
		if !ok {
			continue
		}
		scored = append(scored, hit{id: id, score: cosine(q, v)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].rank = i + 1
	}
	return scored
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
