package scheduler

import (
	"math/rand"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

// randomSample returns a uniform-without-replacement subset of size n
// from items, preserving relative input order, for the randomSampleSize
// config option. n <= 0 or n >= len(items) returns items unchanged.
func randomSample(items []model.PoWorkItem, n int) []model.PoWorkItem {
	if n <= 0 || n >= len(items) {
		return items
	}

	indices := rand.Perm(len(items))[:n]
	chosen := make(map[int]bool, n)
	for _, idx := range indices {
		chosen[idx] = true
	}

	out := make([]model.PoWorkItem, 0, n)
	for i, item := range items {
		if chosen[i] {
			out = append(out, item)
		}
	}
	return out
}
