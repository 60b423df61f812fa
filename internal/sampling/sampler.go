package sampling

import (
	"math/rand/v2"
	"sort"

	"codeberg.org/snonux/transbench/internal/exam"
)

// Unlimited disables sampling for a task
const Unlimited = -1

// taskSeedOffsets keeps the per-task generators independent so that
// changing the limit of one task never changes the subset of the other.
var taskSeedOffsets = map[exam.Task]uint64{
	exam.ZhEn: 11,
	exam.EnZh: 29,
}

// NewRand returns the generator used for a task under the given seed
func NewRand(seed int64, task exam.Task) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), taskSeedOffsets[task]))
}

// Sample returns a random subset of items of size min(limit, len(items)),
// drawn without replacement, in original relative order. A negative limit
// or a limit of at least len(items) returns items unchanged.
func Sample(items []exam.Item, limit int, rng *rand.Rand) []exam.Item {
	if limit < 0 || limit >= len(items) {
		return items
	}
	if limit == 0 {
		return []exam.Item{}
	}

	picked := rng.Perm(len(items))[:limit]
	sort.Ints(picked)

	sampled := make([]exam.Item, 0, limit)
	for _, idx := range picked {
		sampled = append(sampled, items[idx])
	}
	return sampled
}

// SampleBatch applies Sample to every task of batch. Tasks without an entry
// in limits pass through unchanged. The input batch is not modified.
func SampleBatch(batch exam.Batch, limits map[exam.Task]int, seed int64) exam.Batch {
	out := make(exam.Batch, len(batch))
	for task, items := range batch {
		limit, ok := limits[task]
		if !ok {
			limit = Unlimited
		}
		out[task] = Sample(items, limit, NewRand(seed, task))
	}
	return out
}
