package traffic

import (
	"sort"
	"time"

	"github.com/keilerkonzept/topk/heap"
)

// Ranker caches a ranking of payloads. Every fullEvery it rebuilds the
// list from the sketch; in between it only refreshes the counts of the
// first few entries and re-sorts those.
type Ranker struct {
	k         int
	fullEvery time.Duration
	partial   int

	lastFull time.Time
	items    []heap.Item
}

func NewRanker(k int, fullEvery time.Duration, partial int) *Ranker {
	if k < 1 {
		k = 1
	}
	if fullEvery < 0 {
		fullEvery = 2 * time.Second
	}
	if partial < 0 {
		partial = 0
	}
	return &Ranker{k: k, fullEvery: fullEvery, partial: partial}
}

// Refresh returns the current ranking. sorted returns a full ranking;
// recount updates Count of the first limit items in place.
func (r *Ranker) Refresh(now time.Time, visible int, sorted func() []heap.Item, recount func(items []heap.Item, limit int)) ([]heap.Item, bool) {
	if now.IsZero() {
		now = time.Now()
	}
	if r.fullEvery == 0 || len(r.items) == 0 || r.lastFull.IsZero() || now.Sub(r.lastFull) >= r.fullEvery {
		r.items = sorted()
		if len(r.items) > r.k {
			r.items = r.items[:r.k]
		}
		r.lastFull = now
		return clone(r.items), true
	}

	limit := len(r.items)
	if visible > 0 && visible < limit {
		limit = visible
	}
	if r.partial > 0 && r.partial < limit {
		limit = r.partial
	}
	recount(r.items, limit)
	head := r.items[:limit]
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Count != head[j].Count {
			return head[i].Count > head[j].Count
		}
		return head[i].Item < head[j].Item
	})
	return clone(r.items), false
}

func clone(in []heap.Item) []heap.Item {
	out := make([]heap.Item, len(in))
	copy(out, in)
	return out
}
