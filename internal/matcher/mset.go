package matcher

import (
	"bytes"
	"container/heap"
	"sort"

	"github.com/lodestone-search/lodestone/internal/query"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// MSetItem is one ranked match.
type MSetItem struct {
	Docid         uint32
	Weight        float64
	Percent       int
	SortKey       []byte
	CollapseKey   []byte
	CollapseCount uint32
}

// MSet is the ranked result of a match.
type MSet struct {
	Items            []MSetItem
	FirstItem        uint32
	MatchesLower     uint64
	MatchesEstimated uint64
	MatchesUpper     uint64
	MaxPossible      float64
	MaxAttained      float64
}

// Options tunes a match beyond the query itself.
type Options struct {
	// Scheme ranks matching documents; nil means BM25.
	Scheme Scheme
	// Sorter orders results by a document key instead of weight.
	Sorter KeyMaker
	// CollapseSlot, when non-nil, keeps at most CollapseMax documents per
	// distinct value of that slot.
	CollapseSlot *uint32
	CollapseMax  uint32
	// CheckAtLeast forces at least this many candidates to be weighed
	// before weight-based pruning starts.
	CheckAtLeast uint32
}

// Match evaluates q against db and returns items [first, first+maxItems).
func Match(db Source, q *query.Query, first, maxItems uint32, opts *Options) (*MSet, error) {
	if opts == nil {
		opts = &Options{}
	}
	scheme := opts.Scheme
	if scheme == nil {
		scheme = NewBM25()
	}
	ctx := &mctx{db: db}
	pl, err := build(ctx, q, scheme, 1)
	if err != nil {
		return nil, err
	}
	maxPossible := pl.RecalcMaxWeight()
	tfEst := uint64(pl.TermFreqEst())
	tfMax := uint64(pl.TermFreqMax())

	if uint64(first)+uint64(maxItems) > 0xffffffff {
		return nil, errors.New(errors.ErrRange, "first + maxItems overflows")
	}
	mset := &MSet{FirstItem: first, MaxPossible: maxPossible}
	capacity := int(first) + int(maxItems)
	if capacity == 0 {
		mset.MatchesEstimated = tfEst
		mset.MatchesUpper = tfMax
		return mset, nil
	}

	h := &itemHeap{sorter: opts.Sorter != nil}
	collapse := newCollapser(opts)
	wMin := 0.0
	var docsSeen uint64

	for {
		if repl, err := pl.Next(wMin); err != nil {
			return nil, err
		} else if repl != nil {
			pl = repl
			ctx.needRecalc = true
		}
		if ctx.needRecalc {
			if pl.RecalcMaxWeight() < wMin && opts.Sorter == nil {
				break
			}
			ctx.needRecalc = false
		}
		if pl.AtEnd() {
			break
		}
		docsSeen++
		did := pl.Docid()
		wt := pl.Weight()
		if wt > mset.MaxAttained {
			mset.MaxAttained = wt
		}
		item := MSetItem{Docid: did, Weight: wt}
		if opts.Sorter != nil {
			key, err := opts.Sorter.MakeKey(db, did)
			if err != nil {
				return nil, err
			}
			item.SortKey = key
		}
		if collapse != nil {
			keep, err := collapse.consider(db, &item, h)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		if h.Len() < capacity {
			heap.Push(h, item)
		} else if h.less(item, h.items[0]) {
			// The newcomer is no better than the current floor.
			continue
		} else {
			h.items[0] = item
			heap.Fix(h, 0)
		}
		// Once the set is full, the floor weight bounds what is useful.
		if h.Len() == capacity && opts.Sorter == nil && docsSeen >= uint64(opts.CheckAtLeast) {
			wMin = h.items[0].Weight
		}
	}

	items := append([]MSetItem(nil), h.items...)
	sort.Slice(items, func(i, j int) bool { return h.less(items[j], items[i]) })
	if int(first) < len(items) {
		items = items[first:]
	} else {
		items = nil
	}
	if len(items) > int(maxItems) {
		items = items[:maxItems]
	}
	for i := range items {
		if maxPossible > 0 {
			items[i].Percent = int(100*items[i].Weight/maxPossible + 0.5)
		} else if items[i].Weight == 0 {
			items[i].Percent = 100
		}
	}
	mset.Items = items
	mset.MatchesLower = docsSeen
	mset.MatchesUpper = tfMax
	if mset.MatchesUpper < docsSeen {
		mset.MatchesUpper = docsSeen
	}
	mset.MatchesEstimated = tfEst
	if mset.MatchesEstimated < mset.MatchesLower {
		mset.MatchesEstimated = mset.MatchesLower
	}
	if mset.MatchesEstimated > mset.MatchesUpper {
		mset.MatchesEstimated = mset.MatchesUpper
	}
	return mset, nil
}

// itemHeap is a min-heap under the match ordering, so the worst candidate
// sits on top.
type itemHeap struct {
	items  []MSetItem
	sorter bool
}

// less reports whether a ranks strictly below b.
func (h *itemHeap) less(a, b MSetItem) bool {
	if h.sorter {
		if c := bytes.Compare(a.SortKey, b.SortKey); c != 0 {
			return c < 0
		}
	}
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	// Ties break on docid ascending: the larger docid ranks lower.
	return a.Docid > b.Docid
}

func (h *itemHeap) Len() int { return len(h.items) }

func (h *itemHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *itemHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap) Push(x any) { h.items = append(h.items, x.(MSetItem)) }

func (h *itemHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// collapser enforces the at-most-N-per-key rule.
type collapser struct {
	slot uint32
	max  uint32
	seen map[string]*collapseGroup
}

type collapseGroup struct {
	count   uint32 // documents currently held with this key
	dropped uint32 // documents discarded because the group was full
}

func newCollapser(opts *Options) *collapser {
	if opts.CollapseSlot == nil {
		return nil
	}
	max := opts.CollapseMax
	if max == 0 {
		max = 1
	}
	return &collapser{slot: *opts.CollapseSlot, max: max, seen: make(map[string]*collapseGroup)}
}

// consider decides whether item may enter the candidate set, evicting a
// worse group member from the heap when the group is full.
func (c *collapser) consider(db Source, item *MSetItem, h *itemHeap) (bool, error) {
	key, err := db.Value(item.Docid, c.slot)
	if err != nil {
		return false, err
	}
	if len(key) == 0 {
		return true, nil
	}
	item.CollapseKey = append([]byte(nil), key...)
	g := c.seen[string(key)]
	if g == nil {
		g = &collapseGroup{}
		c.seen[string(key)] = g
	}
	if g.count < c.max {
		g.count++
		return true, nil
	}
	// Group full: replace its worst member if the newcomer beats it.
	worst := -1
	for i := range h.items {
		if !bytes.Equal(h.items[i].CollapseKey, item.CollapseKey) {
			continue
		}
		if worst == -1 || h.less(h.items[i], h.items[worst]) {
			worst = i
		}
	}
	g.dropped++
	if worst == -1 || h.less(*item, h.items[worst]) {
		return false, nil
	}
	item.CollapseCount = g.dropped
	h.items[worst] = *item
	heap.Fix(h, worst)
	return false, nil
}
