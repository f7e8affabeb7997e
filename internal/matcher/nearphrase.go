package matcher

import (
	"sort"
)

// positionalPostList filters an intersection of terms down to documents
// where the terms' positions satisfy a window predicate: for NEAR, some
// choice of one position per term spans fewer than window positions in any
// order; for PHRASE, the positions additionally occur in query order.
type positionalPostList struct {
	ctx     *mctx
	and     PostList
	terms   []string
	window  uint32
	ordered bool // phrase
	ended   bool
}

func newPositionalPostList(ctx *mctx, and PostList, terms []string, window uint32, ordered bool) *positionalPostList {
	return &positionalPostList{ctx: ctx, and: and, terms: terms, window: window, ordered: ordered}
}

func (p *positionalPostList) Docid() uint32 { return p.and.Docid() }
func (p *positionalPostList) AtEnd() bool   { return p.ended }

// seek advances the intersection until the window predicate holds.
func (p *positionalPostList) seek(wMin float64) error {
	for {
		if p.and.AtEnd() {
			p.ended = true
			return nil
		}
		ok, err := p.check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := p.ctx.nextPrune(&p.and, wMin); err != nil {
			return err
		}
	}
}

func (p *positionalPostList) Next(wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if err := p.ctx.nextPrune(&p.and, wMin); err != nil {
		return nil, err
	}
	return nil, p.seek(wMin)
}

func (p *positionalPostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if err := p.ctx.skipPrune(&p.and, did, wMin); err != nil {
		return nil, err
	}
	return nil, p.seek(wMin)
}

// check tests the window predicate at the current document.
func (p *positionalPostList) check() (bool, error) {
	did := p.and.Docid()
	lists := make([][]uint32, len(p.terms))
	for i, term := range p.terms {
		positions, err := p.ctx.db.Positions(did, term)
		if err != nil {
			return false, err
		}
		if len(positions) == 0 {
			// No positional data for this term here: cannot match.
			return false, nil
		}
		lists[i] = positions
	}
	if p.ordered {
		return phraseMatch(lists, p.window), nil
	}
	return nearMatch(lists, p.window), nil
}

// phraseMatch looks for positions p1 < p2 < ... < pn in list order with
// pn - p1 < window.
func phraseMatch(lists [][]uint32, window uint32) bool {
	var rec func(depth int, prev uint32, first uint32) bool
	rec = func(depth int, prev, first uint32) bool {
		if depth == len(lists) {
			return true
		}
		list := lists[depth]
		i := sort.Search(len(list), func(i int) bool { return list[i] > prev })
		for ; i < len(list); i++ {
			pos := list[i]
			if depth > 0 && pos-first >= window {
				return false
			}
			f := first
			if depth == 0 {
				f = pos
			}
			if rec(depth+1, pos, f) {
				return true
			}
		}
		return false
	}
	return rec(0, 0, 0)
}

// nearMatch slides a window over the merged position stream checking that
// some span < window covers every term.
func nearMatch(lists [][]uint32, window uint32) bool {
	type entry struct {
		pos  uint32
		term int
	}
	var merged []entry
	for t, list := range lists {
		for _, pos := range list {
			merged = append(merged, entry{pos: pos, term: t})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].pos < merged[j].pos })
	counts := make([]int, len(lists))
	covered := 0
	lo := 0
	for hi := 0; hi < len(merged); hi++ {
		if counts[merged[hi].term] == 0 {
			covered++
		}
		counts[merged[hi].term]++
		for merged[hi].pos-merged[lo].pos >= window {
			counts[merged[lo].term]--
			if counts[merged[lo].term] == 0 {
				covered--
			}
			lo++
		}
		if covered == len(lists) {
			return true
		}
	}
	return false
}

func (p *positionalPostList) TermFreqMin() uint32 { return 0 }

func (p *positionalPostList) TermFreqEst() uint32 {
	// The intersection's estimate, discounted for the window test.
	return p.and.TermFreqEst()/2 + 1
}

func (p *positionalPostList) TermFreqMax() uint32 { return p.and.TermFreqMax() }

func (p *positionalPostList) MaxWeight() float64       { return p.and.MaxWeight() }
func (p *positionalPostList) RecalcMaxWeight() float64 { return p.and.RecalcMaxWeight() }

func (p *positionalPostList) Weight() float64 { return p.and.Weight() }

func (p *positionalPostList) DocLength() (uint64, error) { return p.and.DocLength() }

func (p *positionalPostList) Wdf() uint32 { return p.and.Wdf() }

func (p *positionalPostList) CountMatchingSubqs() uint32 {
	return p.and.CountMatchingSubqs()
}
