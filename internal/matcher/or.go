package matcher

// orPostList merges two posting lists, emitting the smaller head each step.
// When the caller's w_min exceeds what one branch alone can contribute, the
// node rewrites itself: both branches too weak alone means AND; one branch
// too weak means AND_MAYBE with the strong branch required. The replacement
// is handed back through Next/SkipTo for the parent to substitute.
type orPostList struct {
	ctx          *mctx
	l, r         PostList
	lhead, rhead uint32
	lmax, rmax   float64
	minmax       float64
	dbSize       uint64
}

// newOrPostList expects l's estimated termfreq >= r's.
func newOrPostList(ctx *mctx, l, r PostList) *orPostList {
	return &orPostList{ctx: ctx, l: l, r: r, dbSize: ctx.db.DocCount()}
}

func (p *orPostList) Docid() uint32 {
	if p.rhead == 0 || (p.lhead != 0 && p.lhead < p.rhead) {
		return p.lhead
	}
	if p.lhead == 0 || p.rhead < p.lhead {
		return p.rhead
	}
	return p.lhead
}

func (p *orPostList) AtEnd() bool {
	// Next/SkipTo prune into one branch before either side can run out.
	return false
}

// decay builds the operator this OR must rewrite into for the given w_min,
// and reports the docid the replacement should be advanced from.
func (p *orPostList) decay(wMin float64) (PostList, uint32) {
	if wMin > p.lmax {
		if wMin > p.rmax {
			ret := newAndPostList(p.ctx, p.l, p.r, p.lmax, p.rmax)
			return ret, maxDid(p.lhead, p.rhead)
		}
		return newAndMaybePostListAt(p.ctx, p.r, p.l, p.rhead, p.lhead), p.rhead
	}
	// w_min > rmax, since w_min > minmax but not w_min > lmax.
	return newAndMaybePostListAt(p.ctx, p.l, p.r, p.lhead, p.rhead), p.lhead
}

func (p *orPostList) Next(wMin float64) (PostList, error) {
	if wMin > p.minmax {
		ret, from := p.decay(wMin)
		p.l, p.r = nil, nil
		if and, ok := ret.(*andPostList); ok {
			var pl PostList = and
			if err := p.ctx.skipPrune(&pl, from+1, wMin); err != nil {
				return nil, err
			}
			return pl, nil
		}
		var pl PostList = ret
		if err := p.ctx.nextPrune(&pl, wMin); err != nil {
			return nil, err
		}
		return pl, nil
	}

	ldry := false
	rnext := false
	if p.lhead <= p.rhead {
		if p.lhead == p.rhead {
			rnext = true
		}
		if err := p.ctx.nextPrune(&p.l, wMin-p.rmax); err != nil {
			return nil, err
		}
		if p.l.AtEnd() {
			ldry = true
		}
	} else {
		rnext = true
	}
	if rnext {
		if err := p.ctx.nextPrune(&p.r, wMin-p.lmax); err != nil {
			return nil, err
		}
		if p.r.AtEnd() {
			ret := p.l
			p.l, p.r = nil, nil
			return ret, nil
		}
		p.rhead = p.r.Docid()
	}
	if !ldry {
		p.lhead = p.l.Docid()
		return nil, nil
	}
	ret := p.r
	p.l, p.r = nil, nil
	return ret, nil
}

func (p *orPostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if wMin > p.minmax {
		ret, from := p.decay(wMin)
		if did < from {
			did = from
		}
		p.l, p.r = nil, nil
		var pl PostList = ret
		if err := p.ctx.skipPrune(&pl, did, wMin); err != nil {
			return nil, err
		}
		return pl, nil
	}
	ldry := false
	if p.lhead < did {
		if err := p.ctx.skipPrune(&p.l, did, wMin-p.rmax); err != nil {
			return nil, err
		}
		ldry = p.l.AtEnd()
	}
	if p.rhead < did {
		if err := p.ctx.skipPrune(&p.r, did, wMin-p.lmax); err != nil {
			return nil, err
		}
		if p.r.AtEnd() {
			ret := p.l
			p.l, p.r = nil, nil
			return ret, nil
		}
		p.rhead = p.r.Docid()
	}
	if !ldry {
		p.lhead = p.l.Docid()
		return nil, nil
	}
	ret := p.r
	p.l, p.r = nil, nil
	return ret, nil
}

func (p *orPostList) TermFreqMax() uint32 {
	sum := uint64(p.l.TermFreqMax()) + uint64(p.r.TermFreqMax())
	if sum > p.dbSize {
		sum = p.dbSize
	}
	return uint32(sum)
}

func (p *orPostList) TermFreqMin() uint32 {
	lmin, rmin := p.l.TermFreqMin(), p.r.TermFreqMin()
	if lmin > rmin {
		return lmin
	}
	return rmin
}

func (p *orPostList) TermFreqEst() uint32 {
	// Estimate assuming independence: P(l or r) = P(l) + P(r) - P(l)P(r).
	lest := float64(p.l.TermFreqEst())
	rest := float64(p.r.TermFreqEst())
	if p.dbSize == 0 {
		return 0
	}
	return uint32(lest + rest - lest*rest/float64(p.dbSize) + 0.5)
}

func (p *orPostList) MaxWeight() float64 { return p.lmax + p.rmax }

func (p *orPostList) RecalcMaxWeight() float64 {
	p.lmax = p.l.RecalcMaxWeight()
	p.rmax = p.r.RecalcMaxWeight()
	p.minmax = p.lmax
	if p.rmax < p.minmax {
		p.minmax = p.rmax
	}
	return p.MaxWeight()
}

func (p *orPostList) Weight() float64 {
	if p.lhead < p.rhead {
		return p.l.Weight()
	}
	if p.lhead > p.rhead {
		return p.r.Weight()
	}
	return p.l.Weight() + p.r.Weight()
}

func (p *orPostList) DocLength() (uint64, error) {
	if p.lhead > p.rhead {
		return p.r.DocLength()
	}
	return p.l.DocLength()
}

func (p *orPostList) Wdf() uint32 {
	if p.lhead < p.rhead {
		return p.l.Wdf()
	}
	if p.lhead > p.rhead {
		return p.r.Wdf()
	}
	return p.l.Wdf() + p.r.Wdf()
}

func (p *orPostList) CountMatchingSubqs() uint32 {
	if p.lhead < p.rhead {
		return p.l.CountMatchingSubqs()
	}
	if p.lhead > p.rhead {
		return p.r.CountMatchingSubqs()
	}
	return p.l.CountMatchingSubqs() + p.r.CountMatchingSubqs()
}

func maxDid(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
