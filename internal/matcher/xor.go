package matcher

// xorPostList emits documents matched by exactly one branch.
type xorPostList struct {
	ctx          *mctx
	l, r         PostList
	lEnded       bool
	rEnded       bool
	lhead, rhead uint32
	started      bool
	dbSize       uint64
}

func newXorPostList(ctx *mctx, l, r PostList) *xorPostList {
	return &xorPostList{ctx: ctx, l: l, r: r, dbSize: ctx.db.DocCount()}
}

func (p *xorPostList) Docid() uint32 {
	if p.lEnded {
		return p.rhead
	}
	if p.rEnded || p.lhead < p.rhead {
		return p.lhead
	}
	return p.rhead
}

func (p *xorPostList) AtEnd() bool {
	return p.lEnded && p.rEnded
}

func (p *xorPostList) refreshHeads() {
	if !p.l.AtEnd() {
		p.lhead = p.l.Docid()
	} else {
		p.lEnded = true
	}
	if !p.r.AtEnd() {
		p.rhead = p.r.Docid()
	} else {
		p.rEnded = true
	}
}

// settle advances past any docid both branches share.
func (p *xorPostList) settle(wMin float64) error {
	for !p.lEnded && !p.rEnded && p.lhead == p.rhead {
		if err := p.ctx.nextPrune(&p.l, wMin); err != nil {
			return err
		}
		if err := p.ctx.nextPrune(&p.r, wMin); err != nil {
			return err
		}
		p.refreshHeads()
	}
	return nil
}

func (p *xorPostList) start(wMin float64) error {
	p.started = true
	if err := p.ctx.nextPrune(&p.l, wMin); err != nil {
		return err
	}
	if err := p.ctx.nextPrune(&p.r, wMin); err != nil {
		return err
	}
	p.refreshHeads()
	return p.settle(wMin)
}

func (p *xorPostList) Next(wMin float64) (PostList, error) {
	if p.AtEnd() {
		return nil, nil
	}
	if !p.started {
		return nil, p.start(wMin)
	}
	cur := p.Docid()
	if !p.lEnded && p.lhead == cur {
		if err := p.ctx.nextPrune(&p.l, wMin); err != nil {
			return nil, err
		}
	}
	if !p.rEnded && p.rhead == cur {
		if err := p.ctx.nextPrune(&p.r, wMin); err != nil {
			return nil, err
		}
	}
	p.refreshHeads()
	return nil, p.settle(wMin)
}

func (p *xorPostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if p.AtEnd() {
		return nil, nil
	}
	if !p.started {
		if err := p.start(wMin); err != nil {
			return nil, err
		}
		if p.AtEnd() || p.Docid() >= did {
			return nil, nil
		}
	}
	if !p.lEnded && p.lhead < did {
		if err := p.ctx.skipPrune(&p.l, did, wMin); err != nil {
			return nil, err
		}
	}
	if !p.rEnded && p.rhead < did {
		if err := p.ctx.skipPrune(&p.r, did, wMin); err != nil {
			return nil, err
		}
	}
	p.refreshHeads()
	return nil, p.settle(wMin)
}

func (p *xorPostList) TermFreqMin() uint32 { return 0 }

func (p *xorPostList) TermFreqEst() uint32 {
	if p.dbSize == 0 {
		return 0
	}
	// P(l xor r) = P(l) + P(r) - 2 P(l) P(r) under independence.
	lest := float64(p.l.TermFreqEst())
	rest := float64(p.r.TermFreqEst())
	return uint32(lest + rest - 2*lest*rest/float64(p.dbSize) + 0.5)
}

func (p *xorPostList) TermFreqMax() uint32 {
	sum := uint64(p.l.TermFreqMax()) + uint64(p.r.TermFreqMax())
	if sum > p.dbSize {
		sum = p.dbSize
	}
	return uint32(sum)
}

func (p *xorPostList) MaxWeight() float64 {
	lw, rw := p.l.MaxWeight(), p.r.MaxWeight()
	if lw > rw {
		return lw
	}
	return rw
}

func (p *xorPostList) RecalcMaxWeight() float64 {
	lw := p.l.RecalcMaxWeight()
	rw := p.r.RecalcMaxWeight()
	if lw > rw {
		return lw
	}
	return rw
}

func (p *xorPostList) current() PostList {
	if !p.lEnded && (p.rEnded || p.lhead < p.rhead) {
		return p.l
	}
	return p.r
}

func (p *xorPostList) Weight() float64 { return p.current().Weight() }

func (p *xorPostList) DocLength() (uint64, error) { return p.current().DocLength() }

func (p *xorPostList) Wdf() uint32 { return p.current().Wdf() }

func (p *xorPostList) CountMatchingSubqs() uint32 {
	return p.current().CountMatchingSubqs()
}
