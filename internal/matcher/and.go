package matcher

// andPostList intersects two posting lists by zig-zag skipping: the branch
// that moved drives a SkipTo on the other, so whichever side is sparser
// sets the pace.
type andPostList struct {
	ctx        *mctx
	l, r       PostList
	lmax, rmax float64
	head       uint32
	ended      bool
	dbSize     uint64
}

func newAndPostList(ctx *mctx, l, r PostList, lmax, rmax float64) *andPostList {
	return &andPostList{ctx: ctx, l: l, r: r, lmax: lmax, rmax: rmax, dbSize: ctx.db.DocCount()}
}

func (p *andPostList) Docid() uint32 { return p.head }
func (p *andPostList) AtEnd() bool   { return p.ended }

// align advances the lagging branch until both heads agree.
func (p *andPostList) align(wMin float64) error {
	for {
		if p.l.AtEnd() || p.r.AtEnd() {
			p.ended = true
			return nil
		}
		ld, rd := p.l.Docid(), p.r.Docid()
		if ld == rd {
			p.head = ld
			return nil
		}
		if ld < rd {
			if err := p.ctx.skipPrune(&p.l, rd, wMin-p.rmax); err != nil {
				return err
			}
		} else {
			if err := p.ctx.skipPrune(&p.r, ld, wMin-p.lmax); err != nil {
				return err
			}
		}
	}
}

func (p *andPostList) Next(wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if err := p.ctx.nextPrune(&p.l, wMin-p.rmax); err != nil {
		return nil, err
	}
	return nil, p.align(wMin)
}

func (p *andPostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if p.ended || (p.head >= did && p.head != 0) {
		return nil, nil
	}
	if err := p.ctx.skipPrune(&p.l, did, wMin-p.rmax); err != nil {
		return nil, err
	}
	return nil, p.align(wMin)
}

func (p *andPostList) TermFreqMin() uint32 { return 0 }

func (p *andPostList) TermFreqEst() uint32 {
	if p.dbSize == 0 {
		return 0
	}
	// Independence assumption: P(l and r) = P(l) P(r).
	lest := float64(p.l.TermFreqEst())
	rest := float64(p.r.TermFreqEst())
	return uint32(lest*rest/float64(p.dbSize) + 0.5)
}

func (p *andPostList) TermFreqMax() uint32 {
	lmax, rmax := p.l.TermFreqMax(), p.r.TermFreqMax()
	if lmax < rmax {
		return lmax
	}
	return rmax
}

func (p *andPostList) MaxWeight() float64 { return p.lmax + p.rmax }

func (p *andPostList) RecalcMaxWeight() float64 {
	p.lmax = p.l.RecalcMaxWeight()
	p.rmax = p.r.RecalcMaxWeight()
	return p.MaxWeight()
}

func (p *andPostList) Weight() float64 {
	return p.l.Weight() + p.r.Weight()
}

func (p *andPostList) DocLength() (uint64, error) { return p.l.DocLength() }

func (p *andPostList) Wdf() uint32 { return p.l.Wdf() + p.r.Wdf() }

func (p *andPostList) CountMatchingSubqs() uint32 {
	return p.l.CountMatchingSubqs() + p.r.CountMatchingSubqs()
}
