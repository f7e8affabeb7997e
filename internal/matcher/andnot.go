package matcher

// andNotPostList emits the documents of its left branch that the right
// branch does not match; the right branch is a pure filter and contributes
// no weight.
type andNotPostList struct {
	ctx   *mctx
	l, r  PostList
	rDry  bool
	ended bool
}

func newAndNotPostList(ctx *mctx, l, r PostList) *andNotPostList {
	return &andNotPostList{ctx: ctx, l: l, r: r}
}

func (p *andNotPostList) Docid() uint32 { return p.l.Docid() }
func (p *andNotPostList) AtEnd() bool   { return p.ended }

// advance moves l forward until it sits on a document r does not match.
func (p *andNotPostList) advance(wMin float64) error {
	for {
		if p.l.AtEnd() {
			p.ended = true
			return nil
		}
		if p.rDry {
			return nil
		}
		ld := p.l.Docid()
		if p.r.Docid() < ld || p.rBeforeStart() {
			if err := p.ctx.skipPrune(&p.r, ld, 0); err != nil {
				return err
			}
			if p.r.AtEnd() {
				p.rDry = true
				return nil
			}
		}
		if p.r.Docid() != ld {
			return nil
		}
		if err := p.ctx.nextPrune(&p.l, wMin); err != nil {
			return err
		}
	}
}

// rBeforeStart reports whether the filter branch has not been advanced yet.
func (p *andNotPostList) rBeforeStart() bool {
	return p.r.Docid() == 0 && !p.r.AtEnd()
}

func (p *andNotPostList) Next(wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if err := p.ctx.nextPrune(&p.l, wMin); err != nil {
		return nil, err
	}
	return nil, p.advance(wMin)
}

func (p *andNotPostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if err := p.ctx.skipPrune(&p.l, did, wMin); err != nil {
		return nil, err
	}
	return nil, p.advance(wMin)
}

func (p *andNotPostList) TermFreqMin() uint32 { return 0 }

func (p *andNotPostList) TermFreqEst() uint32 {
	lest := p.l.TermFreqEst()
	rest := p.r.TermFreqEst()
	if rest >= lest {
		return lest / 2
	}
	return lest - rest/2
}

func (p *andNotPostList) TermFreqMax() uint32 { return p.l.TermFreqMax() }

func (p *andNotPostList) MaxWeight() float64 { return p.l.MaxWeight() }

func (p *andNotPostList) RecalcMaxWeight() float64 {
	p.r.RecalcMaxWeight()
	return p.l.RecalcMaxWeight()
}

func (p *andNotPostList) Weight() float64 { return p.l.Weight() }

func (p *andNotPostList) DocLength() (uint64, error) { return p.l.DocLength() }

func (p *andNotPostList) Wdf() uint32 { return p.l.Wdf() }

func (p *andNotPostList) CountMatchingSubqs() uint32 {
	return p.l.CountMatchingSubqs()
}
