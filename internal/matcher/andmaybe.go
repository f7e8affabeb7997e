package matcher

// andMaybePostList emits every document of its required branch, adding the
// optional branch's weight whenever the two heads coincide. If w_min ever
// exceeds what the required branch alone can reach, the optional branch
// becomes mandatory and the node rewrites itself into an AND.
type andMaybePostList struct {
	ctx          *mctx
	req, opt     PostList
	reqHead      uint32
	optHead      uint32 // 0 until the optional branch is started
	reqMax, omax float64
	ended        bool
	dbSize       uint64
}

func newAndMaybePostList(ctx *mctx, req, opt PostList) *andMaybePostList {
	p := &andMaybePostList{ctx: ctx, req: req, opt: opt, dbSize: ctx.db.DocCount()}
	// Seed the bounds now: Next consults reqMax before the matcher gets a
	// chance to recalculate, and a zero there would trigger a bogus decay.
	p.reqMax = req.RecalcMaxWeight()
	p.omax = opt.RecalcMaxWeight()
	return p
}

// newAndMaybePostListAt adopts branches already positioned at the given
// heads, as happens when an OR decays.
func newAndMaybePostListAt(ctx *mctx, req, opt PostList, reqHead, optHead uint32) *andMaybePostList {
	p := &andMaybePostList{
		ctx: ctx, req: req, opt: opt,
		reqHead: reqHead, optHead: optHead,
		dbSize: ctx.db.DocCount(),
	}
	p.reqMax = req.RecalcMaxWeight()
	p.omax = opt.RecalcMaxWeight()
	return p
}

func (p *andMaybePostList) Docid() uint32 { return p.reqHead }
func (p *andMaybePostList) AtEnd() bool   { return p.ended }

// decayToAnd handles w_min exceeding the required branch's max: both
// branches become mandatory.
func (p *andMaybePostList) decayToAnd(did uint32, wMin float64) (PostList, error) {
	and := newAndPostList(p.ctx, p.req, p.opt, p.reqMax, p.omax)
	p.req, p.opt = nil, nil
	var pl PostList = and
	if err := p.ctx.skipPrune(&pl, did, wMin); err != nil {
		return nil, err
	}
	return pl, nil
}

// alignOpt brings the optional branch level with the required head.
func (p *andMaybePostList) alignOpt(wMin float64) error {
	if p.opt == nil || p.opt.AtEnd() {
		return nil
	}
	if p.optHead != 0 && p.optHead >= p.reqHead {
		return nil
	}
	if err := p.ctx.skipPrune(&p.opt, p.reqHead, wMin-p.reqMax); err != nil {
		return err
	}
	if !p.opt.AtEnd() {
		p.optHead = p.opt.Docid()
	} else {
		p.optHead = 0
	}
	return nil
}

func (p *andMaybePostList) Next(wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if wMin > p.reqMax {
		return p.decayToAnd(p.reqHead+1, wMin)
	}
	if err := p.ctx.nextPrune(&p.req, wMin-p.omax); err != nil {
		return nil, err
	}
	if p.req.AtEnd() {
		p.ended = true
		return nil, nil
	}
	p.reqHead = p.req.Docid()
	return nil, p.alignOpt(wMin)
}

func (p *andMaybePostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	if p.ended {
		return nil, nil
	}
	if wMin > p.reqMax {
		if did <= p.reqHead {
			did = p.reqHead + 1
		}
		return p.decayToAnd(did, wMin)
	}
	if did <= p.reqHead {
		return nil, nil
	}
	if err := p.ctx.skipPrune(&p.req, did, wMin-p.omax); err != nil {
		return nil, err
	}
	if p.req.AtEnd() {
		p.ended = true
		return nil, nil
	}
	p.reqHead = p.req.Docid()
	return nil, p.alignOpt(wMin)
}

func (p *andMaybePostList) optMatches() bool {
	return p.opt != nil && !p.opt.AtEnd() && p.optHead == p.reqHead && p.reqHead != 0
}

func (p *andMaybePostList) TermFreqMin() uint32 { return p.req.TermFreqMin() }
func (p *andMaybePostList) TermFreqEst() uint32 { return p.req.TermFreqEst() }
func (p *andMaybePostList) TermFreqMax() uint32 { return p.req.TermFreqMax() }

func (p *andMaybePostList) MaxWeight() float64 { return p.reqMax + p.omax }

func (p *andMaybePostList) RecalcMaxWeight() float64 {
	p.reqMax = p.req.RecalcMaxWeight()
	if p.opt != nil {
		p.omax = p.opt.RecalcMaxWeight()
	}
	return p.MaxWeight()
}

func (p *andMaybePostList) Weight() float64 {
	w := p.req.Weight()
	if p.optMatches() {
		w += p.opt.Weight()
	}
	return w
}

func (p *andMaybePostList) DocLength() (uint64, error) { return p.req.DocLength() }

func (p *andMaybePostList) Wdf() uint32 {
	wdf := p.req.Wdf()
	if p.optMatches() {
		wdf += p.opt.Wdf()
	}
	return wdf
}

func (p *andMaybePostList) CountMatchingSubqs() uint32 {
	n := p.req.CountMatchingSubqs()
	if p.optMatches() {
		n += p.opt.CountMatchingSubqs()
	}
	return n
}
