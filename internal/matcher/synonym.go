package matcher

// synonymPostList makes a group of terms behave as a single term: it walks
// the union of its children but computes one combined weight from the
// summed wdf, using statistics aggregated over the whole group.
type synonymPostList struct {
	union PostList // OR tree over the children, built weightless
	wt    Weight
	max   float64
}

func newSynonymPostList(union PostList, wt Weight) *synonymPostList {
	return &synonymPostList{union: union, wt: wt, max: wt.MaxPart()}
}

func (p *synonymPostList) Docid() uint32 { return p.union.Docid() }
func (p *synonymPostList) AtEnd() bool   { return p.union.AtEnd() }

func (p *synonymPostList) Next(float64) (PostList, error) {
	// The union runs weightless; no useful w_min can be handed down.
	repl, err := p.union.Next(0)
	if repl != nil {
		p.union = repl
	}
	return nil, err
}

func (p *synonymPostList) SkipTo(did uint32, _ float64) (PostList, error) {
	repl, err := p.union.SkipTo(did, 0)
	if repl != nil {
		p.union = repl
	}
	return nil, err
}

func (p *synonymPostList) TermFreqMin() uint32 { return p.union.TermFreqMin() }
func (p *synonymPostList) TermFreqEst() uint32 { return p.union.TermFreqEst() }
func (p *synonymPostList) TermFreqMax() uint32 { return p.union.TermFreqMax() }

func (p *synonymPostList) MaxWeight() float64       { return p.max }
func (p *synonymPostList) RecalcMaxWeight() float64 { return p.max }

func (p *synonymPostList) Weight() float64 {
	doclen, err := p.DocLength()
	if err != nil {
		return 0
	}
	wdf := p.union.Wdf()
	// Cap the summed wdf at the document length: a document cannot hold
	// more occurrences than its length.
	if uint64(wdf) > doclen {
		wdf = uint32(doclen)
	}
	return p.wt.SumPart(wdf, doclen)
}

func (p *synonymPostList) DocLength() (uint64, error) { return p.union.DocLength() }

func (p *synonymPostList) Wdf() uint32 { return p.union.Wdf() }

func (p *synonymPostList) CountMatchingSubqs() uint32 { return 1 }
