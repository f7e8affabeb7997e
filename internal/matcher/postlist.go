// Package matcher evaluates query operator trees as posting-list iterators
// and produces ranked result sets. Branch iterators may rewrite themselves
// into cheaper operators mid-iteration: Next/SkipTo return a replacement
// pointer which the parent must substitute for the child it called.
package matcher

import (
	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// Source is the read surface the matcher needs from a database snapshot.
// *backend.Database satisfies it.
type Source interface {
	DocCount() uint64
	TotalLength() uint64
	AvgLength() float64
	TermFreq(term string) (uint32, error)
	CollFreq(term string) (uint64, error)
	PostingIterator(term string) (*backend.PostingIterator, error)
	DocLength(did uint32) (uint64, error)
	Positions(did uint32, term string) ([]uint32, error)
	Value(did, slot uint32) ([]byte, error)
	ValueIterator(slot uint32) (*backend.ValueIterator, error)
	ValueFreq(slot uint32) (uint64, []byte, []byte, error)
	AllTerms(prefix string) (*backend.AllTermsIterator, error)
}

// PostList is a posting iterator over the matching documents of a
// (sub)query. Docid/Weight/Wdf are valid only after the first advance.
// Next and SkipTo take w_min, a lower bound on the weight the caller still
// finds useful; they may return a non-nil replacement the caller must
// substitute for this node.
type PostList interface {
	Docid() uint32
	AtEnd() bool
	Next(wMin float64) (PostList, error)
	SkipTo(did uint32, wMin float64) (PostList, error)

	TermFreqMin() uint32
	TermFreqEst() uint32
	TermFreqMax() uint32

	MaxWeight() float64
	RecalcMaxWeight() float64
	Weight() float64
	DocLength() (uint64, error)
	Wdf() uint32
	CountMatchingSubqs() uint32
}

// mctx is shared across one match's PL tree; a child rewrite invalidates
// cached max-weights up the tree.
type mctx struct {
	db         Source
	needRecalc bool
}

// nextPrune advances *child and substitutes any replacement it hands back.
func (m *mctx) nextPrune(child *PostList, wMin float64) error {
	repl, err := (*child).Next(wMin)
	if err != nil {
		return err
	}
	if repl != nil {
		*child = repl
		m.needRecalc = true
	}
	return nil
}

// skipPrune is nextPrune for SkipTo.
func (m *mctx) skipPrune(child *PostList, did uint32, wMin float64) error {
	repl, err := (*child).SkipTo(did, wMin)
	if err != nil {
		return err
	}
	if repl != nil {
		*child = repl
		m.needRecalc = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Leaf iterators
// ---------------------------------------------------------------------------

// termPostList drives a single term's chunked posting list.
type termPostList struct {
	ctx  *mctx
	term string
	it   *backend.PostingIterator
	wt   Weight
	max  float64
	done bool
}

func newTermPostList(ctx *mctx, term string, it *backend.PostingIterator, wt Weight) *termPostList {
	return &termPostList{ctx: ctx, term: term, it: it, wt: wt, max: wt.MaxPart()}
}

func (p *termPostList) Docid() uint32 { return p.it.Docid() }
func (p *termPostList) AtEnd() bool   { return p.it.AtEnd() }

func (p *termPostList) Next(float64) (PostList, error) {
	return nil, p.it.Next()
}

func (p *termPostList) SkipTo(did uint32, _ float64) (PostList, error) {
	return nil, p.it.SkipTo(did)
}

func (p *termPostList) TermFreqMin() uint32 { return p.it.TermFreq() }
func (p *termPostList) TermFreqEst() uint32 { return p.it.TermFreq() }
func (p *termPostList) TermFreqMax() uint32 { return p.it.TermFreq() }

func (p *termPostList) MaxWeight() float64       { return p.max }
func (p *termPostList) RecalcMaxWeight() float64 { return p.max }

func (p *termPostList) Weight() float64 {
	doclen, err := p.DocLength()
	if err != nil {
		return 0
	}
	return p.wt.SumPart(p.it.Wdf(), doclen)
}

func (p *termPostList) DocLength() (uint64, error) {
	return p.ctx.db.DocLength(p.it.Docid())
}

func (p *termPostList) Wdf() uint32 { return p.it.Wdf() }

func (p *termPostList) CountMatchingSubqs() uint32 { return 1 }

// allDocsPostList iterates every document, wdf fixed at one; the stored
// wdf field carries the document length.
type allDocsPostList struct {
	it       *backend.PostingIterator
	docCount uint64
}

func (p *allDocsPostList) Docid() uint32 { return p.it.Docid() }
func (p *allDocsPostList) AtEnd() bool   { return p.it.AtEnd() }

func (p *allDocsPostList) Next(float64) (PostList, error) {
	return nil, p.it.Next()
}

func (p *allDocsPostList) SkipTo(did uint32, _ float64) (PostList, error) {
	return nil, p.it.SkipTo(did)
}

func (p *allDocsPostList) TermFreqMin() uint32 { return uint32(p.docCount) }
func (p *allDocsPostList) TermFreqEst() uint32 { return uint32(p.docCount) }
func (p *allDocsPostList) TermFreqMax() uint32 { return uint32(p.docCount) }

func (p *allDocsPostList) MaxWeight() float64       { return 0 }
func (p *allDocsPostList) RecalcMaxWeight() float64 { return 0 }
func (p *allDocsPostList) Weight() float64          { return 0 }

func (p *allDocsPostList) DocLength() (uint64, error) {
	return uint64(p.it.Wdf()), nil
}

func (p *allDocsPostList) Wdf() uint32 { return 1 }

func (p *allDocsPostList) CountMatchingSubqs() uint32 { return 1 }

// emptyPostList matches nothing.
type emptyPostList struct{}

func (emptyPostList) Docid() uint32 { return 0 }
func (emptyPostList) AtEnd() bool   { return true }

func (emptyPostList) Next(float64) (PostList, error) { return nil, nil }

func (emptyPostList) SkipTo(uint32, float64) (PostList, error) { return nil, nil }

func (emptyPostList) TermFreqMin() uint32 { return 0 }
func (emptyPostList) TermFreqEst() uint32 { return 0 }
func (emptyPostList) TermFreqMax() uint32 { return 0 }

func (emptyPostList) MaxWeight() float64       { return 0 }
func (emptyPostList) RecalcMaxWeight() float64 { return 0 }
func (emptyPostList) Weight() float64          { return 0 }

func (emptyPostList) DocLength() (uint64, error) {
	return 0, errors.New(errors.ErrInvalidOperation, "empty posting list has no document")
}

func (emptyPostList) Wdf() uint32 { return 0 }

func (emptyPostList) CountMatchingSubqs() uint32 { return 0 }

// scalePostList multiplies a subtree's weights by a constant factor (which
// may be zero, turning the subtree into a pure filter).
type scalePostList struct {
	pl     PostList
	factor float64
}

func (p *scalePostList) Docid() uint32 { return p.pl.Docid() }
func (p *scalePostList) AtEnd() bool   { return p.pl.AtEnd() }

func (p *scalePostList) Next(wMin float64) (PostList, error) {
	repl, err := p.pl.Next(p.unscale(wMin))
	if repl != nil {
		p.pl = repl
	}
	return nil, err
}

func (p *scalePostList) SkipTo(did uint32, wMin float64) (PostList, error) {
	repl, err := p.pl.SkipTo(did, p.unscale(wMin))
	if repl != nil {
		p.pl = repl
	}
	return nil, err
}

func (p *scalePostList) unscale(wMin float64) float64 {
	if p.factor <= 0 {
		return 0
	}
	return wMin / p.factor
}

func (p *scalePostList) TermFreqMin() uint32 { return p.pl.TermFreqMin() }
func (p *scalePostList) TermFreqEst() uint32 { return p.pl.TermFreqEst() }
func (p *scalePostList) TermFreqMax() uint32 { return p.pl.TermFreqMax() }

func (p *scalePostList) MaxWeight() float64 { return p.factor * p.pl.MaxWeight() }

func (p *scalePostList) RecalcMaxWeight() float64 {
	return p.factor * p.pl.RecalcMaxWeight()
}

func (p *scalePostList) Weight() float64 { return p.factor * p.pl.Weight() }

func (p *scalePostList) DocLength() (uint64, error) { return p.pl.DocLength() }

func (p *scalePostList) Wdf() uint32 { return p.pl.Wdf() }

func (p *scalePostList) CountMatchingSubqs() uint32 { return p.pl.CountMatchingSubqs() }
