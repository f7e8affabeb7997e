package matcher

import (
	"bytes"

	"github.com/lodestone-search/lodestone/internal/backend"
)

// valueRangePostList enumerates documents whose value in a slot falls
// lexicographically within [lo, hi]. It contributes no weight.
type valueRangePostList struct {
	it     *backend.ValueIterator
	lo, hi []byte
	freq   uint64
	dead   bool // slot bounds prove the range is empty
}

func newValueRangePostList(db Source, slot uint32, lo, hi []byte) (*valueRangePostList, error) {
	freq, lower, upper, err := db.ValueFreq(slot)
	if err != nil {
		return nil, err
	}
	p := &valueRangePostList{lo: lo, hi: hi, freq: freq}
	if freq == 0 || bytes.Compare(hi, lower) < 0 || bytes.Compare(lo, upper) > 0 {
		p.dead = true
		return p, nil
	}
	it, err := db.ValueIterator(slot)
	if err != nil {
		return nil, err
	}
	p.it = it
	return p, nil
}

func (p *valueRangePostList) inRange(v []byte) bool {
	if bytes.Compare(v, p.lo) < 0 {
		return false
	}
	return bytes.Compare(v, p.hi) <= 0
}

func (p *valueRangePostList) advance() error {
	for !p.it.AtEnd() {
		if p.inRange(p.it.Value()) {
			return nil
		}
		if err := p.it.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (p *valueRangePostList) Docid() uint32 {
	return p.it.Docid()
}

func (p *valueRangePostList) AtEnd() bool {
	return p.dead || p.it.AtEnd()
}

func (p *valueRangePostList) Next(float64) (PostList, error) {
	if p.dead {
		return nil, nil
	}
	if err := p.it.Next(); err != nil {
		return nil, err
	}
	return nil, p.advance()
}

func (p *valueRangePostList) SkipTo(did uint32, _ float64) (PostList, error) {
	if p.dead {
		return nil, nil
	}
	if err := p.it.SkipTo(did); err != nil {
		return nil, err
	}
	return nil, p.advance()
}

func (p *valueRangePostList) TermFreqMin() uint32 { return 0 }

func (p *valueRangePostList) TermFreqEst() uint32 {
	if p.dead {
		return 0
	}
	return uint32(p.freq / 2)
}

func (p *valueRangePostList) TermFreqMax() uint32 {
	if p.dead {
		return 0
	}
	return uint32(p.freq)
}

func (p *valueRangePostList) MaxWeight() float64       { return 0 }
func (p *valueRangePostList) RecalcMaxWeight() float64 { return 0 }
func (p *valueRangePostList) Weight() float64          { return 0 }

func (p *valueRangePostList) DocLength() (uint64, error) { return 0, nil }

func (p *valueRangePostList) Wdf() uint32 { return 0 }

func (p *valueRangePostList) CountMatchingSubqs() uint32 { return 1 }
