package matcher

import (
	"sort"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

// msetPostList replays a pre-computed result set (typically fetched from a
// remote sub-matcher) as an ordinary posting list, in docid order.
type msetPostList struct {
	items []MSetItem // sorted by docid
	idx   int
	start bool
	max   float64
}

func newMSetPostList(items []MSetItem) *msetPostList {
	sorted := append([]MSetItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Docid < sorted[j].Docid })
	max := 0.0
	for _, it := range sorted {
		if it.Weight > max {
			max = it.Weight
		}
	}
	return &msetPostList{items: sorted, max: max}
}

func (p *msetPostList) Docid() uint32 { return p.items[p.idx].Docid }

func (p *msetPostList) AtEnd() bool { return p.start && p.idx >= len(p.items) }

func (p *msetPostList) Next(float64) (PostList, error) {
	if !p.start {
		p.start = true
		return nil, nil
	}
	p.idx++
	return nil, nil
}

func (p *msetPostList) SkipTo(did uint32, _ float64) (PostList, error) {
	p.start = true
	for p.idx < len(p.items) && p.items[p.idx].Docid < did {
		p.idx++
	}
	return nil, nil
}

func (p *msetPostList) TermFreqMin() uint32 { return uint32(len(p.items)) }
func (p *msetPostList) TermFreqEst() uint32 { return uint32(len(p.items)) }
func (p *msetPostList) TermFreqMax() uint32 { return uint32(len(p.items)) }

func (p *msetPostList) MaxWeight() float64       { return p.max }
func (p *msetPostList) RecalcMaxWeight() float64 { return p.max }

func (p *msetPostList) Weight() float64 { return p.items[p.idx].Weight }

func (p *msetPostList) DocLength() (uint64, error) {
	return 0, errors.New(errors.ErrUnimplemented, "document length unavailable on a remote result set")
}

func (p *msetPostList) Wdf() uint32 { return 0 }

func (p *msetPostList) CountMatchingSubqs() uint32 { return 1 }

// RemoteSubMatch consumes a result set computed elsewhere. The statistics
// and items arrive asynchronously on a channel; PrepareMatch with nowait
// reports not-ready instead of blocking so the scheduler can retry.
type RemoteSubMatch struct {
	Results <-chan RemoteResult
	result  *RemoteResult
}

// RemoteResult is what the remote end eventually delivers.
type RemoteResult struct {
	Stats Stats
	Items []MSetItem
	Err   error
}

// PrepareMatch waits for (or, with nowait, polls for) the remote result.
// It reports whether the sub-match is ready.
func (r *RemoteSubMatch) PrepareMatch(nowait bool) (bool, error) {
	if r.result != nil {
		return true, r.result.Err
	}
	if nowait {
		select {
		case res, ok := <-r.Results:
			if !ok {
				return false, errors.New(errors.ErrNetwork, "remote match channel closed")
			}
			r.result = &res
			return true, res.Err
		default:
			return false, nil
		}
	}
	res, ok := <-r.Results
	if !ok {
		return false, errors.New(errors.ErrNetwork, "remote match channel closed")
	}
	r.result = &res
	return true, res.Err
}

// PostList returns the fetched result set as a posting list. PrepareMatch
// must have reported ready.
func (r *RemoteSubMatch) PostList() (PostList, error) {
	if r.result == nil {
		return nil, errors.New(errors.ErrInvalidOperation, "remote match not prepared")
	}
	if r.result.Err != nil {
		return nil, r.result.Err
	}
	return newMSetPostList(r.result.Items), nil
}
