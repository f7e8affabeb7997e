package matcher

import (
	"sort"

	"github.com/lodestone-search/lodestone/internal/query"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// build turns a query tree into a posting-list tree. Multi-way operators
// are assembled pairwise; OR pairs are ordered so the branch with the
// larger estimated termfreq sits on the left.
func build(ctx *mctx, q *query.Query, scheme Scheme, factor float64) (PostList, error) {
	if q == nil {
		return emptyPostList{}, nil
	}
	stats := Stats{
		DocCount:    ctx.db.DocCount(),
		TotalLength: ctx.db.TotalLength(),
		AvgLength:   ctx.db.AvgLength(),
	}
	switch q.Op {
	case query.OpLeaf:
		return buildLeaf(ctx, q, scheme, stats, factor)
	case query.OpMatchAll:
		it, err := ctx.db.PostingIterator("")
		if err != nil {
			return nil, err
		}
		if it == nil {
			return emptyPostList{}, nil
		}
		return &allDocsPostList{it: it, docCount: ctx.db.DocCount()}, nil
	case query.OpMatchNothing:
		return emptyPostList{}, nil
	case query.OpAnd, query.OpOr, query.OpXor:
		subs, err := buildSubs(ctx, q.Subs, scheme, factor)
		if err != nil {
			return nil, err
		}
		return combine(ctx, q.Op, subs), nil
	case query.OpAndNot:
		l, err := build(ctx, q.Subs[0], scheme, factor)
		if err != nil {
			return nil, err
		}
		r, err := build(ctx, query.New(query.OpOr, q.Subs[1:]...), scheme, 0)
		if err != nil {
			return nil, err
		}
		return newAndNotPostList(ctx, l, r), nil
	case query.OpAndMaybe:
		req, err := build(ctx, q.Subs[0], scheme, factor)
		if err != nil {
			return nil, err
		}
		opt, err := build(ctx, query.New(query.OpOr, q.Subs[1:]...), scheme, factor)
		if err != nil {
			return nil, err
		}
		return newAndMaybePostList(ctx, req, opt), nil
	case query.OpFilter:
		l, err := build(ctx, q.Subs[0], scheme, factor)
		if err != nil {
			return nil, err
		}
		r, err := build(ctx, query.New(query.OpAnd, q.Subs[1:]...), scheme, 0)
		if err != nil {
			return nil, err
		}
		return newAndPostList(ctx, l, r, l.MaxWeight(), 0), nil
	case query.OpScaleWeight:
		sub, err := build(ctx, q.Subs[0], scheme, factor*q.Scale)
		if err != nil {
			return nil, err
		}
		return sub, nil
	case query.OpNear, query.OpPhrase:
		return buildPositional(ctx, q, scheme, factor)
	case query.OpValueRange:
		return newValueRangePostList(ctx.db, q.Slot, []byte(q.Lo), []byte(q.Hi))
	case query.OpSynonym:
		return buildSynonym(ctx, q, scheme, stats, factor)
	}
	return nil, errors.Newf(errors.ErrInvalidArgument, "unknown query operator %d", q.Op)
}

func buildLeaf(ctx *mctx, q *query.Query, scheme Scheme, stats Stats, factor float64) (PostList, error) {
	it, err := ctx.db.PostingIterator(q.Term)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return emptyPostList{}, nil
	}
	wt := scheme.Init(stats, it.TermFreq(), q.Wqf)
	pl := newTermPostList(ctx, q.Term, it, wt)
	return scaleMaybe(pl, factor), nil
}

// scaleMaybe wraps pl unless the factor is the identity.
func scaleMaybe(pl PostList, factor float64) PostList {
	if factor == 1 {
		return pl
	}
	return &scalePostList{pl: pl, factor: factor}
}

func buildSubs(ctx *mctx, qs []*query.Query, scheme Scheme, factor float64) ([]PostList, error) {
	subs := make([]PostList, 0, len(qs))
	for _, sub := range qs {
		pl, err := build(ctx, sub, scheme, factor)
		if err != nil {
			return nil, err
		}
		subs = append(subs, pl)
	}
	return subs, nil
}

// combine folds subs pairwise under op.
func combine(ctx *mctx, op query.Op, subs []PostList) PostList {
	if len(subs) == 0 {
		return emptyPostList{}
	}
	if op == query.OpOr {
		// Keep higher-frequency branches leftward; the OR decay logic
		// relies on the left branch being the denser one.
		sort.SliceStable(subs, func(i, j int) bool {
			return subs[i].TermFreqEst() > subs[j].TermFreqEst()
		})
	}
	pl := subs[0]
	for _, sub := range subs[1:] {
		switch op {
		case query.OpAnd:
			pl = newAndPostList(ctx, pl, sub, pl.MaxWeight(), sub.MaxWeight())
		case query.OpOr:
			pl = newOrPostList(ctx, pl, sub)
		case query.OpXor:
			pl = newXorPostList(ctx, pl, sub)
		}
	}
	return pl
}

func buildPositional(ctx *mctx, q *query.Query, scheme Scheme, factor float64) (PostList, error) {
	terms := make([]string, 0, len(q.Subs))
	for _, sub := range q.Subs {
		if sub.Op != query.OpLeaf {
			return nil, errors.New(errors.ErrUnimplemented,
				"positional operators require plain term subqueries")
		}
		terms = append(terms, sub.Term)
	}
	subs, err := buildSubs(ctx, q.Subs, scheme, factor)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if _, empty := sub.(emptyPostList); empty {
			return emptyPostList{}, nil
		}
	}
	and := combine(ctx, query.OpAnd, subs)
	return newPositionalPostList(ctx, and, terms, q.Window, q.Op == query.OpPhrase), nil
}

func buildSynonym(ctx *mctx, q *query.Query, scheme Scheme, stats Stats, factor float64) (PostList, error) {
	// The union runs weightless; one Weight scores the whole group using
	// aggregated statistics.
	subs, err := buildSubs(ctx, q.Subs, BoolScheme{}, 1)
	if err != nil {
		return nil, err
	}
	union := combine(ctx, query.OpOr, subs)
	tf := union.TermFreqEst()
	if uint64(tf) > stats.DocCount {
		tf = uint32(stats.DocCount)
	}
	wt := scheme.Init(stats, tf, 1)
	return scaleMaybe(newSynonymPostList(union, wt), factor), nil
}
