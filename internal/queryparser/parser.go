// Package queryparser turns free-form query strings into operator trees:
// a lexer tokenises the UTF-8 input, then a shift/reduce pass over the
// token stream applies the boolean grammar, prefix fields, phrases,
// wildcards, value ranges, synonyms and spelling correction.
package queryparser

import (
	"strconv"
	"strings"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/internal/query"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// DB is the read surface the parser consults; *backend.Database satisfies
// it. A nil database disables the features that need one.
type DB interface {
	TermExists(term string) (bool, error)
	AllTerms(prefix string) (*backend.AllTermsIterator, error)
	SpellingSuggestion(word string) (string, error)
	Synonyms(term string) ([]string, error)
	HasSynonymKeyPrefix(prefix string) (bool, error)
}

type prefixInfo struct {
	filter   bool
	prefixes []string
}

// QueryParser holds the configuration shared by the lexer and the grammar
// pass.
type QueryParser struct {
	db           DB
	stemmer      Stemmer
	stemStrategy StemStrategy
	defaultOp    query.Op
	prefixes     map[string]*prefixInfo
	rangeProcs   []ValueRangeProcessor
	stopper      func(string) bool
	corrected    string
}

// New returns a parser with the conventional defaults (OR as the default
// operator, no stemming).
func New() *QueryParser {
	return &QueryParser{
		defaultOp: query.OpOr,
		prefixes:  make(map[string]*prefixInfo),
	}
}

// SetDatabase attaches the database consulted for wildcard expansion,
// spelling correction and synonyms.
func (p *QueryParser) SetDatabase(db DB) { p.db = db }

// SetStemmer installs the stemming function.
func (p *QueryParser) SetStemmer(s Stemmer) { p.stemmer = s }

// SetStemmingStrategy selects which terms are stemmed.
func (p *QueryParser) SetStemmingStrategy(s StemStrategy) { p.stemStrategy = s }

// SetDefaultOp sets the operator joining plain terms (OpOr or OpAnd).
func (p *QueryParser) SetDefaultOp(op query.Op) error {
	if op != query.OpOr && op != query.OpAnd {
		return errors.New(errors.ErrInvalidArgument, "default operator must be AND or OR")
	}
	p.defaultOp = op
	return nil
}

// SetStopper installs a stopword predicate applied to loose terms.
func (p *QueryParser) SetStopper(stopper func(string) bool) { p.stopper = stopper }

// AddPrefix maps a probabilistic field to a term prefix; a field may map to
// several prefixes.
func (p *QueryParser) AddPrefix(field, prefix string) error {
	return p.addPrefix(field, prefix, false)
}

// AddBooleanPrefix maps a filter field to a term prefix.
func (p *QueryParser) AddBooleanPrefix(field, prefix string) error {
	return p.addPrefix(field, prefix, true)
}

func (p *QueryParser) addPrefix(field, prefix string, filter bool) error {
	pi, ok := p.prefixes[field]
	if !ok {
		p.prefixes[field] = &prefixInfo{filter: filter, prefixes: []string{prefix}}
		return nil
	}
	if pi.filter != filter {
		return errors.New(errors.ErrInvalidOperation,
			"can't use AddPrefix and AddBooleanPrefix on the same field")
	}
	pi.prefixes = append(pi.prefixes, prefix)
	return nil
}

// AddRangeProcessor appends a value range processor; processors are tried
// in registration order.
func (p *QueryParser) AddRangeProcessor(vrp ValueRangeProcessor) {
	p.rangeProcs = append(p.rangeProcs, vrp)
}

// CorrectedQueryString returns the spelling-corrected form of the last
// parsed query, or "" when no correction applied.
func (p *QueryParser) CorrectedQueryString() string { return p.corrected }

// ParseQuery parses qs under the given feature flags.
func (p *QueryParser) ParseQuery(qs string, flags Flags, defaultPrefix string) (*query.Query, error) {
	lex := newLexer(p, qs, flags, defaultPrefix)
	toks := lex.run()
	p.corrected = lex.correctedQuery()
	ps := &parser{p: p, flags: flags, toks: toks}
	q := ps.parseExpr(0)
	if ps.err == nil && ps.peek().kind != tokEOF {
		ps.fail(ps.peek().offset, "parse error")
	}
	if ps.err != nil {
		return nil, ps.err
	}
	if q == nil {
		return query.MatchNothing(), nil
	}
	return q, nil
}

// ---------------------------------------------------------------------------
// Grammar pass
// ---------------------------------------------------------------------------

type parser struct {
	p     *QueryParser
	flags Flags
	toks  []token
	i     int
	err   *errors.ParseError
}

func (ps *parser) peek() token { return ps.toks[ps.i] }

func (ps *parser) next() token {
	t := ps.toks[ps.i]
	if t.kind != tokEOF {
		ps.i++
	}
	return t
}

func (ps *parser) fail(offset int, msg string) {
	if ps.err == nil {
		ps.err = &errors.ParseError{Message: msg, Offset: offset}
	}
}

// Binary operator precedence: AND and NOT bind tightest, then XOR, then OR.
func opPrec(kind tokKind) int {
	switch kind {
	case tokOr:
		return 1
	case tokXor:
		return 2
	case tokAnd, tokNot:
		return 3
	}
	return 0
}

func (ps *parser) parseExpr(minPrec int) *query.Query {
	left := ps.parseProbExpr()
	for ps.err == nil {
		t := ps.peek()
		prec := opPrec(t.kind)
		if prec == 0 || prec < minPrec {
			return left
		}
		ps.next()
		op := query.OpAnd
		name := "AND"
		switch t.kind {
		case tokOr:
			op, name = query.OpOr, "OR"
		case tokXor:
			op, name = query.OpXor, "XOR"
		case tokNot:
			op, name = query.OpAndNot, "NOT"
			if left == nil {
				if ps.flags&FlagPureNot != 0 {
					// 'NOT foo' means '<alldocuments> NOT foo'.
					left = query.MatchAll()
				}
			}
		case tokAnd:
			if ps.peek().kind == tokNot || ps.peek().kind == tokHateAfterAnd {
				ps.next()
				op = query.OpAndNot
			}
		}
		right := ps.parseExpr(prec + 1)
		if ps.err != nil {
			return nil
		}
		if left == nil || right == nil {
			ps.fail(t.offset, "Syntax: <expression> "+name+" <expression>")
			return nil
		}
		left = query.New(op, left, right)
	}
	return nil
}

// probQuery accumulates the pieces of a probabilistic expression.
type probQuery struct {
	query       *query.Query
	love        *query.Query
	hate        *query.Query
	filters     map[string]*query.Query
	filterOrder []string
}

func (pq *probQuery) addFilter(key string, q *query.Query) {
	if pq.filters == nil {
		pq.filters = make(map[string]*query.Query)
	}
	if old, ok := pq.filters[key]; ok {
		// Filters in the same group are alternatives.
		pq.filters[key] = query.New(query.OpOr, old, q)
		return
	}
	pq.filters[key] = q
	pq.filterOrder = append(pq.filterOrder, key)
}

func (pq *probQuery) mergeFilters() *query.Query {
	var q *query.Query
	for _, key := range pq.filterOrder {
		q = query.New(query.OpAnd, q, pq.filters[key])
	}
	return q
}

func (pq *probQuery) empty() bool {
	return pq.query == nil && pq.love == nil && pq.hate == nil && len(pq.filters) == 0
}

// parseProbExpr consumes a run of probabilistic tokens and merges them.
func (ps *parser) parseProbExpr() *query.Query {
	pq := &probQuery{}
	seen := false
	for ps.err == nil {
		t := ps.peek()
		switch t.kind {
		case tokLove:
			ps.next()
			if f := ps.peek(); f.kind == tokBooleanFilter {
				// +filter is just the filter.
				ps.next()
				pq.addFilter(f.term.filterGroupKey(), f.term.getQuery(ps.p))
				break
			}
			unit := ps.parseTermUnit(false)
			if ps.err != nil {
				return nil
			}
			if ps.p.defaultOp == query.OpAnd {
				// With AND as the default op a loved term is just a term.
				pq.query = query.New(query.OpAnd, pq.query, unit)
			} else {
				pq.love = query.New(query.OpAnd, pq.love, unit)
			}
		case tokHate:
			ps.next()
			if f := ps.peek(); f.kind == tokBooleanFilter {
				ps.next()
				pq.hate = query.New(query.OpOr, pq.hate, f.term.getQuery(ps.p))
				break
			}
			unit := ps.parseTermUnit(false)
			if ps.err != nil {
				return nil
			}
			if unit != nil {
				pq.hate = query.New(query.OpOr, pq.hate, unit)
			}
		case tokBooleanFilter:
			ps.next()
			pq.addFilter(t.term.filterGroupKey(), t.term.getQuery(ps.p))
		case tokRangeStart:
			ps.next()
			end := ps.next()
			if end.kind != tokRangeEnd {
				ps.fail(t.offset, "parse error")
				return nil
			}
			slot, rq := ps.valueRange(t.term.name, end.term.name, t.offset)
			if ps.err != nil {
				return nil
			}
			pq.addFilter("V\x00"+strconv.FormatUint(uint64(slot), 10), rq)
		case tokTerm, tokWildTerm, tokPartialTerm, tokQuote, tokBra, tokSynonym:
			unit := ps.parseTermUnit(true)
			if ps.err != nil {
				return nil
			}
			if unit != nil {
				pq.query = query.New(ps.p.defaultOp, pq.query, unit)
			}
		default:
			if !seen {
				return nil
			}
			return ps.mergeProb(pq, t.offset)
		}
		seen = true
	}
	return nil
}

// mergeProb combines the probabilistic part, loved terms, boolean filters
// and hated terms into one tree.
func (ps *parser) mergeProb(pq *probQuery, offset int) *query.Query {
	if pq.empty() {
		return nil
	}
	q := pq.query
	if pq.love != nil {
		if q == nil {
			q = pq.love
		} else {
			// Loved terms are required; the rest just add weight.
			q = query.New(query.OpAndMaybe, pq.love, q)
		}
	}
	if len(pq.filters) > 0 {
		f := query.Scale(0, pq.mergeFilters())
		if q == nil {
			// A pure filter is the query itself, scaled weightless.
			q = f
		} else {
			q = query.New(query.OpAndMaybe, f, q)
		}
	}
	if pq.hate != nil {
		if q == nil {
			// Can't just hate.
			ps.fail(offset, "parse error")
			return nil
		}
		q = query.New(query.OpAndNot, q, pq.hate)
	}
	return q
}

func (ps *parser) valueRange(lo, hi string, offset int) (uint32, *query.Query) {
	for _, vrp := range ps.p.rangeProcs {
		if slot, newLo, newHi, ok := vrp.Range(lo, hi); ok {
			return slot, query.Range(slot, newLo, newHi)
		}
	}
	ps.fail(offset, "Unknown range operation")
	return 0, nil
}

// parseTermUnit parses one term or compound term. With stop set, loose
// terms matching the stopper are dropped (returning nil).
func (ps *parser) parseTermUnit(stop bool) *query.Query {
	t := ps.peek()
	switch t.kind {
	case tokTerm:
		// Peek past the term for a compound continuation.
		switch ps.toks[ps.i+1].kind {
		case tokPhrTerm:
			return ps.parsePhrasedTerm()
		case tokGroupTerm:
			return ps.parseGroup()
		case tokNear:
			return ps.parseNearAdj(tokNear)
		case tokAdj:
			return ps.parseNearAdj(tokAdj)
		}
		ps.next()
		if stop && ps.p.stopper != nil && ps.p.stopper(t.term.name) {
			return nil
		}
		return t.term.getQueryWithAutoSynonyms(ps.p, ps.flags)
	case tokWildTerm:
		ps.next()
		return ps.wildcardQuery(t.term)
	case tokPartialTerm:
		ps.next()
		return ps.partialQuery(t.term)
	case tokQuote:
		return ps.parseQuotedPhrase()
	case tokBra:
		ps.next()
		sub := ps.parseExpr(0)
		if ps.err != nil {
			return nil
		}
		if ps.peek().kind != tokKet {
			ps.fail(ps.peek().offset, "parse error")
			return nil
		}
		ps.next()
		return sub
	case tokSynonym:
		ps.next()
		inner := ps.next()
		if inner.kind != tokTerm {
			ps.fail(inner.offset, "parse error")
			return nil
		}
		return inner.term.getQueryWithSynonyms(ps.p)
	}
	ps.fail(t.offset, "parse error")
	return nil
}

// parseQuotedPhrase consumes QUOTE phrase QUOTE.
func (ps *parser) parseQuotedPhrase() *query.Query {
	open := ps.next() // QUOTE
	var terms []*termInfo
	for ps.peek().kind == tokTerm {
		terms = append(terms, ps.next().term)
	}
	if ps.peek().kind != tokQuote {
		ps.fail(open.offset, "parse error")
		return nil
	}
	ps.next()
	if len(terms) == 0 {
		ps.fail(open.offset, "parse error")
		return nil
	}
	return ps.positionalQuery(query.OpPhrase, terms, uint32(len(terms)))
}

// parsePhrasedTerm consumes TERM PHR_TERM+ (dotted or hyphenated runs).
func (ps *parser) parsePhrasedTerm() *query.Query {
	terms := []*termInfo{ps.next().term}
	for ps.peek().kind == tokPhrTerm {
		terms = append(terms, ps.next().term)
	}
	return ps.positionalQuery(query.OpPhrase, terms, uint32(len(terms)))
}

// parseNearAdj consumes TERM (NEAR TERM)+ or TERM (ADJ TERM)+.
func (ps *parser) parseNearAdj(kind tokKind) *query.Query {
	terms := []*termInfo{ps.next().term}
	window := uint32(0)
	for ps.peek().kind == kind {
		op := ps.next()
		if op.window != 0 {
			window = op.window
		}
		inner := ps.next()
		if inner.kind != tokTerm {
			ps.fail(inner.offset, "parse error")
			return nil
		}
		terms = append(terms, inner.term)
	}
	if window == 0 {
		window = uint32(len(terms)) + 9
	}
	op := query.OpNear
	if kind == tokAdj {
		op = query.OpPhrase
	}
	return ps.positionalQuery(op, terms, window)
}

// positionalQuery builds a NEAR/PHRASE query over terms. When every term
// carries the same prefix list, one window query is built per prefix and
// the results ORed; otherwise each term uses its own first prefix.
func (ps *parser) positionalQuery(op query.Op, terms []*termInfo, window uint32) *query.Query {
	for _, t := range terms {
		t.needPositions()
	}
	uniform := true
	for _, t := range terms[1:] {
		if strings.Join(t.prefixes, "\x00") != strings.Join(terms[0].prefixes, "\x00") {
			uniform = false
			break
		}
	}
	if uniform && len(terms[0].prefixes) > 1 {
		var alts []*query.Query
		for _, prefix := range terms[0].prefixes {
			subs := make([]*query.Query, len(terms))
			for i, t := range terms {
				subs[i] = query.TermAt(t.makeTerm(ps.p, prefix), t.pos)
			}
			alts = append(alts, query.Positional(op, window, subs...))
		}
		return query.New(query.OpOr, alts...)
	}
	subs := make([]*query.Query, len(terms))
	for i, t := range terms {
		subs[i] = query.TermAt(t.makeTerm(ps.p, t.prefixes[0]), t.pos)
	}
	return query.Positional(op, window, subs...)
}

// parseGroup consumes TERM GROUP_TERM+ — terms separated only by
// whitespace — and joins them with the default operator, honouring
// multiword synonyms when enabled.
func (ps *parser) parseGroup() *query.Query {
	terms := []*termInfo{ps.next().term}
	for ps.peek().kind == tokGroupTerm {
		terms = append(terms, ps.next().term)
	}
	var subs []*query.Query
	if ps.flags&FlagAutoMultiwordSynonyms != 0 && ps.p.db != nil {
		subs = ps.groupWithMultiwordSynonyms(terms)
	} else {
		for _, t := range terms {
			if ps.p.stopper != nil && ps.p.stopper(t.name) {
				continue
			}
			subs = append(subs, t.getQueryWithAutoSynonyms(ps.p, ps.flags))
		}
	}
	if len(subs) == 0 {
		return nil
	}
	return query.New(ps.p.defaultOp, subs...)
}

// groupWithMultiwordSynonyms greedily matches the longest run of adjacent
// terms against the synonym keyspace; a matched span becomes a SYNONYM of
// the original span and its expansions.
func (ps *parser) groupWithMultiwordSynonyms(terms []*termInfo) []*query.Query {
	var subs []*query.Query
	i := 0
	for i < len(terms) {
		hasKey, err := ps.p.db.HasSynonymKeyPrefix(terms[i].name)
		if err != nil || !hasKey {
			if ps.p.stopper == nil || !ps.p.stopper(terms[i].name) {
				subs = append(subs, terms[i].getQueryWithAutoSynonyms(ps.p, ps.flags))
			}
			i++
			continue
		}
		// Greedily extend the key over following terms.
		j := i
		key := terms[i].name
		for j+1 < len(terms) {
			longer := key + " " + terms[j+1].name
			ok, err := ps.p.db.HasSynonymKeyPrefix(longer)
			if err != nil || !ok {
				break
			}
			key = longer
			j++
		}
		// Shrink until the key actually has synonyms.
		var syns []string
		for {
			syns, _ = ps.p.db.Synonyms(key)
			if len(syns) > 0 || j == i {
				break
			}
			key = key[:len(key)-len(terms[j].name)-1]
			j--
		}
		if len(syns) == 0 {
			if ps.p.stopper == nil || !ps.p.stopper(terms[i].name) {
				subs = append(subs, terms[i].getQueryWithAutoSynonyms(ps.p, ps.flags))
			}
			i++
			continue
		}
		var origSubs []*query.Query
		for k := i; k <= j; k++ {
			if ps.p.stopper != nil && ps.p.stopper(terms[k].name) {
				continue
			}
			origSubs = append(origSubs, terms[k].getQuery(ps.p))
		}
		original := query.New(ps.p.defaultOp, origSubs...)
		pos := terms[i].pos
		expansions := make([]*query.Query, len(syns))
		for k, syn := range syns {
			expansions[k] = query.TermAt(syn, pos)
		}
		expansion := query.New(query.OpSynonym, expansions...)
		subs = append(subs, &query.Query{Op: query.OpSynonym,
			Subs: []*query.Query{original, expansion}})
		i = j + 1
	}
	return subs
}

// wildcardQuery expands term* into a SYNONYM over the matching terms.
func (ps *parser) wildcardQuery(t *termInfo) *query.Query {
	subs := ps.expandWildcard(t)
	return query.New(query.OpSynonym, subs...)
}

// partialQuery treats the final term of an as-you-type query as both a
// wildcard and a full term, so an exact hit outranks truncated hits.
func (ps *parser) partialQuery(t *termInfo) *query.Query {
	partial := query.New(query.OpSynonym, ps.expandWildcard(t)...)
	var fulls []*query.Query
	for _, prefix := range t.prefixes {
		fulls = append(fulls, query.TermAt(t.makeTerm(ps.p, prefix), t.pos))
	}
	full := query.New(query.OpSynonym, fulls...)
	return query.New(query.OpOr, partial, full)
}

func (ps *parser) expandWildcard(t *termInfo) []*query.Query {
	var subs []*query.Query
	if ps.p.db == nil {
		return subs
	}
	for _, prefix := range t.prefixes {
		root := prefix + t.name
		it, err := ps.p.db.AllTerms(root)
		if err != nil {
			continue
		}
		for {
			if err := it.Next(); err != nil || it.AtEnd() {
				break
			}
			subs = append(subs, query.TermAt(it.Term(), t.pos))
		}
	}
	return subs
}
