package queryparser

import (
	"strings"

	"github.com/lodestone-search/lodestone/internal/query"
)

// Flags select optional query syntax features.
type Flags uint32

const (
	// FlagBoolean enables AND/OR/NOT/XOR operators and brackets.
	FlagBoolean Flags = 1 << iota
	// FlagPhrase enables quoted phrases.
	FlagPhrase
	// FlagLoveHate enables +term and -term.
	FlagLoveHate
	// FlagBooleanAnyCase matches boolean operators in any case.
	FlagBooleanAnyCase
	// FlagWildcard enables right truncation: term*.
	FlagWildcard
	// FlagPureNot allows NOT with no left argument.
	FlagPureNot
	// FlagPartial treats the final term as incomplete (as-you-type).
	FlagPartial
	// FlagSpellingCorrection records a corrected query string.
	FlagSpellingCorrection
	// FlagSynonym enables the ~term operator.
	FlagSynonym
	// FlagAutoSynonyms expands every term through the synonym table.
	FlagAutoSynonyms
	// FlagAutoMultiwordSynonyms additionally matches synonym keys across
	// adjacent terms in a group.
	FlagAutoMultiwordSynonyms

	// FlagDefault is the conventional feature set.
	FlagDefault = FlagBoolean | FlagPhrase | FlagLoveHate
)

// StemStrategy controls which terms get stemmed.
type StemStrategy int

const (
	// StemNone never stems.
	StemNone StemStrategy = iota
	// StemSome stems terms not used positionally, prefixing them with Z.
	StemSome
	// StemAll stems every term, without the Z prefix.
	StemAll
)

// Stemmer folds a word to its stem. The engine treats it as a pure
// string-to-string function.
type Stemmer func(string) string

type tokKind int

const (
	tokEOF tokKind = iota
	tokTerm
	tokGroupTerm
	tokPhrTerm
	tokWildTerm
	tokPartialTerm
	tokBooleanFilter
	tokRangeStart
	tokRangeEnd
	tokQuote
	tokBra
	tokKet
	tokAnd
	tokOr
	tokNot
	tokXor
	tokNear
	tokAdj
	tokLove
	tokHate
	tokHateAfterAnd
	tokSynonym
)

type token struct {
	kind   tokKind
	term   *termInfo
	window uint32 // NEAR/n, ADJ/n
	offset int    // byte offset into the query string
}

// termInfo carries a lexed term from the lexer to the parser.
type termInfo struct {
	name      string // folded form
	unstemmed string
	prefixes  []string
	stem      StemStrategy
	pos       uint32
	field     string // unstemmed field:name form, for filters
}

// needPositions downgrades StemSome for terms used positionally.
func (t *termInfo) needPositions() {
	if t.stem == StemSome {
		t.stem = StemNone
	}
}

// prefixNeedsColon reports whether prefix must be separated from a term
// starting with ch by a colon.
func prefixNeedsColon(prefix string, ch rune) bool {
	if !(ch >= 'A' && ch <= 'Z') {
		return false
	}
	return len(prefix) > 1 && prefix[len(prefix)-1] != ':'
}

// makeTerm builds the indexed form of the term under one prefix.
func (t *termInfo) makeTerm(p *QueryParser, prefix string) string {
	var b strings.Builder
	if t.stem == StemSome {
		b.WriteByte('Z')
	}
	if prefix != "" {
		b.WriteString(prefix)
		if prefixNeedsColon(prefix, firstRune(t.name)) {
			b.WriteByte(':')
		}
	}
	if t.stem != StemNone && p.stemmer != nil {
		b.WriteString(p.stemmer(t.name))
	} else {
		b.WriteString(t.name)
	}
	return b.String()
}

// getQuery converts the term to a query node, ORing over its prefixes.
func (t *termInfo) getQuery(p *QueryParser) *query.Query {
	q := query.TermAt(t.makeTerm(p, t.prefixes[0]), t.pos)
	for _, prefix := range t.prefixes[1:] {
		q = query.New(query.OpOr, q, query.TermAt(t.makeTerm(p, prefix), t.pos))
	}
	return q
}

// getQueryWithSynonyms additionally ORs in stored synonyms of the term as a
// SYNONYM group.
func (t *termInfo) getQueryWithSynonyms(p *QueryParser) *query.Query {
	q := t.getQuery(p)
	if p.db == nil {
		return q
	}
	for _, prefix := range t.prefixes {
		name := t.name
		var b strings.Builder
		if prefix != "" {
			b.WriteString(prefix)
			if prefixNeedsColon(prefix, firstRune(name)) {
				b.WriteByte(':')
			}
		}
		b.WriteString(name)
		syns, err := p.db.Synonyms(b.String())
		if err != nil {
			continue
		}
		for _, syn := range syns {
			q = &query.Query{Op: query.OpSynonym,
				Subs: []*query.Query{q, query.TermAt(syn, t.pos)}}
		}
	}
	return q
}

func (t *termInfo) getQueryWithAutoSynonyms(p *QueryParser, flags Flags) *query.Query {
	if flags&FlagAutoSynonyms != 0 {
		return t.getQueryWithSynonyms(p)
	}
	return t.getQuery(p)
}

// filterGroupKey identifies the OR-group a boolean filter belongs to.
func (t *termInfo) filterGroupKey() string {
	return "P\x00" + strings.Join(t.prefixes, "\x00")
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
