// Package query defines the operator tree produced by the query parser and
// consumed by the matcher.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Op enumerates the query operators.
type Op int

const (
	OpLeaf Op = iota
	OpAnd
	OpOr
	OpAndNot
	OpXor
	OpAndMaybe
	OpFilter
	OpNear
	OpPhrase
	OpValueRange
	OpScaleWeight
	OpSynonym
	OpMatchAll
	OpMatchNothing
)

var opNames = map[Op]string{
	OpAnd:      "AND",
	OpOr:       "OR",
	OpAndNot:   "AND_NOT",
	OpXor:      "XOR",
	OpAndMaybe: "AND_MAYBE",
	OpFilter:   "FILTER",
	OpNear:     "NEAR",
	OpPhrase:   "PHRASE",
	OpSynonym:  "SYNONYM",
}

// Query is a node of the operator tree.
type Query struct {
	Op   Op
	Subs []*Query

	// Leaf fields.
	Term string
	Wqf  uint32 // within-query frequency
	Pos  uint32 // term position in the query

	// Value range fields.
	Slot   uint32
	Lo, Hi string

	// Positional window for NEAR / PHRASE.
	Window uint32

	// Weight multiplier for SCALE_WEIGHT.
	Scale float64
}

// Term returns a leaf for term with wqf 1.
func Term(term string) *Query {
	return &Query{Op: OpLeaf, Term: term, Wqf: 1}
}

// TermAt returns a leaf for term at query position pos.
func TermAt(term string, pos uint32) *Query {
	return &Query{Op: OpLeaf, Term: term, Wqf: 1, Pos: pos}
}

// MatchAll matches every document with zero weight.
func MatchAll() *Query { return &Query{Op: OpMatchAll} }

// MatchNothing matches no document.
func MatchNothing() *Query { return &Query{Op: OpMatchNothing} }

// New combines subqueries under op, simplifying the degenerate cases.
func New(op Op, subs ...*Query) *Query {
	kept := subs[:0]
	for _, s := range subs {
		if s == nil {
			continue
		}
		kept = append(kept, s)
	}
	switch len(kept) {
	case 0:
		return MatchNothing()
	case 1:
		if op != OpScaleWeight && op != OpNear && op != OpPhrase {
			return kept[0]
		}
	}
	return &Query{Op: op, Subs: kept}
}

// Positional builds a NEAR or PHRASE node over subs with the given window.
func Positional(op Op, window uint32, subs ...*Query) *Query {
	if len(subs) == 1 {
		return subs[0]
	}
	if window == 0 {
		window = uint32(len(subs))
	}
	return &Query{Op: op, Subs: subs, Window: window}
}

// Range returns a VALUE_RANGE node over slot.
func Range(slot uint32, lo, hi string) *Query {
	return &Query{Op: OpValueRange, Slot: slot, Lo: lo, Hi: hi}
}

// Scale wraps q with a weight multiplier. Queries that already carry no
// weight (value ranges, match-all) pass through untouched.
func Scale(factor float64, q *Query) *Query {
	if q == nil {
		return MatchNothing()
	}
	if q.Op == OpValueRange || q.Op == OpMatchAll || q.Op == OpMatchNothing {
		return q
	}
	if q.Op == OpScaleWeight {
		return &Query{Op: OpScaleWeight, Scale: factor * q.Scale, Subs: q.Subs}
	}
	return &Query{Op: OpScaleWeight, Scale: factor, Subs: []*Query{q}}
}

// Empty reports whether q matches nothing.
func (q *Query) Empty() bool {
	return q == nil || q.Op == OpMatchNothing
}

// String renders the tree in the conventional infix form, e.g.
// "(((0 * Hexample.com) AND_MAYBE quick) AND_NOT brown)".
func (q *Query) String() string {
	if q == nil {
		return "<null>"
	}
	switch q.Op {
	case OpLeaf:
		if q.Wqf > 1 {
			return q.Term + ":" + strconv.FormatUint(uint64(q.Wqf), 10)
		}
		return q.Term
	case OpMatchAll:
		return "<alldocuments>"
	case OpMatchNothing:
		return "<nothing>"
	case OpValueRange:
		return fmt.Sprintf("VALUE_RANGE %d %s %s", q.Slot, q.Lo, q.Hi)
	case OpScaleWeight:
		return fmt.Sprintf("(%g * %s)", q.Scale, q.Subs[0])
	case OpNear, OpPhrase:
		parts := make([]string, len(q.Subs))
		for i, s := range q.Subs {
			parts[i] = s.String()
		}
		return "(" + strings.Join(parts, " "+opNames[q.Op]+" "+strconv.FormatUint(uint64(q.Window), 10)+" ") + ")"
	default:
		parts := make([]string, len(q.Subs))
		for i, s := range q.Subs {
			parts[i] = s.String()
		}
		return "(" + strings.Join(parts, " "+opNames[q.Op]+" ") + ")"
	}
}
