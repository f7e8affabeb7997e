package backend

import (
	"sort"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

// maxTermLength bounds terms so encoded table keys stay within the block
// format's key limit.
const maxTermLength = 245

// Document is the in-memory form of a document handed to the writer:
// a multiset of (term, wdf) pairs with optional position lists, a value
// slot map, and an opaque data payload.
type Document struct {
	data   []byte
	terms  map[string]*docTerm
	values map[uint32][]byte
}

type docTerm struct {
	wdf       uint32
	positions []uint32 // strictly increasing
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		terms:  make(map[string]*docTerm),
		values: make(map[uint32][]byte),
	}
}

// SetData sets the opaque record payload.
func (d *Document) SetData(data []byte) {
	d.data = append([]byte(nil), data...)
}

// Data returns the record payload.
func (d *Document) Data() []byte { return d.data }

// AddTerm adds term with a wdf increment and no position.
func (d *Document) AddTerm(term string, wdfInc uint32) error {
	if term == "" || len(term) > maxTermLength {
		return errors.Newf(errors.ErrInvalidArgument, "bad term %q", term)
	}
	t := d.terms[term]
	if t == nil {
		t = &docTerm{}
		d.terms[term] = t
	}
	t.wdf += wdfInc
	return nil
}

// AddPosting adds an occurrence of term at pos, incrementing wdf.
func (d *Document) AddPosting(term string, pos uint32, wdfInc uint32) error {
	if err := d.AddTerm(term, wdfInc); err != nil {
		return err
	}
	t := d.terms[term]
	i := sort.Search(len(t.positions), func(i int) bool { return t.positions[i] >= pos })
	if i < len(t.positions) && t.positions[i] == pos {
		return nil
	}
	t.positions = append(t.positions, 0)
	copy(t.positions[i+1:], t.positions[i:])
	t.positions[i] = pos
	return nil
}

// RemoveTerm deletes term and its positions.
func (d *Document) RemoveTerm(term string) bool {
	if _, ok := d.terms[term]; !ok {
		return false
	}
	delete(d.terms, term)
	return true
}

// AddValue sets the value in slot; an empty value clears the slot.
func (d *Document) AddValue(slot uint32, value []byte) error {
	if slot > maxValueSlot {
		return errors.Newf(errors.ErrInvalidArgument, "value slot %d out of range", slot)
	}
	if len(value) == 0 {
		delete(d.values, slot)
		return nil
	}
	d.values[slot] = append([]byte(nil), value...)
	return nil
}

// Value returns the value in slot, or nil.
func (d *Document) Value(slot uint32) []byte { return d.values[slot] }

// Length returns the document length: the sum of wdfs.
func (d *Document) Length() uint64 {
	var sum uint64
	for _, t := range d.terms {
		sum += uint64(t.wdf)
	}
	return sum
}

// TermCount returns the number of distinct terms.
func (d *Document) TermCount() int { return len(d.terms) }

// sortedTerms returns the term names in sorted order.
func (d *Document) sortedTerms() []string {
	names := make([]string, 0, len(d.terms))
	for name := range d.terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// termList returns the (term, wdf) pairs sorted by term.
func (d *Document) termList() []TermWdf {
	out := make([]TermWdf, 0, len(d.terms))
	for _, name := range d.sortedTerms() {
		out = append(out, TermWdf{Term: name, Wdf: d.terms[name].wdf})
	}
	return out
}
