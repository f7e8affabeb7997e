package backend

import (
	"sort"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// TermlistTable stores, per document, the sorted list of (term, wdf) pairs.
// Each entry starts with the document length and the number of terms, then
// the terms with prefix sharing against the previous term. The reuse byte
// doubles as a compact wdf carrier: values above the previous term's length
// encode (wdf+1)*(prevLen+1)+reuse in one byte, with no separate wdf field.
type TermlistTable struct {
	table *btree.Table
}

func termlistKey(did uint32) []byte {
	return pack.AppendUintPreservingSort(nil, uint64(did))
}

// TermWdf is one termlist entry.
type TermWdf struct {
	Term string
	Wdf  uint32
}

// EncodeTermList serialises entries (sorted by term) with doclen in the
// header. Exposed for byte-exact comparisons by replace_document.
func EncodeTermList(doclen uint64, entries []TermWdf) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	buf := pack.AppendUint(nil, doclen)
	buf = pack.AppendUint(buf, uint64(len(entries)))
	prev := ""
	for _, e := range entries {
		reuse := sharedPrefixLen(prev, e.Term)
		combined := (uint64(e.Wdf)+1)*uint64(len(prev)+1) + uint64(reuse)
		if combined <= 255 {
			buf = append(buf, byte(combined))
		} else {
			buf = append(buf, byte(reuse))
			buf = pack.AppendUint(buf, uint64(e.Wdf))
		}
		suffix := e.Term[reuse:]
		buf = pack.AppendUint(buf, uint64(len(suffix)))
		buf = append(buf, suffix...)
		prev = e.Term
	}
	return buf
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Set stores the termlist for did.
func (t *TermlistTable) Set(did uint32, doclen uint64, entries []TermWdf) error {
	return t.table.Add(termlistKey(did), EncodeTermList(doclen, entries))
}

// Delete removes the termlist for did, reporting whether one existed.
func (t *TermlistTable) Delete(did uint32) (bool, error) {
	return t.table.Del(termlistKey(did))
}

// Get returns the raw encoded termlist for did.
func (t *TermlistTable) Get(did uint32) ([]byte, bool, error) {
	return t.table.GetExact(termlistKey(did))
}

// Open returns an iterator over did's termlist, or DocNotFound.
func (t *TermlistTable) Open(did uint32) (*TermListIterator, error) {
	data, found, err := t.Get(did)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Newf(errors.ErrDocNotFound, "no termlist for document %d", did)
	}
	return NewTermListIterator(data)
}

// TermListIterator decodes a termlist lazily; it is not restartable.
type TermListIterator struct {
	data    []byte
	pos     int
	doclen  uint64
	count   uint32
	term    string
	wdf     uint32
	read    uint32
	started bool
	done    bool
}

// NewTermListIterator decodes the header of an encoded termlist.
func NewTermListIterator(data []byte) (*TermListIterator, error) {
	doclen, n, ok := pack.Uint(data)
	if !ok {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "termlist header corrupt")
	}
	count, m, ok := pack.Uint(data[n:])
	if !ok || count > 0xffffffff {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "termlist header corrupt")
	}
	return &TermListIterator{data: data, pos: n + m, doclen: doclen, count: uint32(count)}, nil
}

// DocLength returns the stored document length.
func (it *TermListIterator) DocLength() uint64 { return it.doclen }

// Count returns the number of terms in the list.
func (it *TermListIterator) Count() uint32 { return it.count }

// Next advances to the next (term, wdf) pair; advancing past the last entry
// sets AtEnd.
func (it *TermListIterator) Next() error {
	it.started = true
	if it.read >= it.count {
		it.done = true
		return nil
	}
	prevLen := len(it.term)
	if it.pos >= len(it.data) {
		return errors.New(errors.ErrDatabaseCorrupt, "termlist truncated")
	}
	b := int(it.data[it.pos])
	it.pos++
	var reuse int
	if b > prevLen {
		it.wdf = uint32(b/(prevLen+1) - 1)
		reuse = b % (prevLen + 1)
	} else {
		reuse = b
		wdf, n, ok := pack.Uint(it.data[it.pos:])
		if !ok || wdf > 0xffffffff {
			return errors.New(errors.ErrDatabaseCorrupt, "termlist wdf corrupt")
		}
		it.wdf = uint32(wdf)
		it.pos += n
	}
	suffixLen, n, ok := pack.Uint(it.data[it.pos:])
	if !ok {
		return errors.New(errors.ErrDatabaseCorrupt, "termlist suffix corrupt")
	}
	it.pos += n
	if it.pos+int(suffixLen) > len(it.data) || reuse > prevLen {
		return errors.New(errors.ErrDatabaseCorrupt, "termlist suffix corrupt")
	}
	it.term = it.term[:reuse] + string(it.data[it.pos:it.pos+int(suffixLen)])
	it.pos += int(suffixLen)
	it.read++
	return nil
}

// AtEnd reports whether the iterator has advanced past the last entry.
func (it *TermListIterator) AtEnd() bool { return it.done }

// Term returns the current term; valid after the first Next.
func (it *TermListIterator) Term() string { return it.term }

// Wdf returns the current within-document frequency.
func (it *TermListIterator) Wdf() uint32 { return it.wdf }
