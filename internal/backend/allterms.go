package backend

import (
	"bytes"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// AllTermsIterator walks the distinct terms of the postlist table in sorted
// order, optionally restricted to a prefix, exposing each term's frequency
// statistics. Continuation chunks and the reserved meta keys are skipped.
type AllTermsIterator struct {
	cursor   *btree.Cursor
	prefix   string
	term     string
	termFreq uint32
	collFreq uint64
	started  bool
	done     bool
}

// AllTerms returns an iterator over terms starting with prefix (every term
// when prefix is empty). The all-docs list (empty term) is not included.
func (p *PostlistTable) AllTerms(prefix string) *AllTermsIterator {
	return &AllTermsIterator{cursor: p.table.Cursor(), prefix: prefix}
}

// Next advances to the next distinct term.
func (it *AllTermsIterator) Next() error {
	if it.done {
		return nil
	}
	if !it.started {
		it.started = true
		seek := postlistKey(it.prefix)
		// Strip the terminator so the seek lands on the first term with
		// the prefix rather than the exact term only.
		seek = seek[:len(seek)-2]
		if it.prefix == "" {
			// Skip the reserved meta namespace and the all-docs list.
			seek = postlistKey("")
		}
		if _, err := it.cursor.FindEntryGE(seek); err != nil {
			return err
		}
	} else {
		if err := it.cursor.Next(); err != nil {
			return err
		}
	}
	for {
		if it.cursor.AfterEnd() {
			it.done = true
			return nil
		}
		key, err := it.cursor.CurrentKey()
		if err != nil {
			return err
		}
		term, n, ok := pack.StringPreservingSort(key)
		if !ok {
			// Reserved meta keys do not parse as term keys.
			if len(key) > 0 && key[0] == 0x00 && !bytes.Equal(key, postlistKey("")) {
				if err := it.cursor.Next(); err != nil {
					return err
				}
				continue
			}
			return errors.New(errors.ErrDatabaseCorrupt, "postlist key corrupt")
		}
		if n != len(key) || len(term) == 0 {
			// Continuation chunk or the all-docs list: skip.
			if err := it.cursor.Next(); err != nil {
				return err
			}
			continue
		}
		if it.prefix != "" && !bytes.HasPrefix(term, []byte(it.prefix)) {
			it.done = true
			return nil
		}
		data, _, err := it.cursor.ReadTag(false)
		if err != nil {
			return err
		}
		tf, a, ok := pack.Uint(data)
		if !ok || tf > 0xffffffff {
			return errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
		}
		cf, _, ok := pack.Uint(data[a:])
		if !ok {
			return errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
		}
		it.term = string(term)
		it.termFreq = uint32(tf)
		it.collFreq = cf
		return nil
	}
}

// AtEnd reports whether iteration is complete.
func (it *AllTermsIterator) AtEnd() bool { return it.done }

// Term returns the current term.
func (it *AllTermsIterator) Term() string { return it.term }

// TermFreq returns the number of documents containing the current term.
func (it *AllTermsIterator) TermFreq() uint32 { return it.termFreq }

// CollFreq returns the current term's collection frequency.
func (it *AllTermsIterator) CollFreq() uint64 { return it.collFreq }
