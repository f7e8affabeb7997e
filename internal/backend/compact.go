package backend

// Table-level merge helpers for the compactor. These know the key shapes of
// the docid-keyed tables and the wordlist formats of the spelling and
// synonym tables; the merge policy (renumbering, source order, multipass)
// lives in the compactor package.

import (
	"bytes"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// CopyDocidTable copies every entry of a docid-keyed source table into dst,
// adding offset to the docid embedded in each key. Values are copied raw,
// still compressed. name selects the key shape: "record", "termlist",
// "position" or "value".
func CopyDocidTable(dst, src *btree.Table, name string, offset uint32) error {
	c := src.Cursor()
	for {
		if err := c.Next(); err != nil {
			return err
		}
		if c.AfterEnd() {
			return nil
		}
		key, err := c.CurrentKey()
		if err != nil {
			return err
		}
		newKey, copyRaw, err := remapDocidKey(name, key, offset)
		if err != nil {
			return err
		}
		if !copyRaw {
			continue // handled by a dedicated merge pass
		}
		val, compressed, err := c.ReadTag(true)
		if err != nil {
			return err
		}
		if err := dst.AddRaw(newKey, val, compressed); err != nil {
			return err
		}
	}
}

func remapDocidKey(name string, key []byte, offset uint32) ([]byte, bool, error) {
	switch name {
	case "record", "termlist":
		did, n, ok := pack.UintPreservingSort(key)
		if !ok || n != len(key) || did > 0xffffffff {
			return nil, false, errors.Newf(errors.ErrDatabaseCorrupt, "bad %s key", name)
		}
		return pack.AppendUintPreservingSort(nil, did+uint64(offset)), true, nil
	case "position":
		did, n, ok := pack.UintPreservingSort(key)
		if !ok || did > 0xffffffff {
			return nil, false, errors.New(errors.ErrDatabaseCorrupt, "bad position key")
		}
		newKey := pack.AppendUintPreservingSort(nil, did+uint64(offset))
		return append(newKey, key[n:]...), true, nil
	case "value":
		if len(key) == 0 {
			return nil, false, errors.New(errors.ErrDatabaseCorrupt, "empty value key")
		}
		switch key[0] {
		case 0xff:
			// Per-slot statistics: merged separately.
			return nil, false, nil
		case 0xfe:
			did, _, ok := pack.UintPreservingSort(key[1:])
			if !ok || did > 0xffffffff {
				return nil, false, errors.New(errors.ErrDatabaseCorrupt, "bad slot-list key")
			}
			return pack.AppendUintPreservingSort([]byte{0xfe}, did+uint64(offset)), true, nil
		}
		slot, n, ok := pack.UintPreservingSort(key)
		if !ok {
			return nil, false, errors.New(errors.ErrDatabaseCorrupt, "bad value key")
		}
		did, m, ok := pack.UintPreservingSort(key[n:])
		if !ok || n+m != len(key) || did > 0xffffffff {
			return nil, false, errors.New(errors.ErrDatabaseCorrupt, "bad value key")
		}
		newKey := pack.AppendUintPreservingSort(nil, slot)
		return pack.AppendUintPreservingSort(newKey, did+uint64(offset)), true, nil
	}
	return nil, false, errors.Newf(errors.ErrInvalidArgument, "unknown docid table %q", name)
}

// MergeValueStats sums per-slot frequencies and widens bounds across the
// source value tables.
func MergeValueStats(dst *btree.Table, srcs []*btree.Table) error {
	merged := make(map[uint64]*valueStats)
	var order []uint64
	for _, src := range srcs {
		c := src.Cursor()
		if _, err := c.FindEntryGE([]byte{0xff}); err != nil {
			return err
		}
		for !c.AfterEnd() {
			key, err := c.CurrentKey()
			if err != nil {
				return err
			}
			slot, _, ok := pack.Uint(key[1:])
			if !ok {
				return errors.New(errors.ErrDatabaseCorrupt, "bad value stats key")
			}
			tag, _, err := c.ReadTag(false)
			if err != nil {
				return err
			}
			st, err := decodeValueStats(tag)
			if err != nil {
				return err
			}
			if got := merged[slot]; got == nil {
				cp := st
				merged[slot] = &cp
				order = append(order, slot)
			} else {
				got.freq += st.freq
				if bytes.Compare(st.lower, got.lower) < 0 {
					got.lower = st.lower
				}
				if bytes.Compare(st.upper, got.upper) > 0 {
					got.upper = st.upper
				}
			}
			if err := c.Next(); err != nil {
				return err
			}
		}
	}
	for _, slot := range order {
		st := merged[slot]
		buf := pack.AppendUint(nil, st.freq)
		buf = pack.AppendString(buf, st.lower)
		buf = append(buf, st.upper...)
		if err := dst.Add(pack.AppendUint([]byte{0xff}, slot), buf); err != nil {
			return err
		}
	}
	return nil
}

func decodeValueStats(tag []byte) (valueStats, error) {
	var st valueStats
	freq, n, ok := pack.Uint(tag)
	if !ok {
		return st, errors.New(errors.ErrDatabaseCorrupt, "value stats corrupt")
	}
	lower, m, ok := pack.String(tag[n:])
	if !ok {
		return st, errors.New(errors.ErrDatabaseCorrupt, "value stats corrupt")
	}
	st.freq = freq
	st.lower = append([]byte(nil), lower...)
	st.upper = append([]byte(nil), tag[n+m:]...)
	return st, nil
}

// MergeSpelling unions the source spelling tables into dst: word
// frequencies are summed, trigram wordlists unioned with duplicates
// dropped.
func MergeSpelling(dst *btree.Table, srcs []*btree.Table) error {
	freqs := make(map[string]uint64)
	tris := make(map[string]map[string]bool)
	for _, src := range srcs {
		c := src.Cursor()
		for {
			if err := c.Next(); err != nil {
				return err
			}
			if c.AfterEnd() {
				break
			}
			key, err := c.CurrentKey()
			if err != nil {
				return err
			}
			tag, _, err := c.ReadTag(false)
			if err != nil {
				return err
			}
			switch {
			case len(key) > 1 && key[0] == 'W':
				freq, _, ok := pack.Uint(tag)
				if !ok {
					return errors.New(errors.ErrDatabaseCorrupt, "spelling frequency corrupt")
				}
				freqs[string(key[1:])] += freq
			case len(key) > 1 && key[0] == 'T':
				words, err := decodeWordList(tag)
				if err != nil {
					return err
				}
				set := tris[string(key[1:])]
				if set == nil {
					set = make(map[string]bool)
					tris[string(key[1:])] = set
				}
				for _, w := range words {
					set[w] = true
				}
			default:
				return errors.New(errors.ErrDatabaseCorrupt, "unrecognised spelling key")
			}
		}
	}
	for word, freq := range freqs {
		key := append([]byte{'W'}, word...)
		if err := dst.Add(key, pack.AppendUint(nil, freq)); err != nil {
			return err
		}
	}
	for tri, set := range tris {
		words := make([]string, 0, len(set))
		for w := range set {
			words = append(words, w)
		}
		key := append([]byte{'T'}, tri...)
		if err := dst.Add(key, encodeWordList(words)); err != nil {
			return err
		}
	}
	return nil
}

// MergeSynonyms unions the source synonym tables into dst, deduplicating
// each term's word list.
func MergeSynonyms(dst *btree.Table, srcs []*btree.Table) error {
	lists := make(map[string]map[string]bool)
	for _, src := range srcs {
		c := src.Cursor()
		for {
			if err := c.Next(); err != nil {
				return err
			}
			if c.AfterEnd() {
				break
			}
			key, err := c.CurrentKey()
			if err != nil {
				return err
			}
			tag, _, err := c.ReadTag(false)
			if err != nil {
				return err
			}
			words, err := decodeWordList(tag)
			if err != nil {
				return err
			}
			set := lists[string(key)]
			if set == nil {
				set = make(map[string]bool)
				lists[string(key)] = set
			}
			for _, w := range words {
				set[w] = true
			}
		}
	}
	for term, set := range lists {
		words := make([]string, 0, len(set))
		for w := range set {
			words = append(words, w)
		}
		if err := dst.Add([]byte(term), encodeWordList(words)); err != nil {
			return err
		}
	}
	return nil
}

// PostlistStore exposes the typed postlist layer; the compactor writes
// merged posting lists through it.
func (db *Database) PostlistStore() *PostlistTable { return db.postlist }
