package backend

import (
	"bytes"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// ValueTable stores per-document value slots:
//
//	entry key:  UintPreservingSort(slot) UintPreservingSort(did) → value
//	stats key:  0xff Uint(slot) → Uint(freq) String(lower) upper
//
// The 0xff lead byte cannot collide with entry keys, whose first byte is a
// UintPreservingSort width (at most 8).
type ValueTable struct {
	table *btree.Table
}

const maxValueSlot = 0x00ffffff

func valueKey(slot, did uint32) []byte {
	key := pack.AppendUintPreservingSort(nil, uint64(slot))
	return pack.AppendUintPreservingSort(key, uint64(did))
}

func valueStatsKey(slot uint32) []byte {
	return pack.AppendUint([]byte{0xff}, uint64(slot))
}

type valueStats struct {
	freq  uint64
	lower []byte
	upper []byte
}

func (v *ValueTable) readStats(slot uint32) (valueStats, error) {
	var st valueStats
	data, found, err := v.table.GetExact(valueStatsKey(slot))
	if err != nil || !found {
		return st, err
	}
	freq, n, ok := pack.Uint(data)
	if !ok {
		return st, errors.New(errors.ErrDatabaseCorrupt, "value stats corrupt")
	}
	lower, m, ok := pack.String(data[n:])
	if !ok {
		return st, errors.New(errors.ErrDatabaseCorrupt, "value stats corrupt")
	}
	st.freq = freq
	st.lower = lower
	st.upper = data[n+m:]
	return st, nil
}

func (v *ValueTable) writeStats(slot uint32, st valueStats) error {
	if st.freq == 0 {
		_, err := v.table.Del(valueStatsKey(slot))
		return err
	}
	buf := pack.AppendUint(nil, st.freq)
	buf = pack.AppendString(buf, st.lower)
	buf = append(buf, st.upper...)
	return v.table.Add(valueStatsKey(slot), buf)
}

// Set stores value in slot for did, maintaining the slot statistics.
func (v *ValueTable) Set(did, slot uint32, value []byte) error {
	if slot > maxValueSlot {
		return errors.Newf(errors.ErrInvalidArgument, "value slot %d out of range", slot)
	}
	key := valueKey(slot, did)
	_, had, err := v.table.GetExact(key)
	if err != nil {
		return err
	}
	if err := v.table.Add(key, value); err != nil {
		return err
	}
	st, err := v.readStats(slot)
	if err != nil {
		return err
	}
	if !had {
		st.freq++
	}
	if st.freq == 1 && !had {
		st.lower = append([]byte(nil), value...)
		st.upper = append([]byte(nil), value...)
	} else {
		if bytes.Compare(value, st.lower) < 0 {
			st.lower = append([]byte(nil), value...)
		}
		if bytes.Compare(value, st.upper) > 0 {
			st.upper = append([]byte(nil), value...)
		}
	}
	return v.writeStats(slot, st)
}

// Delete removes did's value in slot, if any. The stored bounds are left
// untouched: they stay valid as bounds, just possibly slack.
func (v *ValueTable) Delete(did, slot uint32) error {
	removed, err := v.table.Del(valueKey(slot, did))
	if err != nil || !removed {
		return err
	}
	st, err := v.readStats(slot)
	if err != nil {
		return err
	}
	st.freq--
	return v.writeStats(slot, st)
}

// Get returns did's value in slot, or nil if absent.
func (v *ValueTable) Get(did, slot uint32) ([]byte, error) {
	data, _, err := v.table.GetExact(valueKey(slot, did))
	return data, err
}

// Freq returns how many documents carry a value in slot, with the stored
// lower and upper bounds.
func (v *ValueTable) Freq(slot uint32) (uint64, []byte, []byte, error) {
	st, err := v.readStats(slot)
	return st.freq, st.lower, st.upper, err
}

// Iterator returns a docid-ordered iterator over slot's entries.
func (v *ValueTable) Iterator(slot uint32) *ValueIterator {
	return &ValueIterator{
		cursor: v.table.Cursor(),
		prefix: pack.AppendUintPreservingSort(nil, uint64(slot)),
	}
}

// ValueIterator walks (docid, value) entries of one slot in docid order.
type ValueIterator struct {
	cursor  *btree.Cursor
	prefix  []byte
	did     uint32
	value   []byte
	started bool
	done    bool
}

func (it *ValueIterator) enter() error {
	if it.cursor.AfterEnd() {
		it.done = true
		return nil
	}
	key, err := it.cursor.CurrentKey()
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(key, it.prefix) {
		it.done = true
		return nil
	}
	did, _, ok := pack.UintPreservingSort(key[len(it.prefix):])
	if !ok || did > 0xffffffff {
		return errors.New(errors.ErrDatabaseCorrupt, "value key corrupt")
	}
	val, _, err := it.cursor.ReadTag(false)
	if err != nil {
		return err
	}
	it.did = uint32(did)
	it.value = val
	return nil
}

// Next advances to the next document with a value in the slot.
func (it *ValueIterator) Next() error {
	if it.done {
		return nil
	}
	if !it.started {
		it.started = true
		if _, err := it.cursor.FindEntryGE(it.prefix); err != nil {
			return err
		}
		return it.enter()
	}
	if err := it.cursor.Next(); err != nil {
		return err
	}
	return it.enter()
}

// SkipTo advances to the first entry with docid >= did.
func (it *ValueIterator) SkipTo(did uint32) error {
	if it.done {
		return nil
	}
	it.started = true
	seek := pack.AppendUintPreservingSort(it.prefix[:len(it.prefix):len(it.prefix)], uint64(did))
	if _, err := it.cursor.FindEntryGE(seek); err != nil {
		return err
	}
	return it.enter()
}

func (it *ValueIterator) AtEnd() bool { return it.done }

func (it *ValueIterator) Docid() uint32 { return it.did }

func (it *ValueIterator) Value() []byte { return it.value }
