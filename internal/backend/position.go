package backend

import (
	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// PositionTable stores, per (docid, term), the compressed vector of
// positions the term occurs at within the document. A single position is
// stored as a bare varint; longer lists store the last position as a varint
// header followed by an interpolative bit stream holding first, size-2, and
// the interior positions.
type PositionTable struct {
	table *btree.Table
}

func positionKey(did uint32, term string) []byte {
	key := pack.AppendUintPreservingSort(nil, uint64(did))
	return append(key, term...)
}

// Set stores positions, which must be strictly increasing and non-empty.
func (p *PositionTable) Set(did uint32, term string, positions []uint32) error {
	if len(positions) == 0 {
		return errors.New(errors.ErrInvalidArgument, "empty position list")
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			return errors.New(errors.ErrInvalidArgument, "positions not strictly increasing")
		}
	}
	key := positionKey(did, term)
	if len(positions) == 1 {
		return p.table.Add(key, pack.AppendUint(nil, uint64(positions[0])))
	}
	last := positions[len(positions)-1]
	first := positions[0]
	wr := newBitWriter(pack.AppendUint(nil, uint64(last)))
	wr.encode(first, last)
	wr.encode(uint32(len(positions)-2), last-first)
	wr.encodeInterpolative(positions, 0, len(positions)-1)
	return p.table.Add(key, wr.freeze())
}

// Delete removes the position list for (did, term), if any.
func (p *PositionTable) Delete(did uint32, term string) error {
	_, err := p.table.Del(positionKey(did, term))
	return err
}

// Get decodes the full position list for (did, term). A missing entry
// returns (nil, nil): absence of positions is not an error.
func (p *PositionTable) Get(did uint32, term string) ([]uint32, error) {
	data, found, err := p.table.GetExact(positionKey(did, term))
	if err != nil || !found {
		return nil, err
	}
	return decodePositionList(data)
}

// Count returns the number of positions without decoding the interior of
// the bit stream.
func (p *PositionTable) Count(did uint32, term string) (uint32, error) {
	data, found, err := p.table.GetExact(positionKey(did, term))
	if err != nil || !found {
		return 0, err
	}
	last, n, ok := pack.Uint(data)
	if !ok || last > 0xffffffff {
		return 0, errors.New(errors.ErrDatabaseCorrupt, "position list data corrupt")
	}
	if n == len(data) {
		return 1, nil
	}
	rd := newBitReader(data[n:])
	first := rd.decode(uint32(last))
	size := rd.decode(uint32(last)-first) + 2
	if rd.bad {
		return 0, errors.New(errors.ErrDatabaseCorrupt, "position list data corrupt")
	}
	return size, nil
}

func decodePositionList(data []byte) ([]uint32, error) {
	last, n, ok := pack.Uint(data)
	if !ok || last > 0xffffffff {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "position list data corrupt")
	}
	if n == len(data) {
		return []uint32{uint32(last)}, nil
	}
	rd := newBitReader(data[n:])
	first := rd.decode(uint32(last))
	size := rd.decode(uint32(last)-first) + 2
	if rd.bad || first > uint32(last) || size > uint32(last)-first+2 {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "position list data corrupt")
	}
	positions := make([]uint32, size)
	positions[0] = first
	positions[size-1] = uint32(last)
	rd.decodeInterpolative(positions, 0, int(size)-1)
	if rd.bad {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "position list data corrupt")
	}
	return positions, nil
}

// PositionIterator walks a decoded position list in order.
type PositionIterator struct {
	positions []uint32
	idx       int
	started   bool
}

// NewPositionIterator wraps an already-decoded list.
func NewPositionIterator(positions []uint32) *PositionIterator {
	return &PositionIterator{positions: positions}
}

func (it *PositionIterator) Next() {
	if !it.started {
		it.started = true
		return
	}
	it.idx++
}

// SkipTo advances to the first position >= pos.
func (it *PositionIterator) SkipTo(pos uint32) {
	it.started = true
	for it.idx < len(it.positions) && it.positions[it.idx] < pos {
		it.idx++
	}
}

func (it *PositionIterator) AtEnd() bool {
	return it.idx >= len(it.positions)
}

func (it *PositionIterator) Position() uint32 {
	return it.positions[it.idx]
}

func (it *PositionIterator) Size() uint32 {
	return uint32(len(it.positions))
}
