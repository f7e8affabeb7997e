package btree

import (
	"encoding/binary"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

// Block layout. Every block starts with a 16-byte header:
//
//	[0:8]   revision the block was written at
//	[8]     kind (leaf, internal, overflow)
//	[9]     unused
//	[10:12] item count (leaf: items, internal: children)
//	[12:16] overflow payload length (overflow blocks only)
//
// Leaf bodies are a sequence of items: u16 key length, key bytes, u8 flags,
// u32 value length, value bytes. Internal bodies are the child block numbers
// (u32 each) followed by count-1 separator keys (u16 length + bytes).
const (
	blockHeaderSize = 16

	kindLeaf     = 0
	kindInternal = 1
	kindOverflow = 2

	itemCompressed = 1 << 0
	itemOverflow   = 1 << 1

	// nilBlk marks a root that has never been flushed.
	nilBlk = uint32(0xffffffff)
)

// item is one key/value entry in a leaf. val holds the bytes as stored: if
// overflow is set it is an encoded overflow chain, and if compressed is set
// the (resolved) payload is zlib-compressed.
type item struct {
	key        []byte
	val        []byte
	compressed bool
	overflow   bool
}

func (it *item) flags() byte {
	var f byte
	if it.compressed {
		f |= itemCompressed
	}
	if it.overflow {
		f |= itemOverflow
	}
	return f
}

func (it *item) encodedSize() int {
	return 2 + len(it.key) + 1 + 4 + len(it.val)
}

// childRef points at a child node, either by block number (on disk) or by an
// in-memory node that has not been assigned a block yet.
type childRef struct {
	blk  uint32
	node *node
}

// node is the in-memory form of a leaf or internal block.
type node struct {
	blk      uint32 // block the node was loaded from; 0 while dirty
	revision uint64
	leaf     bool
	dirty    bool

	// Leaf fields.
	items []item

	// Internal fields: kids has one more entry than keys; kids[i] holds
	// keys k with keys[i-1] <= k < keys[i].
	keys [][]byte
	kids []childRef

	byteSize int
}

func newLeaf() *node {
	return &node{leaf: true, dirty: true, byteSize: blockHeaderSize}
}

func (n *node) recomputeSize() {
	size := blockHeaderSize
	if n.leaf {
		for i := range n.items {
			size += n.items[i].encodedSize()
		}
	} else {
		size += 4 * len(n.kids)
		for _, k := range n.keys {
			size += 2 + len(k)
		}
	}
	n.byteSize = size
}

func parseNode(buf []byte, blk uint32) (*node, error) {
	if len(buf) < blockHeaderSize {
		return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: short block", blk)
	}
	rev := binary.LittleEndian.Uint64(buf[0:8])
	kind := buf[8]
	count := int(binary.LittleEndian.Uint16(buf[10:12]))
	body := buf[blockHeaderSize:]
	n := &node{blk: blk, revision: rev}
	switch kind {
	case kindLeaf:
		n.leaf = true
		p := 0
		for i := 0; i < count; i++ {
			if len(body)-p < 2 {
				return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated item", blk)
			}
			kl := int(binary.LittleEndian.Uint16(body[p:]))
			p += 2
			if len(body)-p < kl+5 {
				return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated key", blk)
			}
			key := body[p : p+kl : p+kl]
			p += kl
			flags := body[p]
			p++
			vl := int(binary.LittleEndian.Uint32(body[p:]))
			p += 4
			if len(body)-p < vl {
				return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated value", blk)
			}
			val := body[p : p+vl : p+vl]
			p += vl
			n.items = append(n.items, item{
				key:        key,
				val:        val,
				compressed: flags&itemCompressed != 0,
				overflow:   flags&itemOverflow != 0,
			})
		}
	case kindInternal:
		if count < 1 {
			return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: empty internal block", blk)
		}
		if len(body) < 4*count {
			return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated child table", blk)
		}
		for i := 0; i < count; i++ {
			n.kids = append(n.kids, childRef{blk: binary.LittleEndian.Uint32(body[4*i:])})
		}
		p := 4 * count
		for i := 0; i < count-1; i++ {
			if len(body)-p < 2 {
				return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated separator", blk)
			}
			kl := int(binary.LittleEndian.Uint16(body[p:]))
			p += 2
			if len(body)-p < kl {
				return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: truncated separator key", blk)
			}
			n.keys = append(n.keys, body[p:p+kl:p+kl])
			p += kl
		}
	default:
		return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d: bad block kind %d", blk, kind)
	}
	n.recomputeSize()
	return n, nil
}

func (n *node) serialize(buf []byte, rev uint64) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[0:8], rev)
	if n.leaf {
		buf[8] = kindLeaf
		binary.LittleEndian.PutUint16(buf[10:12], uint16(len(n.items)))
		p := blockHeaderSize
		for i := range n.items {
			it := &n.items[i]
			binary.LittleEndian.PutUint16(buf[p:], uint16(len(it.key)))
			p += 2
			p += copy(buf[p:], it.key)
			buf[p] = it.flags()
			p++
			binary.LittleEndian.PutUint32(buf[p:], uint32(len(it.val)))
			p += 4
			p += copy(buf[p:], it.val)
		}
	} else {
		buf[8] = kindInternal
		binary.LittleEndian.PutUint16(buf[10:12], uint16(len(n.kids)))
		p := blockHeaderSize
		for i := range n.kids {
			binary.LittleEndian.PutUint32(buf[p:], n.kids[i].blk)
			p += 4
		}
		for _, k := range n.keys {
			binary.LittleEndian.PutUint16(buf[p:], uint16(len(k)))
			p += 2
			p += copy(buf[p:], k)
		}
	}
}

// search returns the index of the first item with key >= k.
func (n *node) search(k []byte) int {
	lo, hi := 0, len(n.items)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(n.items[mid].key, k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex returns the index of the child subtree covering key k.
func (n *node) childIndex(k []byte) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(n.keys[mid], k) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func compareKeys(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
