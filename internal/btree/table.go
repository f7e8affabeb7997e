// Package btree implements the on-disk key/value table every index
// structure is built on: an append-only, revision-numbered B-tree over
// fixed-size blocks, published atomically through two alternating base
// files. A commit writes new blocks (reusing freelist slots where safe),
// fsyncs the data file, then writes and fsyncs the inactive base; a crash
// at any point leaves the previous revision intact.
package btree

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/lodestone-search/lodestone/pkg/errors"
	"github.com/lodestone-search/lodestone/pkg/logger"
)

const (
	MinBlockSize     = 2048
	MaxBlockSize     = 65536
	DefaultBlockSize = 8192

	// maxKeyLen bounds keys so a split can always produce two valid
	// blocks at the minimum block size.
	maxKeyLen = 256

	// Values shorter than this are never worth compressing.
	compressMin = 32
)

// Table is an ordered map from byte-string key to byte-string value, bound
// to a snapshot revision. A writable table additionally accumulates
// modifications in memory until Commit.
type Table struct {
	path     string
	file     *os.File
	writable bool
	closed   bool

	blockSize uint32
	compress  bool

	revision   uint64
	root       childRef
	entryCount uint64
	nextBlk    uint32
	freelist   []freeBlock
	liveBase   byte // 'A' or 'B'

	dirty       bool
	pendingFree []uint32
	pendingOver map[uint32][]byte
	cache       map[uint32]*node

	log *slog.Logger
}

// Create initialises a new table at path (extensions .DB/.baseA/.baseB are
// appended) with the given block size and compression setting.
func Create(path string, blockSize uint32, compress bool) (*Table, error) {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize || blockSize&(blockSize-1) != 0 {
		return nil, errors.Newf(errors.ErrInvalidArgument, "bad block size %d", blockSize)
	}
	f, err := os.OpenFile(path+".DB", os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errors.Newf(errors.ErrDatabaseCreate, "creating %s.DB: %v", path, err)
	}
	t := &Table{
		path:      path,
		file:      f,
		writable:  true,
		blockSize: blockSize,
		compress:  compress,
		root:      childRef{blk: nilBlk},
		liveBase:  'A',
		cache:     make(map[uint32]*node),
		log:       logger.WithComponent("btree"),
	}
	if err := writeBase(path+".baseA", t.baseInfo()); err != nil {
		f.Close()
		return nil, err
	}
	os.Remove(path + ".baseB")
	return t, nil
}

// Open opens an existing table at the newest consistent revision.
func Open(path string, writable bool) (*Table, error) {
	mode := os.O_RDONLY
	if writable {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(path+".DB", mode, 0666)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrDatabaseCorrupt, "missing table file %s.DB", path)
		}
		return nil, errors.Newf(errors.ErrDatabaseIO, "opening %s.DB: %v", path, err)
	}
	t := &Table{
		path:     path,
		file:     f,
		writable: writable,
		cache:    make(map[uint32]*node),
		log:      logger.WithComponent("btree"),
	}
	if err := t.adoptNewestBase(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// adoptNewestBase reads both base files and pins the higher consistent
// revision.
func (t *Table) adoptNewestBase() error {
	a, err := readBase(t.path + ".baseA")
	if err != nil {
		return err
	}
	b, err := readBase(t.path + ".baseB")
	if err != nil {
		return err
	}
	var base *baseInfo
	switch {
	case a == nil && b == nil:
		return errors.Newf(errors.ErrDatabaseCorrupt, "no usable base file for %s", t.path)
	case b == nil || (a != nil && a.revision >= b.revision):
		base, t.liveBase = a, 'A'
	default:
		base, t.liveBase = b, 'B'
	}
	t.blockSize = base.blockSize
	t.compress = base.compress
	t.revision = base.revision
	t.root = childRef{blk: base.rootBlk}
	t.entryCount = base.entryCount
	t.nextBlk = base.nextBlk
	t.freelist = append([]freeBlock(nil), base.freelist...)
	t.dirty = false
	t.pendingFree = nil
	t.pendingOver = nil
	t.cache = make(map[uint32]*node)
	return nil
}

func (t *Table) baseInfo() *baseInfo {
	return &baseInfo{
		blockSize:  t.blockSize,
		compress:   t.compress,
		revision:   t.revision,
		rootBlk:    t.root.blk,
		nextBlk:    t.nextBlk,
		entryCount: t.entryCount,
		freelist:   t.freelist,
	}
}

// Revision returns the snapshot revision the table is bound to.
func (t *Table) Revision() uint64 { return t.revision }

// EntryCount returns the number of logical entries, including uncommitted
// modifications on a writable table.
func (t *Table) EntryCount() uint64 { return t.entryCount }

// Empty reports whether the table holds no entries.
func (t *Table) Empty() bool { return t.entryCount == 0 }

// BlockSize returns the block size chosen at creation time.
func (t *Table) BlockSize() uint32 { return t.blockSize }

func (t *Table) check() error {
	if t.closed {
		return errors.New(errors.ErrDatabaseClosed, t.path)
	}
	return nil
}

func (t *Table) checkWritable() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.writable {
		return errors.Newf(errors.ErrInvalidOperation, "%s opened read-only", t.path)
	}
	return nil
}

// loadChild resolves a childRef to its node, reading the block from disk if
// necessary.
func (t *Table) loadChild(ref *childRef) (*node, error) {
	if ref.node != nil {
		return ref.node, nil
	}
	if n, ok := t.cache[ref.blk]; ok {
		ref.node = n
		return n, nil
	}
	n, err := t.readBlockNode(ref.blk)
	if err != nil {
		return nil, err
	}
	t.cache[ref.blk] = n
	ref.node = n
	return n, nil
}

func (t *Table) readBlockNode(blk uint32) (*node, error) {
	buf, err := t.readBlock(blk)
	if err != nil {
		return nil, err
	}
	n, err := parseNode(buf, blk)
	if err != nil {
		return nil, err
	}
	if n.revision > t.revision {
		return nil, errors.Newf(errors.ErrDatabaseCorrupt,
			"block %d has revision %d beyond snapshot %d", blk, n.revision, t.revision)
	}
	return n, nil
}

func (t *Table) readBlock(blk uint32) ([]byte, error) {
	if blk >= t.nextBlk {
		return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d out of range", blk)
	}
	buf := make([]byte, t.blockSize)
	if _, err := t.file.ReadAt(buf, int64(blk)*int64(t.blockSize)); err != nil {
		return nil, errors.Newf(errors.ErrDatabaseIO, "reading block %d: %v", blk, err)
	}
	return buf, nil
}

// markDirty makes the node behind ref mutable, transferring ownership of
// its old block to the freelist.
func (t *Table) markDirty(ref *childRef) (*node, error) {
	n, err := t.loadChild(ref)
	if err != nil {
		return nil, err
	}
	if !n.dirty {
		delete(t.cache, n.blk)
		t.pendingFree = append(t.pendingFree, n.blk)
		n.blk = 0
		n.dirty = true
	}
	t.dirty = true
	return n, nil
}

// allocBlock hands out a block number for a write at revision rev, reusing
// a freed block only once no reader pinned to either live base can reach it.
func (t *Table) allocBlock(rev uint64) uint32 {
	for i, f := range t.freelist {
		if f.freedAt < rev {
			t.freelist = append(t.freelist[:i], t.freelist[i+1:]...)
			return f.blk
		}
	}
	blk := t.nextBlk
	t.nextBlk++
	return blk
}

// GetExact returns the value stored under key, or found=false.
func (t *Table) GetExact(key []byte) (val []byte, found bool, err error) {
	if err := t.check(); err != nil {
		return nil, false, err
	}
	if t.root.blk == nilBlk && t.root.node == nil {
		return nil, false, nil
	}
	ref := &t.root
	for {
		n, err := t.loadChild(ref)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			i := n.search(key)
			if i < len(n.items) && bytes.Equal(n.items[i].key, key) {
				v, _, err := t.resolveValue(&n.items[i], false)
				return v, err == nil, err
			}
			return nil, false, nil
		}
		ref = &n.kids[n.childIndex(key)]
	}
}

// resolveValue expands overflow chains and, unless raw is set, decompresses.
func (t *Table) resolveValue(it *item, raw bool) ([]byte, bool, error) {
	data := it.val
	if it.overflow {
		var err error
		data, err = t.readOverflow(data)
		if err != nil {
			return nil, false, err
		}
	}
	if it.compressed && !raw {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, false, errors.Newf(errors.ErrDatabaseCorrupt, "bad compressed value: %v", err)
		}
		out, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, false, errors.Newf(errors.ErrDatabaseCorrupt, "bad compressed value: %v", err)
		}
		return out, false, nil
	}
	return data, it.compressed, nil
}

func (t *Table) readOverflow(chain []byte) ([]byte, error) {
	total, n, ok := decodeUvarint(chain)
	if !ok {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "bad overflow chain header")
	}
	out := make([]byte, 0, total)
	for p := n; p < len(chain); p += 4 {
		if p+4 > len(chain) {
			return nil, errors.New(errors.ErrDatabaseCorrupt, "truncated overflow chain")
		}
		blk := binary.LittleEndian.Uint32(chain[p:])
		if data, ok := t.pendingOver[blk]; ok {
			out = append(out, data...)
			continue
		}
		buf, err := t.readBlock(blk)
		if err != nil {
			return nil, err
		}
		if buf[8] != kindOverflow {
			return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d is not an overflow block", blk)
		}
		plen := binary.LittleEndian.Uint32(buf[12:16])
		if plen > t.blockSize-blockHeaderSize {
			return nil, errors.Newf(errors.ErrDatabaseCorrupt, "block %d overflow length %d", blk, plen)
		}
		out = append(out, buf[blockHeaderSize:blockHeaderSize+plen]...)
	}
	if uint64(len(out)) != total {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "overflow chain length mismatch")
	}
	return out, nil
}

// encodeValue decides compression and overflow placement for a new value.
func (t *Table) encodeValue(val []byte, preCompressed bool) (item, error) {
	it := item{val: val, compressed: preCompressed}
	if t.compress && !preCompressed && len(val) >= compressMin {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		w.Write(val)
		w.Close()
		if buf.Len() < len(val) {
			it.val = buf.Bytes()
			it.compressed = true
		}
	}
	if uint32(len(it.val)) > t.maxInline() {
		chain, err := t.writeOverflow(it.val)
		if err != nil {
			return item{}, err
		}
		it.val = chain
		it.overflow = true
	}
	return it, nil
}

func (t *Table) maxInline() uint32 { return t.blockSize / 4 }

func (t *Table) writeOverflow(data []byte) ([]byte, error) {
	if t.pendingOver == nil {
		t.pendingOver = make(map[uint32][]byte)
	}
	chain := appendUvarint(nil, uint64(len(data)))
	chunk := int(t.blockSize - blockHeaderSize)
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		blk := t.allocBlock(t.revision + 1)
		t.pendingOver[blk] = append([]byte(nil), data[off:end]...)
		chain = binary.LittleEndian.AppendUint32(chain, blk)
	}
	return chain, nil
}

func (t *Table) freeOverflow(chain []byte) {
	_, n, ok := decodeUvarint(chain)
	if !ok {
		return
	}
	for p := n; p+4 <= len(chain); p += 4 {
		blk := binary.LittleEndian.Uint32(chain[p:])
		if _, ok := t.pendingOver[blk]; ok {
			delete(t.pendingOver, blk)
			t.freelist = append(t.freelist, freeBlock{blk: blk, freedAt: 0})
		} else {
			t.pendingFree = append(t.pendingFree, blk)
		}
	}
}

// Add inserts or overwrites key in the writable view. Storing a value equal
// to the current one is a no-op and adds no flush pressure.
func (t *Table) Add(key, val []byte) error {
	return t.add(key, val, false)
}

// AddRaw stores bytes exactly as given, flagged as already compressed. The
// compactor uses it to copy entries without recompressing.
func (t *Table) AddRaw(key, val []byte, compressed bool) error {
	return t.add(key, val, compressed)
}

func (t *Table) add(key, val []byte, preCompressed bool) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if len(key) > maxKeyLen {
		return errors.Newf(errors.ErrInvalidArgument, "key too long (%d bytes)", len(key))
	}
	if old, found, err := t.getItem(key); err != nil {
		return err
	} else if found {
		enc, encErr := t.wouldEncodeEqual(old, val, preCompressed)
		if encErr != nil {
			return encErr
		}
		if enc {
			return nil
		}
	}
	if t.root.blk == nilBlk && t.root.node == nil {
		t.root = childRef{node: newLeaf()}
		t.dirty = true
	}
	it, err := t.encodeValue(val, preCompressed)
	if err != nil {
		return err
	}
	it.key = append([]byte(nil), key...)
	sp, err := t.insert(&t.root, it)
	if err != nil {
		return err
	}
	if sp != nil {
		left := t.root
		root := &node{dirty: true}
		root.kids = []childRef{left, sp.right}
		root.keys = [][]byte{sp.sep}
		root.recomputeSize()
		t.root = childRef{node: root}
	}
	return nil
}

// getItem locates the stored item for key without dirtying the path.
func (t *Table) getItem(key []byte) (*item, bool, error) {
	if t.root.blk == nilBlk && t.root.node == nil {
		return nil, false, nil
	}
	ref := &t.root
	for {
		n, err := t.loadChild(ref)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			i := n.search(key)
			if i < len(n.items) && bytes.Equal(n.items[i].key, key) {
				return &n.items[i], true, nil
			}
			return nil, false, nil
		}
		ref = &n.kids[n.childIndex(key)]
	}
}

// wouldEncodeEqual reports whether storing val would reproduce the stored
// item byte for byte.
func (t *Table) wouldEncodeEqual(old *item, val []byte, preCompressed bool) (bool, error) {
	stored, compressed, err := t.resolveValue(old, true)
	if err != nil {
		return false, err
	}
	if preCompressed {
		return compressed && bytes.Equal(stored, val), nil
	}
	if compressed {
		plain, _, err := t.resolveValue(old, false)
		if err != nil {
			return false, err
		}
		return bytes.Equal(plain, val), nil
	}
	return bytes.Equal(stored, val), nil
}

type splitRes struct {
	sep   []byte
	right childRef
}

func (t *Table) insert(ref *childRef, it item) (*splitRes, error) {
	n, err := t.markDirty(ref)
	if err != nil {
		return nil, err
	}
	if n.leaf {
		i := n.search(it.key)
		if i < len(n.items) && bytes.Equal(n.items[i].key, it.key) {
			old := &n.items[i]
			if old.overflow {
				t.freeOverflow(old.val)
			}
			n.byteSize += it.encodedSize() - old.encodedSize()
			n.items[i] = it
		} else {
			n.items = append(n.items, item{})
			copy(n.items[i+1:], n.items[i:])
			n.items[i] = it
			n.byteSize += it.encodedSize()
			t.entryCount++
		}
	} else {
		ci := n.childIndex(it.key)
		sp, err := t.insert(&n.kids[ci], it)
		if err != nil {
			return nil, err
		}
		if sp != nil {
			n.keys = append(n.keys, nil)
			copy(n.keys[ci+1:], n.keys[ci:])
			n.keys[ci] = sp.sep
			n.kids = append(n.kids, childRef{})
			copy(n.kids[ci+2:], n.kids[ci+1:])
			n.kids[ci+1] = sp.right
			n.byteSize += 2 + len(sp.sep) + 4
		}
	}
	if n.byteSize > int(t.blockSize) {
		return t.split(n), nil
	}
	return nil, nil
}

func (t *Table) split(n *node) *splitRes {
	right := &node{leaf: n.leaf, dirty: true}
	var sep []byte
	if n.leaf {
		// Split at the size midpoint so both halves fit.
		half := blockHeaderSize
		m := 0
		for ; m < len(n.items)-1; m++ {
			half += n.items[m].encodedSize()
			if half >= n.byteSize/2 {
				m++
				break
			}
		}
		right.items = append(right.items, n.items[m:]...)
		n.items = n.items[:m:m]
		sep = right.items[0].key
	} else {
		m := len(n.keys) / 2
		sep = n.keys[m]
		right.keys = append(right.keys, n.keys[m+1:]...)
		right.kids = append(right.kids, n.kids[m+1:]...)
		n.keys = n.keys[:m:m]
		n.kids = n.kids[: m+1 : m+1]
	}
	n.recomputeSize()
	right.recomputeSize()
	return &splitRes{sep: sep, right: childRef{node: right}}
}

// Del removes key, reporting whether anything was removed.
func (t *Table) Del(key []byte) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	if _, found, err := t.getItem(key); err != nil || !found {
		return false, err
	}
	if err := t.remove(&t.root, key); err != nil {
		return false, err
	}
	t.entryCount--
	// Collapse a root that has a single child left.
	for {
		n, err := t.loadChild(&t.root)
		if err != nil {
			return false, err
		}
		if n.leaf || len(n.kids) != 1 {
			break
		}
		child := n.kids[0]
		if !n.dirty {
			t.pendingFree = append(t.pendingFree, n.blk)
		}
		t.root = child
	}
	return true, nil
}

func (t *Table) remove(ref *childRef, key []byte) error {
	n, err := t.markDirty(ref)
	if err != nil {
		return err
	}
	if n.leaf {
		i := n.search(key)
		it := &n.items[i]
		if it.overflow {
			t.freeOverflow(it.val)
		}
		n.byteSize -= it.encodedSize()
		n.items = append(n.items[:i], n.items[i+1:]...)
		return nil
	}
	return t.remove(&n.kids[n.childIndex(key)], key)
}

// Commit durably publishes all pending changes under rev, which must exceed
// the current revision. With no pending changes it is a no-op.
func (t *Table) Commit(rev uint64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if !t.dirty {
		return nil
	}
	if rev <= t.revision {
		return errors.Newf(errors.ErrInvalidArgument,
			"commit revision %d not above current %d", rev, t.revision)
	}
	buf := make([]byte, t.blockSize)
	for blk, data := range t.pendingOver {
		for i := range buf {
			buf[i] = 0
		}
		binary.LittleEndian.PutUint64(buf[0:8], rev)
		buf[8] = kindOverflow
		binary.LittleEndian.PutUint32(buf[12:16], uint32(len(data)))
		copy(buf[blockHeaderSize:], data)
		if err := t.writeBlock(blk, buf); err != nil {
			return err
		}
	}
	t.pendingOver = nil
	if t.root.node != nil || t.root.blk != nilBlk {
		if _, err := t.flushNode(&t.root, rev, buf); err != nil {
			return err
		}
	}
	if err := t.file.Sync(); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "syncing %s.DB: %v", t.path, err)
	}
	for _, blk := range t.pendingFree {
		t.freelist = append(t.freelist, freeBlock{blk: blk, freedAt: rev})
	}
	t.pendingFree = nil
	prevRev := t.revision
	t.revision = rev
	inactive := byte('B')
	if t.liveBase == 'B' {
		inactive = 'A'
	}
	if err := writeBase(t.path+".base"+string(inactive), t.baseInfo()); err != nil {
		t.revision = prevRev
		return err
	}
	t.liveBase = inactive
	t.dirty = false
	t.log.Debug("committed table", "table", t.path, "revision", rev,
		"entries", t.entryCount, "blocks", t.nextBlk)
	return nil
}

func (t *Table) flushNode(ref *childRef, rev uint64, buf []byte) (uint32, error) {
	n := ref.node
	if n == nil {
		return ref.blk, nil
	}
	if !n.dirty {
		ref.blk = n.blk
		return n.blk, nil
	}
	if !n.leaf {
		for i := range n.kids {
			blk, err := t.flushNode(&n.kids[i], rev, buf)
			if err != nil {
				return 0, err
			}
			n.kids[i].blk = blk
		}
	}
	blk := t.allocBlock(rev)
	n.serialize(buf[:t.blockSize], rev)
	if err := t.writeBlock(blk, buf[:t.blockSize]); err != nil {
		return 0, err
	}
	n.blk = blk
	n.revision = rev
	n.dirty = false
	t.cache[blk] = n
	ref.blk = blk
	return blk, nil
}

func (t *Table) writeBlock(blk uint32, buf []byte) error {
	if _, err := t.file.WriteAt(buf, int64(blk)*int64(t.blockSize)); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "writing block %d: %v", blk, err)
	}
	return nil
}

// Cancel discards all uncommitted modifications, restoring the table to its
// committed revision.
func (t *Table) Cancel() error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.adoptNewestBase()
}

// Reopen advances a reader to the newest committed revision. It reports
// whether the snapshot changed.
func (t *Table) Reopen() (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	old := t.revision
	if err := t.adoptNewestBase(); err != nil {
		return false, err
	}
	return t.revision != old, nil
}

// Close releases the file descriptor. Calling it twice is harmless.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.cache = nil
	if err := t.file.Close(); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "closing %s.DB: %v", t.path, err)
	}
	return nil
}

// Tiny local uvarint helpers for overflow chain headers; the pack package
// is not imported here to keep btree self-contained below the codec layer.
func appendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

func decodeUvarint(b []byte) (uint64, int, bool) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1, true
		}
		shift += 7
		if shift >= 64 {
			break
		}
	}
	return 0, 0, false
}
