package btree

import (
	"bytes"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

// Cursor is an ordered iterator over the snapshot its table was bound to
// when the cursor was created. Mutating the underlying writable table
// invalidates outstanding cursors.
type Cursor struct {
	t      *Table
	stack  []cursorFrame
	status cursorStatus
}

type cursorFrame struct {
	n   *node
	idx int
}

type cursorStatus int

const (
	cursorBeforeStart cursorStatus = iota
	cursorPositioned
	cursorAfterEnd
)

// Cursor returns a new cursor positioned before the first entry.
func (t *Table) Cursor() *Cursor {
	return &Cursor{t: t, status: cursorBeforeStart}
}

func (c *Cursor) leaf() *cursorFrame {
	return &c.stack[len(c.stack)-1]
}

// descend builds the stack path for key, leaving the leaf frame positioned
// at the first item >= key (possibly one past the end of that leaf).
func (c *Cursor) descend(key []byte) error {
	c.stack = c.stack[:0]
	if c.t.root.blk == nilBlk && c.t.root.node == nil {
		return nil
	}
	ref := &c.t.root
	for {
		n, err := c.t.loadChild(ref)
		if err != nil {
			return err
		}
		if n.leaf {
			c.stack = append(c.stack, cursorFrame{n: n, idx: n.search(key)})
			return nil
		}
		ci := n.childIndex(key)
		c.stack = append(c.stack, cursorFrame{n: n, idx: ci})
		ref = &n.kids[ci]
	}
}

// FindEntryGE positions the cursor at the smallest key >= key, reporting
// whether that is an exact match. With no such entry the cursor ends up
// after the end.
func (c *Cursor) FindEntryGE(key []byte) (bool, error) {
	if err := c.t.check(); err != nil {
		return false, err
	}
	if err := c.descend(key); err != nil {
		return false, err
	}
	if len(c.stack) == 0 {
		c.status = cursorAfterEnd
		return false, nil
	}
	c.status = cursorPositioned
	lf := c.leaf()
	if lf.idx >= len(lf.n.items) {
		if err := c.advanceLeaf(); err != nil {
			return false, err
		}
		return false, nil
	}
	return bytes.Equal(lf.n.items[lf.idx].key, key), nil
}

// FindEntryLT positions the cursor at the greatest key < key. With no such
// entry the cursor ends up before the start.
func (c *Cursor) FindEntryLT(key []byte) error {
	if _, err := c.FindEntryGE(key); err != nil {
		return err
	}
	return c.Prev()
}

// Next advances to the following entry; at the last entry the cursor moves
// after the end.
func (c *Cursor) Next() error {
	if err := c.t.check(); err != nil {
		return err
	}
	switch c.status {
	case cursorAfterEnd:
		return nil
	case cursorBeforeStart:
		if err := c.descend(nil); err != nil {
			return err
		}
		if len(c.stack) == 0 {
			c.status = cursorAfterEnd
			return nil
		}
		c.status = cursorPositioned
		lf := c.leaf()
		if lf.idx >= len(lf.n.items) {
			return c.advanceLeaf()
		}
		return nil
	}
	lf := c.leaf()
	lf.idx++
	if lf.idx >= len(lf.n.items) {
		return c.advanceLeaf()
	}
	return nil
}

// advanceLeaf moves to the first item of the next non-empty leaf, setting
// after-end when the tree is exhausted.
func (c *Cursor) advanceLeaf() error {
	for {
		// Pop to the nearest ancestor with an unvisited right sibling.
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			c.status = cursorAfterEnd
			return nil
		}
		fr := &c.stack[len(c.stack)-1]
		if fr.idx+1 >= len(fr.n.kids) {
			continue
		}
		fr.idx++
		ref := &fr.n.kids[fr.idx]
		for {
			n, err := c.t.loadChild(ref)
			if err != nil {
				return err
			}
			c.stack = append(c.stack, cursorFrame{n: n, idx: 0})
			if n.leaf {
				if len(n.items) == 0 {
					break // empty leaf: keep walking right
				}
				return nil
			}
			ref = &n.kids[0]
		}
	}
}

// Prev retreats to the preceding entry; at the first entry the cursor moves
// before the start.
func (c *Cursor) Prev() error {
	if err := c.t.check(); err != nil {
		return err
	}
	switch c.status {
	case cursorBeforeStart:
		return nil
	case cursorAfterEnd:
		// Re-seek to the very end.
		if err := c.descend(maxKeySentinel); err != nil {
			return err
		}
		if len(c.stack) == 0 {
			c.status = cursorBeforeStart
			return nil
		}
		c.status = cursorPositioned
	}
	lf := c.leaf()
	lf.idx--
	if lf.idx < 0 {
		return c.retreatLeaf()
	}
	return nil
}

func (c *Cursor) retreatLeaf() error {
	for {
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			c.status = cursorBeforeStart
			return nil
		}
		fr := &c.stack[len(c.stack)-1]
		if fr.idx == 0 {
			continue
		}
		fr.idx--
		ref := &fr.n.kids[fr.idx]
		for {
			n, err := c.t.loadChild(ref)
			if err != nil {
				return err
			}
			if n.leaf {
				c.stack = append(c.stack, cursorFrame{n: n, idx: len(n.items) - 1})
				if len(n.items) == 0 {
					break
				}
				return nil
			}
			c.stack = append(c.stack, cursorFrame{n: n, idx: len(n.kids) - 1})
			ref = &n.kids[len(n.kids)-1]
		}
	}
}

// AfterEnd reports whether the cursor has run off the last entry.
func (c *Cursor) AfterEnd() bool { return c.status == cursorAfterEnd }

// BeforeStart reports whether the cursor is before the first entry.
func (c *Cursor) BeforeStart() bool { return c.status == cursorBeforeStart }

// ToEnd forces the after-end state.
func (c *Cursor) ToEnd() {
	c.stack = c.stack[:0]
	c.status = cursorAfterEnd
}

// CurrentKey returns the key at the cursor. The slice stays valid until the
// cursor moves.
func (c *Cursor) CurrentKey() ([]byte, error) {
	if c.status != cursorPositioned {
		return nil, errors.New(errors.ErrInvalidOperation, "cursor not positioned on an entry")
	}
	lf := c.leaf()
	return lf.n.items[lf.idx].key, nil
}

// ReadTag fetches the value at the cursor. With raw set the value is
// returned without decompression, alongside its compression flag, for
// copy-raw-compressed merging.
func (c *Cursor) ReadTag(raw bool) (val []byte, compressed bool, err error) {
	if c.status != cursorPositioned {
		return nil, false, errors.New(errors.ErrInvalidOperation, "cursor not positioned on an entry")
	}
	lf := c.leaf()
	return c.t.resolveValue(&lf.n.items[lf.idx], raw)
}

// maxKeySentinel sorts after every legal key (keys are capped well below
// this length).
var maxKeySentinel = bytes.Repeat([]byte{0xff}, maxKeyLen+1)
