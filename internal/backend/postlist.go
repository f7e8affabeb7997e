package backend

import (
	"bytes"

	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// PostlistTable stores each term's postings chunked across one initial
// entry and zero or more continuation entries:
//
//	initial key:      StringPreservingSort(term)
//	initial value:    Uint(termfreq) Uint(collfreq) Uint(firstDid-1) flag chunk
//	continuation key: StringPreservingSort(term) UintPreservingSort(firstDid)
//	continuation val: flag chunk
//
// flag is '1' on the final chunk of a term and '0' otherwise. A chunk body
// starts with Uint(wdf) for the posting at the chunk's first docid, followed
// by Uint(didDelta-1) Uint(wdf) pairs, each delta relative to the previous
// posting. The all-docs posting list is stored under the empty term
// with wdf reinterpreted as document length.
//
// The reserved one-byte key \x00 carries Uint(lastDocid)
// UintLast(totalDocLength); keys starting \x00\xc0 namespace user metadata.
type PostlistTable struct {
	table        *btree.Table
	maxChunkSize int
}

const (
	chunkFlagMore  = '0'
	chunkFlagFinal = '1'

	defaultMaxChunkSize = 2000
)

var metaKey = []byte{0x00}

func userMetaKey(name string) []byte {
	return append([]byte{0x00, 0xc0}, name...)
}

func postlistKey(term string) []byte {
	return pack.AppendStringPreservingSort(nil, []byte(term))
}

func continuationKey(term string, firstDid uint32) []byte {
	key := postlistKey(term)
	return pack.AppendUintPreservingSort(key, uint64(firstDid))
}

// Posting is one (docid, wdf) pair.
type Posting struct {
	Did uint32
	Wdf uint32
}

// ReadMeta returns (lastDocid, totalDocLength) from the reserved meta entry.
func (p *PostlistTable) ReadMeta() (uint32, uint64, error) {
	data, found, err := p.table.GetExact(metaKey)
	if err != nil || !found {
		return 0, 0, err
	}
	last, n, ok := pack.Uint(data)
	if !ok || last > 0xffffffff {
		return 0, 0, errors.New(errors.ErrDatabaseCorrupt, "postlist meta corrupt")
	}
	total, ok := pack.UintLast(data[n:])
	if !ok {
		return 0, 0, errors.New(errors.ErrDatabaseCorrupt, "postlist meta corrupt")
	}
	return uint32(last), total, nil
}

// WriteMeta stores (lastDocid, totalDocLength).
func (p *PostlistTable) WriteMeta(lastDocid uint32, totalLength uint64) error {
	buf := pack.AppendUint(nil, uint64(lastDocid))
	buf = pack.AppendUintLast(buf, totalLength)
	return p.table.Add(metaKey, buf)
}

// GetUserMeta returns the user metadata stored under name.
func (p *PostlistTable) GetUserMeta(name string) (string, error) {
	data, _, err := p.table.GetExact(userMetaKey(name))
	return string(data), err
}

// SetUserMeta stores user metadata under name; an empty value deletes it.
func (p *PostlistTable) SetUserMeta(name, value string) error {
	if value == "" {
		_, err := p.table.Del(userMetaKey(name))
		return err
	}
	return p.table.Add(userMetaKey(name), []byte(value))
}

// TermStats returns (termfreq, collfreq) for term; both zero if unindexed.
func (p *PostlistTable) TermStats(term string) (uint32, uint64, error) {
	data, found, err := p.table.GetExact(postlistKey(term))
	if err != nil || !found {
		return 0, 0, err
	}
	tf, n, ok := pack.Uint(data)
	if !ok || tf > 0xffffffff {
		return 0, 0, errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
	}
	cf, _, ok := pack.Uint(data[n:])
	if !ok {
		return 0, 0, errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
	}
	return uint32(tf), cf, nil
}

// TermExists reports whether term has a posting list.
func (p *PostlistTable) TermExists(term string) (bool, error) {
	_, found, err := p.table.GetExact(postlistKey(term))
	return found, err
}

// ReadPostings decodes the complete posting list for term. Used by the
// commit path to merge pending changes; query evaluation uses Iterator.
func (p *PostlistTable) ReadPostings(term string) ([]Posting, error) {
	it, err := p.Iterator(term)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, nil
	}
	var out []Posting
	for {
		if err := it.Next(); err != nil {
			return nil, err
		}
		if it.AtEnd() {
			return out, nil
		}
		out = append(out, Posting{Did: it.Docid(), Wdf: it.Wdf()})
	}
}

// WritePostings replaces term's stored chunks with the given postings (in
// ascending docid order), deleting the term entirely when empty.
func (p *PostlistTable) WritePostings(term string, postings []Posting) error {
	if err := p.deleteChunks(term); err != nil {
		return err
	}
	if len(postings) == 0 {
		return nil
	}
	maxChunk := p.maxChunkSize
	if maxChunk == 0 {
		maxChunk = defaultMaxChunkSize
	}
	var collFreq uint64
	for _, post := range postings {
		collFreq += uint64(post.Wdf)
	}

	// Slice into chunks of bounded encoded size.
	type chunk struct {
		firstDid uint32
		body     []byte
	}
	var chunks []chunk
	var cur chunk
	prevDid := uint32(0)
	for _, post := range postings {
		var entry []byte
		if len(cur.body) == 0 {
			cur.firstDid = post.Did
			entry = pack.AppendUint(nil, uint64(post.Wdf))
		} else {
			entry = pack.AppendUint(nil, uint64(post.Did-prevDid-1))
			entry = pack.AppendUint(entry, uint64(post.Wdf))
		}
		if len(cur.body)+len(entry) > maxChunk && len(cur.body) > 0 {
			chunks = append(chunks, cur)
			cur = chunk{firstDid: post.Did}
			entry = pack.AppendUint(nil, uint64(post.Wdf))
		}
		cur.body = append(cur.body, entry...)
		prevDid = post.Did
	}
	chunks = append(chunks, cur)

	for i, ch := range chunks {
		flag := byte(chunkFlagMore)
		if i == len(chunks)-1 {
			flag = chunkFlagFinal
		}
		if i == 0 {
			val := pack.AppendUint(nil, uint64(len(postings)))
			val = pack.AppendUint(val, collFreq)
			val = pack.AppendUint(val, uint64(ch.firstDid-1))
			val = append(val, flag)
			val = append(val, ch.body...)
			if err := p.table.Add(postlistKey(term), val); err != nil {
				return err
			}
		} else {
			val := append([]byte{flag}, ch.body...)
			if err := p.table.Add(continuationKey(term, ch.firstDid), val); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteChunks removes every stored chunk for term.
func (p *PostlistTable) deleteChunks(term string) error {
	initial := postlistKey(term)
	if removed, err := p.table.Del(initial); err != nil || !removed {
		return err
	}
	c := p.table.Cursor()
	for {
		if _, err := c.FindEntryGE(initial); err != nil {
			return err
		}
		if c.AfterEnd() {
			return nil
		}
		key, err := c.CurrentKey()
		if err != nil {
			return err
		}
		if len(key) <= len(initial) || !bytes.HasPrefix(key, initial) {
			return nil
		}
		if _, err := p.table.Del(append([]byte(nil), key...)); err != nil {
			return err
		}
	}
}

// Iterator opens a posting iterator for term, or nil if the term has no
// postings.
func (p *PostlistTable) Iterator(term string) (*PostingIterator, error) {
	data, found, err := p.table.GetExact(postlistKey(term))
	if err != nil || !found {
		return nil, err
	}
	tf, n, ok := pack.Uint(data)
	if !ok || tf > 0xffffffff {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
	}
	cf, m, ok := pack.Uint(data[n:])
	if !ok {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
	}
	firstM1, k, ok := pack.Uint(data[n+m:])
	if !ok || firstM1 >= 0xffffffff {
		return nil, errors.New(errors.ErrDatabaseCorrupt, "postlist header corrupt")
	}
	it := &PostingIterator{
		table:    p.table,
		term:     term,
		termFreq: uint32(tf),
		collFreq: cf,
	}
	if err := it.loadChunk(data[n+m+k:], uint32(firstM1)+1); err != nil {
		return nil, err
	}
	return it, nil
}

// PostingIterator is a lazy decoder over a term's chunks. It is not
// restartable; open a fresh iterator to rewind.
type PostingIterator struct {
	table    *btree.Table
	term     string
	termFreq uint32
	collFreq uint64

	chunk      []byte
	chunkFirst uint32
	lastChunk  bool
	inChunk    bool // a posting has been decoded from the current chunk

	did     uint32
	wdf     uint32
	started bool
	done    bool
}

// loadChunk installs a chunk beginning with its flag byte.
func (it *PostingIterator) loadChunk(data []byte, firstDid uint32) error {
	if len(data) < 1 {
		return errors.New(errors.ErrDatabaseCorrupt, "postlist chunk truncated")
	}
	switch data[0] {
	case chunkFlagFinal:
		it.lastChunk = true
	case chunkFlagMore:
		it.lastChunk = false
	default:
		return errors.New(errors.ErrDatabaseCorrupt, "postlist chunk flag corrupt")
	}
	it.chunk = data[1:]
	it.chunkFirst = firstDid
	it.inChunk = false
	return nil
}

// nextChunk moves to the chunk after the current one, or marks the end.
func (it *PostingIterator) nextChunk() error {
	if it.lastChunk {
		it.done = true
		return nil
	}
	c := it.table.Cursor()
	after := continuationKey(it.term, it.did+1)
	if _, err := c.FindEntryGE(after); err != nil {
		return err
	}
	return it.enterChunkAtCursor(c)
}

func (it *PostingIterator) enterChunkAtCursor(c *btree.Cursor) error {
	prefix := postlistKey(it.term)
	if c.AfterEnd() {
		return errors.New(errors.ErrDatabaseCorrupt, "missing postlist continuation chunk")
	}
	key, err := c.CurrentKey()
	if err != nil {
		return err
	}
	if len(key) <= len(prefix) || !bytes.HasPrefix(key, prefix) {
		return errors.New(errors.ErrDatabaseCorrupt, "missing postlist continuation chunk")
	}
	first, _, ok := pack.UintPreservingSort(key[len(prefix):])
	if !ok || first > 0xffffffff {
		return errors.New(errors.ErrDatabaseCorrupt, "postlist continuation key corrupt")
	}
	data, _, err := c.ReadTag(false)
	if err != nil {
		return err
	}
	return it.loadChunk(data, uint32(first))
}

// Next advances to the next posting; advancing past the last sets AtEnd.
func (it *PostingIterator) Next() error {
	if it.done {
		return nil
	}
	it.started = true
	for len(it.chunk) == 0 {
		if err := it.nextChunk(); err != nil {
			return err
		}
		if it.done {
			return nil
		}
	}
	if !it.inChunk {
		wdf, n, ok := pack.Uint(it.chunk)
		if !ok || wdf > 0xffffffff {
			return errors.New(errors.ErrDatabaseCorrupt, "postlist chunk corrupt")
		}
		it.did = it.chunkFirst
		it.wdf = uint32(wdf)
		it.chunk = it.chunk[n:]
		it.inChunk = true
		return nil
	}
	delta, n, ok := pack.Uint(it.chunk)
	if !ok {
		return errors.New(errors.ErrDatabaseCorrupt, "postlist chunk corrupt")
	}
	wdf, m, ok := pack.Uint(it.chunk[n:])
	if !ok || wdf > 0xffffffff {
		return errors.New(errors.ErrDatabaseCorrupt, "postlist chunk corrupt")
	}
	it.did += uint32(delta) + 1
	it.wdf = uint32(wdf)
	it.chunk = it.chunk[n+m:]
	return nil
}

// SkipTo advances to the first posting with docid >= did.
func (it *PostingIterator) SkipTo(did uint32) error {
	if it.done {
		return nil
	}
	if it.started && it.did >= did && it.inChunk {
		return nil
	}
	// Seek the chunk that could contain did: the chunk with the greatest
	// first docid <= did, unless the current one already spans it.
	if it.started && !it.lastChunk && did > it.did {
		c := it.table.Cursor()
		prefix := postlistKey(it.term)
		seekKey := continuationKey(it.term, did)
		if err := c.FindEntryLT(seekKey); err != nil {
			return err
		}
		if !c.BeforeStart() {
			key, err := c.CurrentKey()
			if err != nil {
				return err
			}
			if len(key) > len(prefix) && bytes.HasPrefix(key, prefix) {
				first, _, ok := pack.UintPreservingSort(key[len(prefix):])
				if ok && uint32(first) > it.did {
					if err := it.enterChunkAtCursor(c); err != nil {
						return err
					}
				}
			}
		}
	}
	for {
		if err := it.Next(); err != nil {
			return err
		}
		if it.done || it.did >= did {
			return nil
		}
	}
}

// AtEnd reports whether the iterator has advanced past the last posting.
func (it *PostingIterator) AtEnd() bool { return it.done }

// Docid returns the current docid; valid after the first Next.
func (it *PostingIterator) Docid() uint32 { return it.did }

// Wdf returns the current posting's wdf (document length on the all-docs
// list).
func (it *PostingIterator) Wdf() uint32 { return it.wdf }

// TermFreq returns the number of documents the term occurs in.
func (it *PostingIterator) TermFreq() uint32 { return it.termFreq }

// CollFreq returns the term's collection frequency.
func (it *PostingIterator) CollFreq() uint64 { return it.collFreq }
