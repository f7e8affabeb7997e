// Package backend implements the on-disk database: seven B-tree tables
// under one directory, a single-writer lock, and the chunked posting,
// position, termlist, record, value, spelling and synonym encodings laid
// over them. Readers pin a revision snapshot; a writer accumulates changes
// in memory and publishes them atomically at commit.
package backend

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
	"github.com/lodestone-search/lodestone/pkg/logger"
	"github.com/lodestone-search/lodestone/pkg/metrics"
)

const (
	markerFileName = "iamlodestone"
	markerContents = "lodestone index\n"
	uuidFileName   = "uuid"
)

var tableNames = []string{
	"postlist", "record", "termlist", "position", "value", "spelling", "synonym",
}

// defaultCompressedTables get zlib value compression unless overridden; the
// others hold short or already-dense encodings.
var defaultCompressedTables = map[string]bool{
	"record":   true,
	"termlist": true,
	"synonym":  true,
}

// CreateOptions tunes a new database's on-disk parameters. The zero value
// (and nil) selects the defaults.
type CreateOptions struct {
	// BlockSize for the tables; 0 means the default.
	BlockSize uint32
	// MaxChunkSize bounds one posting-list chunk's encoded size; 0 means
	// the default.
	MaxChunkSize int
	// Compress overrides the per-table compression toggle; tables not
	// named keep their default setting.
	Compress map[string]bool
}

func (o *CreateOptions) tableCompressed(name string) bool {
	if o != nil && o.Compress != nil {
		if v, ok := o.Compress[name]; ok {
			return v
		}
	}
	return defaultCompressedTables[name]
}

// Database is a read-only handle pinned to a revision snapshot.
type Database struct {
	dir    string
	tables map[string]*btree.Table
	uuid   uuid.UUID
	closed bool

	postlist *PostlistTable
	record   *RecordTable
	termlist *TermlistTable
	position *PositionTable
	values   *ValueTable
	spelling *SpellingTable
	synonyms *SynonymTable

	lastDocid    uint32
	totalLength  uint64
	maxChunkSize int

	metrics *metrics.Metrics
	log     *slog.Logger
}

// SetMetrics attaches Prometheus collectors; nil disables recording.
func (db *Database) SetMetrics(m *metrics.Metrics) { db.metrics = m }

// WritableDatabase extends Database with the single-writer ingest side.
type WritableDatabase struct {
	Database
	lock *Lock

	// Pending posting-list changes per term, merged into the chunked
	// encoding at commit. The empty term carries document lengths.
	pending map[string]map[uint32]postingUpdate
}

type postingUpdate struct {
	wdf     uint32
	deleted bool
}

// Create initialises a new database directory and returns a writer on it.
func Create(dir string, blockSize uint32) (*WritableDatabase, error) {
	return CreateWithOptions(dir, &CreateOptions{BlockSize: blockSize})
}

// CreateWithOptions is Create with the full set of storage knobs.
func CreateWithOptions(dir string, opts *CreateOptions) (*WritableDatabase, error) {
	if opts == nil {
		opts = &CreateOptions{}
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = btree.DefaultBlockSize
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Newf(errors.ErrDatabaseCreate, "creating %s: %v", dir, err)
	}
	if _, err := os.Stat(filepath.Join(dir, markerFileName)); err == nil {
		return nil, errors.Newf(errors.ErrDatabaseCreate, "%s already holds a database", dir)
	}
	lock, err := AcquireLock(dir)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, markerFileName), []byte(markerContents), 0666); err != nil {
		lock.Release()
		return nil, errors.Newf(errors.ErrDatabaseCreate, "writing marker: %v", err)
	}
	id := uuid.New()
	if err := os.WriteFile(filepath.Join(dir, uuidFileName), id[:], 0666); err != nil {
		lock.Release()
		return nil, errors.Newf(errors.ErrDatabaseCreate, "writing uuid: %v", err)
	}
	db := &WritableDatabase{
		Database: Database{
			dir:          dir,
			tables:       make(map[string]*btree.Table),
			uuid:         id,
			maxChunkSize: opts.MaxChunkSize,
			log:          logger.WithComponent("backend"),
		},
		lock:    lock,
		pending: make(map[string]map[uint32]postingUpdate),
	}
	for _, name := range tableNames {
		t, err := btree.Create(filepath.Join(dir, name), blockSize, opts.tableCompressed(name))
		if err != nil {
			db.Close()
			return nil, err
		}
		db.tables[name] = t
	}
	db.bindTables()
	return db, nil
}

// Open opens an existing database read-only at its newest revision.
func Open(dir string) (*Database, error) {
	db := &Database{
		dir:    dir,
		tables: make(map[string]*btree.Table),
		log:    logger.WithComponent("backend"),
	}
	if err := db.openCommon(false); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenWritable opens an existing database for update, taking the writer
// lock.
func OpenWritable(dir string) (*WritableDatabase, error) {
	lock, err := AcquireLock(dir)
	if err != nil {
		return nil, err
	}
	db := &WritableDatabase{
		Database: Database{
			dir:    dir,
			tables: make(map[string]*btree.Table),
			log:    logger.WithComponent("backend"),
		},
		lock:    lock,
		pending: make(map[string]map[uint32]postingUpdate),
	}
	if err := db.openCommon(true); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) openCommon(writable bool) error {
	marker, err := os.ReadFile(filepath.Join(db.dir, markerFileName))
	if err != nil {
		return errors.Newf(errors.ErrDatabaseCorrupt, "%s is not a lodestone database", db.dir)
	}
	if string(marker) != markerContents {
		return errors.Newf(errors.ErrDatabaseCorrupt, "%s has an unrecognised marker", db.dir)
	}
	rawUUID, err := os.ReadFile(filepath.Join(db.dir, uuidFileName))
	if err != nil || len(rawUUID) != 16 {
		return errors.Newf(errors.ErrDatabaseCorrupt, "%s has no usable uuid file", db.dir)
	}
	copy(db.uuid[:], rawUUID)
	for _, name := range tableNames {
		t, err := btree.Open(filepath.Join(db.dir, name), writable)
		if err != nil {
			return err
		}
		db.tables[name] = t
	}
	db.bindTables()
	return db.loadMeta()
}

func (db *Database) bindTables() {
	db.postlist = &PostlistTable{table: db.tables["postlist"], maxChunkSize: db.maxChunkSize}
	db.record = &RecordTable{table: db.tables["record"]}
	db.termlist = &TermlistTable{table: db.tables["termlist"]}
	db.position = &PositionTable{table: db.tables["position"]}
	db.values = &ValueTable{table: db.tables["value"]}
	db.spelling = &SpellingTable{table: db.tables["spelling"]}
	db.synonyms = &SynonymTable{table: db.tables["synonym"]}
}

func (db *Database) loadMeta() error {
	last, total, err := db.postlist.ReadMeta()
	if err != nil {
		return err
	}
	db.lastDocid = last
	db.totalLength = total
	return nil
}

func (db *Database) check() error {
	if db.closed {
		return errors.New(errors.ErrDatabaseClosed, db.dir)
	}
	return nil
}

// UUID returns the database identity.
func (db *Database) UUID() uuid.UUID { return db.uuid }

// Dir returns the database directory.
func (db *Database) Dir() string { return db.dir }

// Revision returns the pinned revision: the highest revision across the
// tables (tables untouched by a commit keep their older stamp).
func (db *Database) Revision() uint64 {
	var max uint64
	for _, t := range db.tables {
		if r := t.Revision(); r > max {
			max = r
		}
	}
	return max
}

// DocCount returns the number of documents.
func (db *Database) DocCount() uint64 {
	return db.record.DocCount()
}

// LastDocid returns the highest docid ever assigned.
func (db *Database) LastDocid() uint32 { return db.lastDocid }

// TotalLength returns the sum of all document lengths.
func (db *Database) TotalLength() uint64 { return db.totalLength }

// AvgLength returns the mean document length.
func (db *Database) AvgLength() float64 {
	n := db.DocCount()
	if n == 0 {
		return 0
	}
	return float64(db.totalLength) / float64(n)
}

// TermFreq returns the number of documents containing term.
func (db *Database) TermFreq(term string) (uint32, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	tf, _, err := db.postlist.TermStats(term)
	return tf, err
}

// CollFreq returns term's collection frequency.
func (db *Database) CollFreq(term string) (uint64, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	_, cf, err := db.postlist.TermStats(term)
	return cf, err
}

// TermExists reports whether term occurs in any document.
func (db *Database) TermExists(term string) (bool, error) {
	if err := db.check(); err != nil {
		return false, err
	}
	return db.postlist.TermExists(term)
}

// PostingIterator opens term's posting list, or nil when absent. The empty
// term yields the all-docs list with wdf holding document lengths.
func (db *Database) PostingIterator(term string) (*PostingIterator, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.postlist.Iterator(term)
}

// AllTerms iterates the distinct indexed terms with the given prefix.
func (db *Database) AllTerms(prefix string) (*AllTermsIterator, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.postlist.AllTerms(prefix), nil
}

// TermListIterator opens the termlist of did.
func (db *Database) TermListIterator(did uint32) (*TermListIterator, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.termlist.Open(did)
}

// DocLength returns the length of document did.
func (db *Database) DocLength(did uint32) (uint64, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	data, found, err := db.termlist.Get(did)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.Newf(errors.ErrDocNotFound, "document %d not found", did)
	}
	doclen, _, ok := pack.Uint(data)
	if !ok {
		return 0, errors.New(errors.ErrDatabaseCorrupt, "termlist header corrupt")
	}
	return doclen, nil
}

// Positions returns the decoded position list for (did, term); empty when
// no positional data was indexed.
func (db *Database) Positions(did uint32, term string) ([]uint32, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	if term == "" {
		return nil, errors.New(errors.ErrInvalidOperation,
			"position list not meaningful for the all-documents list")
	}
	return db.position.Get(did, term)
}

// PositionCount returns the number of stored positions for (did, term)
// without decoding the interior of the list.
func (db *Database) PositionCount(did uint32, term string) (uint32, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	return db.position.Count(did, term)
}

// Value returns did's value in slot.
func (db *Database) Value(did, slot uint32) ([]byte, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.values.Get(did, slot)
}

// ValueIterator iterates (docid, value) pairs of slot.
func (db *Database) ValueIterator(slot uint32) (*ValueIterator, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.values.Iterator(slot), nil
}

// ValueFreq returns the number of documents carrying a value in slot plus
// the slot's stored bounds.
func (db *Database) ValueFreq(slot uint32) (uint64, []byte, []byte, error) {
	if err := db.check(); err != nil {
		return 0, nil, nil, err
	}
	return db.values.Freq(slot)
}

// GetDocument reconstructs document did.
func (db *Database) GetDocument(did uint32) (*Document, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	data, err := db.record.Get(did)
	if err != nil {
		return nil, err
	}
	doc := NewDocument()
	doc.SetData(data)
	it, err := db.termlist.Open(did)
	if err != nil {
		return nil, err
	}
	for {
		if err := it.Next(); err != nil {
			return nil, err
		}
		if it.AtEnd() {
			break
		}
		doc.terms[it.Term()] = &docTerm{wdf: it.Wdf()}
		positions, err := db.position.Get(did, it.Term())
		if err != nil {
			return nil, err
		}
		doc.terms[it.Term()].positions = positions
	}
	for _, slot := range db.docValueSlots(did) {
		val, err := db.values.Get(did, slot)
		if err != nil {
			return nil, err
		}
		if val != nil {
			doc.values[slot] = val
		}
	}
	return doc, nil
}

// docValueSlots returns the slots did carries values in, from the per-doc
// slot list.
func (db *Database) docValueSlots(did uint32) []uint32 {
	data, found, err := db.tables["value"].GetExact(docSlotsKey(did))
	if err != nil || !found {
		return nil
	}
	var slots []uint32
	for len(data) > 0 {
		s, n, ok := pack.Uint(data)
		if !ok {
			return slots
		}
		slots = append(slots, uint32(s))
		data = data[n:]
	}
	return slots
}

func docSlotsKey(did uint32) []byte {
	return pack.AppendUintPreservingSort([]byte{0xfe}, uint64(did))
}

// GetMetadata returns the user metadata stored under key.
func (db *Database) GetMetadata(key string) (string, error) {
	if err := db.check(); err != nil {
		return "", err
	}
	return db.postlist.GetUserMeta(key)
}

// Synonyms returns the stored synonyms of term.
func (db *Database) Synonyms(term string) ([]string, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.synonyms.Get(term)
}

// SynonymExists reports whether term has synonyms.
func (db *Database) SynonymExists(term string) (bool, error) {
	if err := db.check(); err != nil {
		return false, err
	}
	return db.synonyms.Exists(term)
}

// HasSynonymKeyPrefix reports whether any synonym key starts with prefix.
func (db *Database) HasSynonymKeyPrefix(prefix string) (bool, error) {
	if err := db.check(); err != nil {
		return false, err
	}
	return db.synonyms.HasKeyWithPrefix(prefix)
}

// SpellingSuggestion returns the best correction for word, or "".
func (db *Database) SpellingSuggestion(word string) (string, error) {
	if err := db.check(); err != nil {
		return "", err
	}
	return db.spelling.Suggest(word)
}

// Reopen advances the handle to the newest committed revision, reporting
// whether it moved.
func (db *Database) Reopen() (bool, error) {
	if err := db.check(); err != nil {
		return false, err
	}
	changed := false
	for _, name := range tableNames {
		c, err := db.tables[name].Reopen()
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	if changed {
		if err := db.loadMeta(); err != nil {
			return false, err
		}
	}
	return changed, nil
}

// Close releases the table file descriptors. A closed handle fails every
// subsequent operation with DatabaseClosed; closing twice is harmless.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	var result *multierror.Error
	for _, t := range db.tables {
		if t != nil {
			result = multierror.Append(result, t.Close())
		}
	}
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Writer side
// ---------------------------------------------------------------------------

// AddDocument indexes doc under the next docid and returns it.
func (db *WritableDatabase) AddDocument(doc *Document) (uint32, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	if db.lastDocid == 0xffffffff {
		return 0, errors.New(errors.ErrRange, "docid space exhausted")
	}
	did := db.lastDocid + 1
	if err := db.applyAdd(did, doc); err != nil {
		return 0, err
	}
	db.lastDocid = did
	if db.metrics != nil {
		db.metrics.DocsIndexedTotal.Inc()
	}
	return did, nil
}

// ReplaceDocument stores doc under did, overwriting any previous document.
// Replacing a document with identical contents adds no flush pressure.
func (db *WritableDatabase) ReplaceDocument(did uint32, doc *Document) error {
	if err := db.check(); err != nil {
		return err
	}
	if did == 0 {
		return errors.New(errors.ErrInvalidArgument, "docid 0 is not valid")
	}
	exists, err := db.record.Exists(did)
	if err != nil {
		return err
	}
	if exists {
		same, err := db.sameDocument(did, doc)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		if err := db.applyDelete(did); err != nil {
			return err
		}
	}
	if err := db.applyAdd(did, doc); err != nil {
		return err
	}
	if did > db.lastDocid {
		db.lastDocid = did
	}
	if db.metrics != nil {
		db.metrics.DocsIndexedTotal.Inc()
	}
	return nil
}

// DeleteDocument removes did.
func (db *WritableDatabase) DeleteDocument(did uint32) error {
	if err := db.check(); err != nil {
		return err
	}
	exists, err := db.record.Exists(did)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Newf(errors.ErrDocNotFound, "document %d not found", did)
	}
	return db.applyDelete(did)
}

// sameDocument reports whether the stored document did is byte-identical
// to doc under the table encodings.
func (db *WritableDatabase) sameDocument(did uint32, doc *Document) (bool, error) {
	oldRecord, err := db.record.Get(did)
	if err != nil {
		return false, err
	}
	if string(oldRecord) != string(doc.data) {
		return false, nil
	}
	oldTermlist, _, err := db.termlist.Get(did)
	if err != nil {
		return false, err
	}
	if string(oldTermlist) != string(EncodeTermList(doc.Length(), doc.termList())) {
		return false, nil
	}
	oldSlots := db.docValueSlots(did)
	if len(oldSlots) != len(doc.values) {
		return false, nil
	}
	for _, slot := range oldSlots {
		stored, err := db.values.Get(did, slot)
		if err != nil {
			return false, err
		}
		if string(stored) != string(doc.values[slot]) {
			return false, nil
		}
	}
	for term, t := range doc.terms {
		stored, err := db.position.Get(did, term)
		if err != nil {
			return false, err
		}
		if len(stored) != len(t.positions) {
			return false, nil
		}
		for i, p := range stored {
			if t.positions[i] != p {
				return false, nil
			}
		}
	}
	return true, nil
}

func (db *WritableDatabase) applyAdd(did uint32, doc *Document) error {
	if err := db.record.Set(did, doc.data); err != nil {
		return err
	}
	doclen := doc.Length()
	if err := db.termlist.Set(did, doclen, doc.termList()); err != nil {
		return err
	}
	for _, term := range doc.sortedTerms() {
		t := doc.terms[term]
		db.pendTerm(term, did, postingUpdate{wdf: t.wdf})
		if len(t.positions) > 0 {
			if err := db.position.Set(did, term, t.positions); err != nil {
				return err
			}
		}
	}
	if len(doc.values) > 0 {
		slots := make([]uint32, 0, len(doc.values))
		for slot := range doc.values {
			slots = append(slots, slot)
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
		var enc []byte
		for _, slot := range slots {
			if err := db.values.Set(did, slot, doc.values[slot]); err != nil {
				return err
			}
			enc = pack.AppendUint(enc, uint64(slot))
		}
		if err := db.tables["value"].Add(docSlotsKey(did), enc); err != nil {
			return err
		}
	}
	// The all-docs list stores the document length in the wdf field.
	db.pendTerm("", did, postingUpdate{wdf: uint32(doclen)})
	db.totalLength += doclen
	return nil
}

func (db *WritableDatabase) applyDelete(did uint32) error {
	it, err := db.termlist.Open(did)
	if err != nil {
		return err
	}
	oldLen := it.DocLength()
	for {
		if err := it.Next(); err != nil {
			return err
		}
		if it.AtEnd() {
			break
		}
		db.pendTerm(it.Term(), did, postingUpdate{deleted: true})
		if err := db.position.Delete(did, it.Term()); err != nil {
			return err
		}
	}
	if _, err := db.termlist.Delete(did); err != nil {
		return err
	}
	if _, err := db.record.Delete(did); err != nil {
		return err
	}
	for _, slot := range db.docValueSlots(did) {
		if err := db.values.Delete(did, slot); err != nil {
			return err
		}
	}
	if _, err := db.tables["value"].Del(docSlotsKey(did)); err != nil {
		return err
	}
	db.pendTerm("", did, postingUpdate{deleted: true})
	db.totalLength -= oldLen
	return nil
}

func (db *WritableDatabase) pendTerm(term string, did uint32, up postingUpdate) {
	m := db.pending[term]
	if m == nil {
		m = make(map[uint32]postingUpdate)
		db.pending[term] = m
	}
	m[did] = up
}

// AddSynonym records a synonym for term.
func (db *WritableDatabase) AddSynonym(term, synonym string) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.synonyms.Add(term, synonym)
}

// RemoveSynonym removes one synonym of term.
func (db *WritableDatabase) RemoveSynonym(term, synonym string) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.synonyms.Remove(term, synonym)
}

// AddSpelling raises word's correction frequency.
func (db *WritableDatabase) AddSpelling(word string, freqinc uint64) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.spelling.AddWord(word, freqinc)
}

// RemoveSpelling lowers word's correction frequency.
func (db *WritableDatabase) RemoveSpelling(word string, freqdec uint64) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.spelling.RemoveWord(word, freqdec)
}

// SetMetadata stores user metadata under key; empty value removes it.
func (db *WritableDatabase) SetMetadata(key, value string) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.postlist.SetUserMeta(key, value)
}

// Commit flushes the transaction buffer into the tables and durably
// publishes everything at the next revision. With nothing pending it is a
// no-op.
func (db *WritableDatabase) Commit() error {
	if err := db.check(); err != nil {
		return err
	}
	start := time.Now()
	if err := db.flushPending(); err != nil {
		return err
	}
	rev := db.Revision() + 1
	for _, name := range tableNames {
		if err := db.tables[name].Commit(rev); err != nil {
			return err
		}
	}
	if db.metrics != nil {
		db.metrics.CommitsTotal.Inc()
		db.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}
	db.log.Debug("committed database", "dir", db.dir, "revision", rev,
		"docs", db.DocCount(), "total_length", db.totalLength)
	return nil
}

// flushPending merges buffered posting changes into the chunked lists.
func (db *WritableDatabase) flushPending() error {
	if len(db.pending) == 0 {
		return nil
	}
	terms := make([]string, 0, len(db.pending))
	for term := range db.pending {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		updates := db.pending[term]
		existing, err := db.postlist.ReadPostings(term)
		if err != nil {
			return err
		}
		merged := make([]Posting, 0, len(existing)+len(updates))
		for _, post := range existing {
			if up, ok := updates[post.Did]; ok {
				if !up.deleted {
					merged = append(merged, Posting{Did: post.Did, Wdf: up.wdf})
				}
				delete(updates, post.Did)
				continue
			}
			merged = append(merged, post)
		}
		for did, up := range updates {
			if !up.deleted {
				merged = append(merged, Posting{Did: did, Wdf: up.wdf})
			}
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Did < merged[j].Did })
		if err := db.postlist.WritePostings(term, merged); err != nil {
			return err
		}
	}
	db.pending = make(map[string]map[uint32]postingUpdate)
	return db.postlist.WriteMeta(db.lastDocid, db.totalLength)
}

// Cancel discards all uncommitted changes.
func (db *WritableDatabase) Cancel() error {
	if err := db.check(); err != nil {
		return err
	}
	db.pending = make(map[string]map[uint32]postingUpdate)
	var result *multierror.Error
	for _, name := range tableNames {
		result = multierror.Append(result, db.tables[name].Cancel())
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	return db.loadMeta()
}

// Close discards uncommitted changes, releases the file descriptors, and
// drops the writer lock.
func (db *WritableDatabase) Close() error {
	if db.closed {
		return nil
	}
	var result *multierror.Error
	result = multierror.Append(result, db.Database.Close())
	result = multierror.Append(result, db.lock.Release())
	return result.ErrorOrNil()
}

// RawTable exposes one of the underlying tables by name. The compactor and
// the consistency checker work at this level; normal callers use the typed
// accessors.
func (db *Database) RawTable(name string) *btree.Table {
	return db.tables[name]
}

// TableNames lists the tables of a database in canonical order.
func TableNames() []string {
	return append([]string(nil), tableNames...)
}

// FirstDocid returns the lowest docid in use, or 0 when empty.
func (db *Database) FirstDocid() (uint32, error) {
	if err := db.check(); err != nil {
		return 0, err
	}
	it, err := db.postlist.Iterator("")
	if err != nil || it == nil {
		return 0, err
	}
	if err := it.Next(); err != nil {
		return 0, err
	}
	if it.AtEnd() {
		return 0, nil
	}
	return it.Docid(), nil
}

// Describe returns a short human-readable summary, used by tools.
func (db *Database) Describe() string {
	return fmt.Sprintf("lodestone db %s (uuid %s, revision %d, %d docs)",
		db.dir, db.uuid, db.Revision(), db.DocCount())
}
