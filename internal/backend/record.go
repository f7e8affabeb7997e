package backend

import (
	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/internal/pack"
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// RecordTable stores each document's opaque payload keyed by docid. The
// table is the authority for the document count.
type RecordTable struct {
	table *btree.Table
}

func recordKey(did uint32) []byte {
	return pack.AppendUintPreservingSort(nil, uint64(did))
}

// Get returns the record data for did, or DocNotFound.
func (r *RecordTable) Get(did uint32) ([]byte, error) {
	data, found, err := r.table.GetExact(recordKey(did))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Newf(errors.ErrDocNotFound, "document %d not found", did)
	}
	return data, nil
}

// Exists reports whether did has a record.
func (r *RecordTable) Exists(did uint32) (bool, error) {
	_, found, err := r.table.GetExact(recordKey(did))
	return found, err
}

// Set stores the record data for did.
func (r *RecordTable) Set(did uint32, data []byte) error {
	return r.table.Add(recordKey(did), data)
}

// Delete removes did's record, reporting whether one existed.
func (r *RecordTable) Delete(did uint32) (bool, error) {
	return r.table.Del(recordKey(did))
}

// DocCount returns the number of documents.
func (r *RecordTable) DocCount() uint64 {
	return r.table.EntryCount()
}
