package backend

import (
	"github.com/lodestone-search/lodestone/pkg/errors"
)

// CheckConsistency cross-verifies the invariants tying the tables
// together: per-term posting sums against the stored statistics, termlist
// lengths against the all-docs list, position list sizes against wdf, and
// the global meta entry against what the tables actually hold. It returns
// the first violation found as a DatabaseCorrupt error.
func (db *Database) CheckConsistency() error {
	if err := db.check(); err != nil {
		return err
	}

	// Every term's postings must add up to its stored statistics.
	at, err := db.AllTerms("")
	if err != nil {
		return err
	}
	for {
		if err := at.Next(); err != nil {
			return err
		}
		if at.AtEnd() {
			break
		}
		term := at.Term()
		it, err := db.PostingIterator(term)
		if err != nil {
			return err
		}
		var tf uint32
		var cf uint64
		for {
			if err := it.Next(); err != nil {
				return err
			}
			if it.AtEnd() {
				break
			}
			if it.Wdf() < 1 {
				return errors.Newf(errors.ErrDatabaseCorrupt,
					"term %q has wdf %d in doc %d", term, it.Wdf(), it.Docid())
			}
			tf++
			cf += uint64(it.Wdf())
		}
		if tf != at.TermFreq() || cf != at.CollFreq() {
			return errors.Newf(errors.ErrDatabaseCorrupt,
				"term %q stats (%d, %d) disagree with postings (%d, %d)",
				term, at.TermFreq(), at.CollFreq(), tf, cf)
		}
	}

	// Document lengths: termlist wdf sums, the termlist header, and the
	// all-docs list must agree, and every document must appear in the
	// all-docs list exactly once.
	alldocs, err := db.PostingIterator("")
	if err != nil {
		return err
	}
	var docCount uint64
	var totalLength uint64
	var lastDocid uint32
	if alldocs != nil {
		for {
			if err := alldocs.Next(); err != nil {
				return err
			}
			if alldocs.AtEnd() {
				break
			}
			did := alldocs.Docid()
			if did <= lastDocid {
				return errors.Newf(errors.ErrDatabaseCorrupt,
					"all-docs list out of order at doc %d", did)
			}
			lastDocid = did
			docCount++
			storedLen := uint64(alldocs.Wdf())
			totalLength += storedLen
			tl, err := db.TermListIterator(did)
			if err != nil {
				return err
			}
			if tl.DocLength() != storedLen {
				return errors.Newf(errors.ErrDatabaseCorrupt,
					"doc %d length %d disagrees with all-docs entry %d",
					did, tl.DocLength(), storedLen)
			}
			var sum uint64
			for {
				if err := tl.Next(); err != nil {
					return err
				}
				if tl.AtEnd() {
					break
				}
				sum += uint64(tl.Wdf())
				n, err := db.PositionCount(did, tl.Term())
				if err != nil {
					return err
				}
				if n != 0 && n != tl.Wdf() {
					return errors.Newf(errors.ErrDatabaseCorrupt,
						"doc %d term %q has %d positions but wdf %d",
						did, tl.Term(), n, tl.Wdf())
				}
			}
			if sum != storedLen {
				return errors.Newf(errors.ErrDatabaseCorrupt,
					"doc %d wdf sum %d disagrees with stored length %d",
					did, sum, storedLen)
			}
			if _, err := db.record.Get(did); err != nil {
				return errors.Newf(errors.ErrDatabaseCorrupt,
					"doc %d has postings but no record", did)
			}
		}
	}

	if docCount != db.DocCount() {
		return errors.Newf(errors.ErrDatabaseCorrupt,
			"all-docs list has %d entries but the record table holds %d",
			docCount, db.DocCount())
	}
	metaLast, metaTotal, err := db.postlist.ReadMeta()
	if err != nil {
		return err
	}
	if metaTotal != totalLength {
		return errors.Newf(errors.ErrDatabaseCorrupt,
			"meta total length %d disagrees with summed lengths %d",
			metaTotal, totalLength)
	}
	if metaLast < lastDocid {
		return errors.Newf(errors.ErrDatabaseCorrupt,
			"meta last docid %d below highest used docid %d", metaLast, lastDocid)
	}
	return nil
}
