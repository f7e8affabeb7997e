// Package compactor merges several databases into one freshly written
// database. Docids are renumbered with a per-source offset,
// or preserved when the sources' docid ranges are disjoint.
package compactor

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/internal/btree"
	"github.com/lodestone-search/lodestone/pkg/errors"
	"github.com/lodestone-search/lodestone/pkg/logger"
	"github.com/lodestone-search/lodestone/pkg/metrics"
)

// Options tunes a compaction run.
type Options struct {
	// BlockSize for the output tables; 0 means the default.
	BlockSize uint32
	// MaxChunkSize bounds one posting-list chunk in the output; 0 means
	// the default.
	MaxChunkSize int
	// Compress overrides the output's per-table compression toggles.
	Compress map[string]bool
	// NoRenumber preserves document ids; the sources must then have
	// disjoint used-docid ranges.
	NoRenumber bool
	// Multipass, with more than three sources, halves the number of
	// inputs per pass by merging them pairwise into temporary databases,
	// trading temporary disk space for cheaper merges.
	Multipass bool
	// Fuller records the --fuller request. Compact does not read it: the
	// output tables are built the same way with or without it.
	Fuller bool
	// Metrics, when set, counts completed compaction runs.
	Metrics *metrics.Metrics
}

type source struct {
	dir    string
	db     *backend.Database
	first  uint32
	last   uint32
	offset uint32
}

// Compact merges the databases at srcDirs into a new database at destDir.
func Compact(srcDirs []string, destDir string, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	if len(srcDirs) == 0 {
		return errors.New(errors.ErrInvalidArgument, "no source databases")
	}
	log := logger.WithComponent("compact")

	if opts.Multipass && len(srcDirs) > 3 {
		return multipass(srcDirs, destDir, opts)
	}

	srcs := make([]*source, 0, len(srcDirs))
	defer func() {
		for _, s := range srcs {
			s.db.Close()
		}
	}()
	for _, dir := range srcDirs {
		db, err := backend.Open(dir)
		if err != nil {
			return err
		}
		s := &source{dir: dir, db: db, last: db.LastDocid()}
		if s.first, err = db.FirstDocid(); err != nil {
			return err
		}
		srcs = append(srcs, s)
	}

	if opts.NoRenumber {
		// Sources are merged in docid order; their used ranges must not
		// overlap.
		sort.Slice(srcs, func(i, j int) bool { return srcs[i].first < srcs[j].first })
		for i := 1; i < len(srcs); i++ {
			if srcs[i].first != 0 && srcs[i-1].last >= srcs[i].first {
				return errors.Newf(errors.ErrInvalidOperation,
					"databases %s and %s have overlapping docid ranges",
					srcs[i-1].dir, srcs[i].dir)
			}
		}
	} else {
		var offset uint32
		for _, s := range srcs {
			s.offset = offset
			offset += s.last
		}
	}

	dest, err := backend.CreateWithOptions(destDir, &backend.CreateOptions{
		BlockSize:    opts.BlockSize,
		MaxChunkSize: opts.MaxChunkSize,
		Compress:     opts.Compress,
	})
	if err != nil {
		return err
	}
	defer dest.Close()

	// The tables are independent files; merge them concurrently.
	var g errgroup.Group
	g.Go(func() error { return mergePostlists(dest, srcs) })
	for _, name := range []string{"record", "termlist", "position", "value"} {
		name := name
		g.Go(func() error {
			for _, s := range srcs {
				err := backend.CopyDocidTable(dest.RawTable(name), s.db.RawTable(name), name, s.offset)
				if err != nil {
					return err
				}
			}
			if name == "value" {
				return backend.MergeValueStats(dest.RawTable("value"), rawTables(srcs, "value"))
			}
			return nil
		})
	}
	g.Go(func() error {
		return backend.MergeSpelling(dest.RawTable("spelling"), rawTables(srcs, "spelling"))
	})
	g.Go(func() error {
		return backend.MergeSynonyms(dest.RawTable("synonym"), rawTables(srcs, "synonym"))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := dest.Commit(); err != nil {
		return err
	}
	if opts.Metrics != nil {
		opts.Metrics.CompactionsTotal.Inc()
	}
	log.Info("compaction complete", "dest", destDir, "sources", len(srcs),
		"docs", dest.DocCount())
	return nil
}

func rawTables(srcs []*source, name string) []*btree.Table {
	out := make([]*btree.Table, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.db.RawTable(name))
	}
	return out
}

// mergePostlists performs the N-way posting-list merge: per term, source
// postings are concatenated in (offset-adjusted) docid order and the
// header statistics summed.
func mergePostlists(dest *backend.WritableDatabase, srcs []*source) error {
	out := dest.PostlistStore()

	// Global meta: the highest remapped docid and the summed length.
	var lastDocid uint32
	var totalLength uint64
	for _, s := range srcs {
		if last := s.last + s.offset; last > lastDocid {
			lastDocid = last
		}
		totalLength += s.db.TotalLength()
	}
	if err := out.WriteMeta(lastDocid, totalLength); err != nil {
		return err
	}

	// User metadata: first source holding a key wins.
	// (Merging opaque user values is not meaningful.)
	for _, s := range srcs {
		if err := copyUserMeta(dest, s.db); err != nil {
			return err
		}
	}

	// The all-docs list, then every term, in sorted order.
	if err := mergeTermPostings(out, srcs, ""); err != nil {
		return err
	}
	its := make([]*backend.AllTermsIterator, len(srcs))
	heads := make([]string, len(srcs))
	alive := make([]bool, len(srcs))
	for i, s := range srcs {
		it, err := s.db.AllTerms("")
		if err != nil {
			return err
		}
		its[i] = it
		if err := advance(it, &heads[i], &alive[i]); err != nil {
			return err
		}
	}
	for {
		term, any := "", false
		for i := range srcs {
			if alive[i] && (!any || heads[i] < term) {
				term, any = heads[i], true
			}
		}
		if !any {
			return nil
		}
		if err := mergeTermPostings(out, srcs, term); err != nil {
			return err
		}
		for i := range srcs {
			if alive[i] && heads[i] == term {
				if err := advance(its[i], &heads[i], &alive[i]); err != nil {
					return err
				}
			}
		}
	}
}

func advance(it *backend.AllTermsIterator, head *string, alive *bool) error {
	if err := it.Next(); err != nil {
		return err
	}
	if it.AtEnd() {
		*alive = false
		return nil
	}
	*head = it.Term()
	*alive = true
	return nil
}

func mergeTermPostings(out *backend.PostlistTable, srcs []*source, term string) error {
	var merged []backend.Posting
	for _, s := range srcs {
		it, err := s.db.PostingIterator(term)
		if err != nil {
			return err
		}
		if it == nil {
			continue
		}
		for {
			if err := it.Next(); err != nil {
				return err
			}
			if it.AtEnd() {
				break
			}
			merged = append(merged, backend.Posting{
				Did: it.Docid() + s.offset,
				Wdf: it.Wdf(),
			})
		}
	}
	if len(merged) == 0 {
		return nil
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Did < merged[j].Did })
	for i := 1; i < len(merged); i++ {
		if merged[i].Did == merged[i-1].Did {
			return errors.Newf(errors.ErrDatabaseCorrupt,
				"duplicate docid %d merging term %q", merged[i].Did, term)
		}
	}
	return out.WritePostings(term, merged)
}

func copyUserMeta(dest *backend.WritableDatabase, src *backend.Database) error {
	c := src.RawTable("postlist").Cursor()
	prefix := []byte{0x00, 0xc0}
	if _, err := c.FindEntryGE(prefix); err != nil {
		return err
	}
	for !c.AfterEnd() {
		key, err := c.CurrentKey()
		if err != nil {
			return err
		}
		if len(key) < 2 || key[0] != 0x00 || key[1] != 0xc0 {
			return nil
		}
		name := string(key[2:])
		existing, err := dest.GetMetadata(name)
		if err != nil {
			return err
		}
		if existing == "" {
			tag, _, err := c.ReadTag(false)
			if err != nil {
				return err
			}
			if err := dest.SetMetadata(name, string(tag)); err != nil {
				return err
			}
		}
		if err := c.Next(); err != nil {
			return err
		}
	}
	return nil
}

// multipass halves the number of inputs per pass: sources are merged
// pairwise into temporary databases until few enough remain for the final
// merge. Renumbering offsets compose across passes because pairing
// preserves source order; an odd source passes through to the next round
// untouched.
func multipass(srcDirs []string, destDir string, opts *Options) error {
	tmpRoot, err := os.MkdirTemp("", "lodestone-compact-")
	if err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "creating temporary directory: %v", err)
	}
	defer os.RemoveAll(tmpRoot)

	pass := 0
	current := srcDirs
	for len(current) > 3 {
		var next []string
		for i := 0; i < len(current); i += 2 {
			if i+1 >= len(current) {
				next = append(next, current[i])
				break
			}
			tmp := fmt.Sprintf("%s/pass%d-%d", tmpRoot, pass, i/2)
			sub := *opts
			sub.Multipass = false
			if err := Compact(current[i:i+2], tmp, &sub); err != nil {
				return err
			}
			next = append(next, tmp)
		}
		current = next
		pass++
	}
	final := *opts
	final.Multipass = false
	return Compact(current, destDir, &final)
}
