package matcher

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/internal/query"
)

func buildTestDB(t *testing.T, texts ...string) *backend.WritableDatabase {
	t.Helper()
	db, err := backend.Create(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, text := range texts {
		doc := backend.NewDocument()
		doc.SetData([]byte(text))
		for i, word := range strings.Fields(text) {
			doc.AddPosting(word, uint32(i+1), 1)
		}
		if _, err := db.AddDocument(doc); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return db
}

func threeDocs(t *testing.T) *backend.WritableDatabase {
	return buildTestDB(t,
		"the quick brown fox",
		"the lazy dog",
		"fox and dog",
	)
}

func docids(m *MSet) []uint32 {
	out := make([]uint32, len(m.Items))
	for i, item := range m.Items {
		out[i] = item.Docid
	}
	return out
}

// bm25 mirrors the scheme's formula for expectation values in tests.
func bm25(db *backend.WritableDatabase, term string, wdf uint32, doclen uint64) float64 {
	tf, _ := db.TermFreq(term)
	n := float64(db.DocCount())
	df := float64(tf)
	idf := math.Log((n-df)/(df+0.5) + 1)
	k1, b := 1.2, 0.75
	denom := float64(wdf) + k1*(1-b+b*float64(doclen)/db.AvgLength())
	return idf * float64(wdf) * (k1 + 1) / denom
}

func TestAndQuery(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpAnd, query.Term("fox"), query.Term("dog"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := docids(m); len(got) != 1 || got[0] != 3 {
		t.Fatalf("fox AND dog = %v, want [3]", got)
	}
	want := bm25(db, "fox", 1, 3) + bm25(db, "dog", 1, 3)
	if diff := m.Items[0].Weight - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weight = %v, want %v", m.Items[0].Weight, want)
	}
}

func TestOrQuery(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpOr, query.Term("fox"), query.Term("dog"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	got := docids(m)
	if len(got) != 3 {
		t.Fatalf("fox OR dog = %v, want 3 results", got)
	}
	// d3 matches both terms, so it must rank first; weights descend.
	if got[0] != 3 {
		t.Fatalf("top result = %d, want 3", got[0])
	}
	for i := 1; i < len(m.Items); i++ {
		if m.Items[i].Weight > m.Items[i-1].Weight {
			t.Fatalf("weights not descending: %v", m.Items)
		}
	}
}

func TestAndNotQuery(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpAndNot, query.Term("dog"), query.Term("lazy"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := docids(m); len(got) != 1 || got[0] != 3 {
		t.Fatalf("dog AND_NOT lazy = %v, want [3]", got)
	}
}

func TestXorQuery(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpXor, query.Term("fox"), query.Term("the"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// fox: {1,3}; the: {1,2}; xor: {2,3}.
	got := docids(m)
	if len(got) != 2 {
		t.Fatalf("xor = %v, want two results", got)
	}
	seen := map[uint32]bool{got[0]: true, got[1]: true}
	if !seen[2] || !seen[3] {
		t.Fatalf("xor = %v, want {2, 3}", got)
	}
}

func TestAndMaybeQuery(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpAndMaybe, query.Term("dog"), query.Term("lazy"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// Only dog docs match, but d2 gets lazy's extra weight and wins.
	got := docids(m)
	if len(got) != 2 || got[0] != 2 {
		t.Fatalf("dog AND_MAYBE lazy = %v, want [2 3]", got)
	}
}

func TestPhraseQuery(t *testing.T) {
	db := buildTestDB(t,
		"the quick brown fox",
		"brown the quick dog",
		"quick and then brown",
	)
	q := query.Positional(query.OpPhrase, 0,
		query.Term("quick"), query.Term("brown"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := docids(m); len(got) != 1 || got[0] != 1 {
		t.Fatalf(`phrase "quick brown" = %v, want [1]`, got)
	}
}

func TestNearQuery(t *testing.T) {
	db := buildTestDB(t,
		"the quick brown fox",
		"brown the quick dog",
		"quick a b c d e f g h i j brown",
	)
	q := query.Positional(query.OpNear, 3,
		query.Term("quick"), query.Term("brown"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// Docs 1 and 2 have the terms within a 3-position window in some
	// order; doc 3 spreads them too far apart.
	got := docids(m)
	if len(got) != 2 {
		t.Fatalf("near = %v, want two results", got)
	}
	seen := map[uint32]bool{got[0]: true, got[1]: true}
	if !seen[1] || !seen[2] {
		t.Fatalf("near = %v, want {1, 2}", got)
	}
}

func TestValueRangeQuery(t *testing.T) {
	db, _ := backend.Create(filepath.Join(t.TempDir(), "db"), 0)
	defer db.Close()
	prices := []string{"apple", "honey", "walnut", "zebra"}
	for _, p := range prices {
		doc := backend.NewDocument()
		doc.AddTerm("item", 1)
		doc.AddValue(0, []byte(p))
		db.AddDocument(doc)
	}
	db.Commit()

	q := query.Range(0, "hello", "world")
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// "honey" and "walnut" lie in ["hello", "world"].
	got := docids(m)
	if len(got) != 2 {
		t.Fatalf("value range = %v, want two results", got)
	}
	// An impossible range short-circuits on the slot bounds.
	q = query.Range(0, "zz", "zzz")
	m, err = Match(db, q, 0, 10, nil)
	if err != nil || len(m.Items) != 0 {
		t.Fatalf("empty range = %v, %v", docids(m), err)
	}
}

func TestSynonymQuery(t *testing.T) {
	// A fourth document outside the group keeps the group's aggregated
	// termfreq below the document count, so its idf is non-zero.
	db := buildTestDB(t,
		"the quick brown fox",
		"the lazy dog",
		"fox and dog",
		"a cat sat",
	)
	q := query.New(query.OpSynonym, query.Term("fox"), query.Term("dog"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := docids(m); len(got) != 3 {
		t.Fatalf("synonym = %v, want all three docs", got)
	}
	// The group scores as one term: d3 (both members, wdf 2) ranks top.
	if m.Items[0].Docid != 3 {
		t.Fatalf("top = %d, want 3", m.Items[0].Docid)
	}
}

func TestScaleWeightZero(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpAndMaybe,
		query.Scale(0, query.Term("dog")),
		query.Term("fox"))
	m, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// Matches exactly the dog docs; d3 carries fox's weight, d2 none.
	got := docids(m)
	if len(got) != 2 || got[0] != 3 {
		t.Fatalf("filtered = %v, want [3 2]", got)
	}
	if m.Items[1].Weight != 0 {
		t.Fatalf("filter-only doc has weight %v, want 0", m.Items[1].Weight)
	}
}

func TestPaging(t *testing.T) {
	db := threeDocs(t)
	q := query.New(query.OpOr, query.Term("fox"), query.Term("dog"))
	full, err := Match(db, q, 0, 10, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	page, err := Match(db, q, 1, 1, nil)
	if err != nil {
		t.Fatalf("Match page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Docid != full.Items[1].Docid {
		t.Fatalf("page = %v, want second item %d", docids(page), full.Items[1].Docid)
	}
}

func TestCollapse(t *testing.T) {
	db, _ := backend.Create(filepath.Join(t.TempDir(), "db"), 0)
	defer db.Close()
	keys := []string{"a", "a", "a", "b", "b"}
	for i, k := range keys {
		doc := backend.NewDocument()
		doc.AddTerm("item", uint32(i+1))
		doc.AddValue(1, []byte(k))
		db.AddDocument(doc)
	}
	db.Commit()

	slot := uint32(1)
	m, err := Match(db, query.Term("item"), 0, 10, &Options{
		CollapseSlot: &slot,
		CollapseMax:  1,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(m.Items) != 2 {
		t.Fatalf("collapse kept %d items, want 2", len(m.Items))
	}
	seen := map[string]bool{}
	for _, item := range m.Items {
		seen[string(item.CollapseKey)] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("collapse keys = %v", m.Items)
	}
}

func TestSortByKey(t *testing.T) {
	db, _ := backend.Create(filepath.Join(t.TempDir(), "db"), 0)
	defer db.Close()
	names := []string{"carol", "alice", "bob"}
	for _, name := range names {
		doc := backend.NewDocument()
		doc.AddTerm("person", 1)
		doc.AddValue(2, []byte(name))
		db.AddDocument(doc)
	}
	db.Commit()

	m, err := Match(db, query.Term("person"), 0, 10, &Options{
		Sorter: NewMultiValueKeyMaker(SlotSpec{Slot: 2}),
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	// Larger keys first: carol, bob, alice.
	want := []uint32{1, 3, 2}
	got := docids(m)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", got, want)
		}
	}
}

// stubPostList is a scripted leaf for exercising the OR decay logic.
type stubPostList struct {
	docs    []uint32
	weights []float64
	max     float64
	idx     int
	started bool
}

func (s *stubPostList) Docid() uint32 { return s.docs[s.idx] }
func (s *stubPostList) AtEnd() bool   { return s.started && s.idx >= len(s.docs) }

func (s *stubPostList) Next(float64) (PostList, error) {
	if !s.started {
		s.started = true
	} else {
		s.idx++
	}
	return nil, nil
}

func (s *stubPostList) SkipTo(did uint32, _ float64) (PostList, error) {
	s.started = true
	for s.idx < len(s.docs) && s.docs[s.idx] < did {
		s.idx++
	}
	return nil, nil
}

func (s *stubPostList) TermFreqMin() uint32 { return uint32(len(s.docs)) }
func (s *stubPostList) TermFreqEst() uint32 { return uint32(len(s.docs)) }
func (s *stubPostList) TermFreqMax() uint32 { return uint32(len(s.docs)) }

func (s *stubPostList) MaxWeight() float64       { return s.max }
func (s *stubPostList) RecalcMaxWeight() float64 { return s.max }

func (s *stubPostList) Weight() float64 { return s.weights[s.idx] }

func (s *stubPostList) DocLength() (uint64, error) { return 10, nil }

func (s *stubPostList) Wdf() uint32 { return 1 }

func (s *stubPostList) CountMatchingSubqs() uint32 { return 1 }

type stubSource struct{ Source }

func (stubSource) DocCount() uint64 { return 100 }

func TestOrDecaysToAndMaybe(t *testing.T) {
	l := &stubPostList{docs: []uint32{1, 3, 5}, weights: []float64{2, 2, 2}, max: 2}
	r := &stubPostList{docs: []uint32{2, 3}, weights: []float64{0.4, 0.4}, max: 0.4}
	ctx := &mctx{db: stubSource{}}
	or := newOrPostList(ctx, l, r)
	or.RecalcMaxWeight()

	// w_min above rmax but not lmax: the right branch alone can no longer
	// qualify, so the OR must hand back an AND_MAYBE replacement.
	repl, err := or.Next(1.0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if repl == nil {
		t.Fatal("OR did not return a replacement")
	}
	am, ok := repl.(*andMaybePostList)
	if !ok {
		t.Fatalf("replacement is %T, want *andMaybePostList", repl)
	}
	var got []uint32
	var weights []float64
	pl := PostList(am)
	for !pl.AtEnd() {
		got = append(got, pl.Docid())
		weights = append(weights, pl.Weight())
		next, err := pl.Next(1.0)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if next != nil {
			pl = next
		}
	}
	want := []uint32{1, 3, 5}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("decayed list = %v, want %v", got, want)
	}
	// Doc 3 is in both branches, so it carries the optional extra.
	if weights[1] <= weights[0] {
		t.Fatalf("weights = %v, want doc 3 boosted", weights)
	}
}

func TestOrDecaysToAnd(t *testing.T) {
	l := &stubPostList{docs: []uint32{1, 3, 5}, weights: []float64{2, 2, 2}, max: 2}
	r := &stubPostList{docs: []uint32{3, 5}, weights: []float64{1.5, 1.5}, max: 1.5}
	ctx := &mctx{db: stubSource{}}
	or := newOrPostList(ctx, l, r)
	or.RecalcMaxWeight()

	// w_min above both maxima: only documents matching both branches can
	// qualify, so the OR must become an AND.
	repl, err := or.Next(3.0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if repl == nil {
		t.Fatal("OR did not return a replacement")
	}
	if _, ok := repl.(*andPostList); !ok {
		t.Fatalf("replacement is %T, want *andPostList", repl)
	}
	var got []uint32
	pl := repl
	for !pl.AtEnd() {
		got = append(got, pl.Docid())
		if _, err := pl.Next(3.0); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("decayed AND = %v, want [3 5]", got)
	}
}
