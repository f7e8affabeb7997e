package compactor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lodestone-search/lodestone/internal/backend"
	lserrors "github.com/lodestone-search/lodestone/pkg/errors"
)

// buildSource writes a database whose docids span [first, first+count).
func buildSource(t *testing.T, dir string, first uint32, count int) {
	t.Helper()
	db, err := backend.Create(dir, 0)
	if err != nil {
		t.Fatalf("Create(%s): %v", dir, err)
	}
	defer db.Close()
	for i := 0; i < count; i++ {
		did := first + uint32(i)
		doc := backend.NewDocument()
		doc.SetData([]byte(fmt.Sprintf("record-%d", did)))
		doc.AddPosting("common", 1, 1)
		doc.AddPosting(fmt.Sprintf("only%d", did), 2, 1)
		if err := db.ReplaceDocument(did, doc); err != nil {
			t.Fatalf("ReplaceDocument(%d): %v", did, err)
		}
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit(%s): %v", dir, err)
	}
}

func TestCompactNoRenumberDisjoint(t *testing.T) {
	root := t.TempDir()
	var srcs []string
	for i, first := range []uint32{1, 11, 21} {
		dir := filepath.Join(root, fmt.Sprintf("src%d", i))
		buildSource(t, dir, first, 10)
		srcs = append(srcs, dir)
	}
	dest := filepath.Join(root, "dest")
	if err := Compact(srcs, dest, &Options{NoRenumber: true}); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	db, err := backend.Open(dest)
	if err != nil {
		t.Fatalf("Open(dest): %v", err)
	}
	defer db.Close()
	if n := db.DocCount(); n != 30 {
		t.Fatalf("DocCount = %d, want 30", n)
	}
	if last := db.LastDocid(); last != 30 {
		t.Fatalf("LastDocid = %d, want 30", last)
	}
	// Every document keeps its original id and data.
	for _, did := range []uint32{1, 10, 11, 20, 21, 30} {
		doc, err := db.GetDocument(did)
		if err != nil {
			t.Fatalf("GetDocument(%d): %v", did, err)
		}
		if want := fmt.Sprintf("record-%d", did); string(doc.Data()) != want {
			t.Fatalf("doc %d data = %q, want %q", did, doc.Data(), want)
		}
	}
	// Term statistics are summed across sources.
	if tf, _ := db.TermFreq("common"); tf != 30 {
		t.Fatalf("TermFreq(common) = %d, want 30", tf)
	}
	if cf, _ := db.CollFreq("common"); cf != 30 {
		t.Fatalf("CollFreq(common) = %d, want 30", cf)
	}
	if tf, _ := db.TermFreq("only15"); tf != 1 {
		t.Fatalf("TermFreq(only15) = %d, want 1", tf)
	}
	// Positions survive the docid-keyed copy.
	pos, err := db.Positions(25, "only25")
	if err != nil || len(pos) != 1 || pos[0] != 2 {
		t.Fatalf("Positions(25, only25) = %v, %v", pos, err)
	}
	if err := db.CheckConsistency(); err != nil {
		t.Fatalf("CheckConsistency: %v", err)
	}
}

func TestCompactNoRenumberOverlapFails(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	buildSource(t, a, 1, 10)
	buildSource(t, b, 5, 10)
	err := Compact([]string{a, b}, filepath.Join(root, "dest"), &Options{NoRenumber: true})
	if !errors.Is(err, lserrors.ErrInvalidOperation) {
		t.Fatalf("overlapping compact: %v", err)
	}
}

func TestCompactRenumber(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	buildSource(t, a, 1, 3)
	buildSource(t, b, 1, 2)
	dest := filepath.Join(root, "dest")
	if err := Compact([]string{a, b}, dest, nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	db, err := backend.Open(dest)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if n := db.DocCount(); n != 5 {
		t.Fatalf("DocCount = %d, want 5", n)
	}
	// The second source's docids shift by the first's last docid.
	doc, err := db.GetDocument(4)
	if err != nil {
		t.Fatalf("GetDocument(4): %v", err)
	}
	if string(doc.Data()) != "record-1" {
		t.Fatalf("doc 4 data = %q, want record-1 from source b", doc.Data())
	}
	if tf, _ := db.TermFreq("common"); tf != 5 {
		t.Fatalf("TermFreq(common) = %d, want 5", tf)
	}
}

func TestCompactMergesSpellingAndSynonyms(t *testing.T) {
	root := t.TempDir()
	var srcs []string
	for i := 0; i < 2; i++ {
		dir := filepath.Join(root, fmt.Sprintf("s%d", i))
		db, err := backend.Create(dir, 0)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		doc := backend.NewDocument()
		doc.AddTerm("t", 1)
		db.AddDocument(doc)
		db.AddSpelling("shared", 3)
		db.AddSpelling(fmt.Sprintf("word%d", i), 1)
		db.AddSynonym("cat", fmt.Sprintf("feline%d", i))
		db.Commit()
		db.Close()
		srcs = append(srcs, dir)
	}
	dest := filepath.Join(root, "dest")
	if err := Compact(srcs, dest, nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	db, _ := backend.Open(dest)
	defer db.Close()
	// Spelling frequencies summed, synonyms unioned.
	if got, _ := db.SpellingSuggestion("sharee"); got != "shared" {
		t.Fatalf("suggestion = %q, want shared", got)
	}
	syns, err := db.Synonyms("cat")
	if err != nil || len(syns) != 2 {
		t.Fatalf("Synonyms(cat) = %v, %v", syns, err)
	}
}

func TestCompactMultipass(t *testing.T) {
	root := t.TempDir()
	var srcs []string
	for i := 0; i < 5; i++ {
		dir := filepath.Join(root, fmt.Sprintf("m%d", i))
		buildSource(t, dir, 1, 2)
		srcs = append(srcs, dir)
	}
	dest := filepath.Join(root, "dest")
	if err := Compact(srcs, dest, &Options{Multipass: true}); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	db, err := backend.Open(dest)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if n := db.DocCount(); n != 10 {
		t.Fatalf("DocCount = %d, want 10", n)
	}
	if tf, _ := db.TermFreq("common"); tf != 10 {
		t.Fatalf("TermFreq(common) = %d, want 10", tf)
	}
}

func TestCompactValueSlots(t *testing.T) {
	root := t.TempDir()
	var srcs []string
	for i := 0; i < 2; i++ {
		dir := filepath.Join(root, fmt.Sprintf("v%d", i))
		db, _ := backend.Create(dir, 0)
		doc := backend.NewDocument()
		doc.AddTerm("t", 1)
		doc.AddValue(0, []byte(fmt.Sprintf("val%d", i)))
		db.AddDocument(doc)
		db.Commit()
		db.Close()
		srcs = append(srcs, dir)
	}
	dest := filepath.Join(root, "dest")
	if err := Compact(srcs, dest, nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	db, _ := backend.Open(dest)
	defer db.Close()
	v, err := db.Value(2, 0)
	if err != nil || string(v) != "val1" {
		t.Fatalf("Value(2, 0) = %q, %v", v, err)
	}
	freq, lower, upper, err := db.ValueFreq(0)
	if err != nil || freq != 2 || string(lower) != "val0" || string(upper) != "val1" {
		t.Fatalf("ValueFreq = %d %q %q %v", freq, lower, upper, err)
	}
	if !strings.HasPrefix(db.Describe(), "lodestone db") {
		t.Fatalf("Describe = %q", db.Describe())
	}
}
