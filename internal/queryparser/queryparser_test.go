package queryparser

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/internal/query"
	lserrors "github.com/lodestone-search/lodestone/pkg/errors"
)

func parse(t *testing.T, p *QueryParser, qs string, flags Flags) *query.Query {
	t.Helper()
	q, err := p.ParseQuery(qs, flags, "")
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", qs, err)
	}
	return q
}

func TestPlainTermsDefaultOr(t *testing.T) {
	p := New()
	q := parse(t, p, "quick brown fox", FlagDefault)
	if got := q.String(); got != "(quick OR brown OR fox)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestDefaultOpAnd(t *testing.T) {
	p := New()
	p.SetDefaultOp(query.OpAnd)
	q := parse(t, p, "quick brown", FlagDefault)
	if got := q.String(); got != "(quick AND brown)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestBooleanOperators(t *testing.T) {
	p := New()
	cases := map[string]string{
		"cat AND dog":          "(cat AND dog)",
		"cat OR dog":           "(cat OR dog)",
		"cat XOR dog":          "(cat XOR dog)",
		"cat NOT dog":          "(cat AND_NOT dog)",
		"cat AND NOT dog":      "(cat AND_NOT dog)",
		"cat AND dog OR cow":   "((cat AND dog) OR cow)",
		"(cat OR dog) AND cow": "((cat OR dog) AND cow)",
	}
	for qs, want := range cases {
		q := parse(t, p, qs, FlagDefault)
		if got := q.String(); got != want {
			t.Errorf("parse(%q) = %s, want %s", qs, got, want)
		}
	}
}

func TestBooleanAnyCase(t *testing.T) {
	p := New()
	q := parse(t, p, "cat and dog", FlagDefault|FlagBooleanAnyCase)
	if got := q.String(); got != "(cat AND dog)" {
		t.Fatalf("tree = %s", got)
	}
	// Without the flag, lower-case "and" is an ordinary term.
	q = parse(t, p, "cat and dog", FlagDefault)
	if got := q.String(); got != "(cat OR and OR dog)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestLoveHate(t *testing.T) {
	p := New()
	q := parse(t, p, "+quick lazy -brown", FlagDefault)
	if got := q.String(); got != "((quick AND_MAYBE lazy) AND_NOT brown)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestBooleanFilterWithProb(t *testing.T) {
	// Scenario: site:example.com quick -brown, with site mapped to the H
	// boolean prefix.
	p := New()
	p.AddBooleanPrefix("site", "H")
	q := parse(t, p, "site:example.com quick -brown", FlagDefault)
	want := "(((0 * Hexample.com) AND_MAYBE quick) AND_NOT brown)"
	if got := q.String(); got != want {
		t.Fatalf("tree = %s, want %s", got, want)
	}
}

func TestBooleanFilterGroups(t *testing.T) {
	p := New()
	p.AddBooleanPrefix("site", "H")
	p.AddBooleanPrefix("lang", "L")
	q := parse(t, p, "site:a site:b lang:en term", FlagDefault)
	// Same-prefix filters OR together, different prefixes AND.
	want := "((0 * ((Ha OR Hb) AND Len)) AND_MAYBE term)"
	if got := q.String(); got != want {
		t.Fatalf("tree = %s, want %s", got, want)
	}
}

func TestPureFilterQuery(t *testing.T) {
	p := New()
	p.AddBooleanPrefix("site", "H")
	q := parse(t, p, "site:example.com", FlagDefault)
	if got := q.String(); got != "(0 * Hexample.com)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestProbabilisticPrefix(t *testing.T) {
	p := New()
	p.AddPrefix("title", "S")
	q := parse(t, p, "title:mice", FlagDefault)
	if got := q.String(); got != "Smice" {
		t.Fatalf("tree = %s", got)
	}
}

func TestValueRange(t *testing.T) {
	p := New()
	p.AddRangeProcessor(&StringValueRangeProcessor{Slot: 0})
	q := parse(t, p, "hello..world", FlagDefault)
	if got := q.String(); got != "VALUE_RANGE 0 hello world" {
		t.Fatalf("tree = %s", got)
	}
}

func TestValueRangeUnknown(t *testing.T) {
	p := New()
	p.AddRangeProcessor(&NumberValueRangeProcessor{Slot: 1})
	_, err := p.ParseQuery("hello..world", FlagDefault, "")
	if !errors.Is(err, lserrors.ErrQueryParser) {
		t.Fatalf("err = %v, want query parse error", err)
	}
	var perr *lserrors.ParseError
	if !errors.As(err, &perr) || perr.Message != "Unknown range operation" {
		t.Fatalf("err = %v", err)
	}
}

func TestNumberValueRange(t *testing.T) {
	p := New()
	p.AddRangeProcessor(&NumberValueRangeProcessor{Slot: 3})
	q := parse(t, p, "10..20", FlagDefault)
	if q.Op != query.OpValueRange || q.Slot != 3 {
		t.Fatalf("tree = %s", q)
	}
	if q.Lo != SortableSerialise(10) || q.Hi != SortableSerialise(20) {
		t.Fatal("range bounds not sortable-serialised")
	}
	if SortableSerialise(10) >= SortableSerialise(20) {
		t.Fatal("sortable encoding does not preserve order")
	}
}

func TestQuotedPhrase(t *testing.T) {
	p := New()
	q := parse(t, p, `"quick brown" fox`, FlagDefault)
	if got := q.String(); got != "((quick PHRASE 2 brown) OR fox)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestUnmatchedQuoteImplicitlyClosed(t *testing.T) {
	p := New()
	q := parse(t, p, `"quick brown`, FlagDefault)
	if got := q.String(); got != "(quick PHRASE 2 brown)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestPhrasedTerm(t *testing.T) {
	p := New()
	q := parse(t, p, "quick-brown", FlagDefault)
	if got := q.String(); got != "(quick PHRASE 2 brown)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestNearExpr(t *testing.T) {
	p := New()
	q := parse(t, p, "cat NEAR dog", FlagDefault)
	if got := q.String(); got != "(cat NEAR 11 dog)" {
		t.Fatalf("tree = %s", got)
	}
	q = parse(t, p, "cat NEAR/3 dog", FlagDefault)
	if got := q.String(); got != "(cat NEAR 3 dog)" {
		t.Fatalf("tree = %s", got)
	}
	q = parse(t, p, "cat ADJ dog", FlagDefault)
	if got := q.String(); got != "(cat PHRASE 11 dog)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestPureNot(t *testing.T) {
	p := New()
	q := parse(t, p, "NOT dog", FlagDefault|FlagPureNot)
	if got := q.String(); got != "(<alldocuments> AND_NOT dog)" {
		t.Fatalf("tree = %s", got)
	}
	if _, err := p.ParseQuery("NOT dog", FlagDefault, ""); err == nil {
		t.Fatal("NOT without FlagPureNot should fail")
	}
}

func TestSyntaxErrors(t *testing.T) {
	p := New()
	for _, qs := range []string{"AND", "cat AND", "AND cat", "cat OR OR dog"} {
		if _, err := p.ParseQuery(qs, FlagDefault, ""); err == nil {
			t.Errorf("ParseQuery(%q) should fail", qs)
		}
	}
}

func TestTermCharacters(t *testing.T) {
	p := New()
	q := parse(t, p, "AT&T fred's", FlagDefault)
	if got := q.String(); got != "(at&t OR fred's)" {
		t.Fatalf("tree = %s", got)
	}
	// An acronym keeps its letters and resists operator matching.
	q = parse(t, p, "U.N.C.L.E agents", FlagDefault)
	if !strings.Contains(q.String(), "uncle") {
		t.Fatalf("tree = %s", q)
	}
}

func TestStemming(t *testing.T) {
	p := New()
	p.SetStemmer(func(w string) string { return strings.TrimSuffix(w, "ing") })
	p.SetStemmingStrategy(StemSome)
	q := parse(t, p, "running", FlagDefault)
	if got := q.String(); got != "Zrunn" {
		t.Fatalf("tree = %s", got)
	}
	// Positional use prevents stemming.
	q = parse(t, p, `"running dog"`, FlagDefault)
	if got := q.String(); got != "(running PHRASE 2 dog)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestStopper(t *testing.T) {
	p := New()
	p.SetStopper(func(w string) bool { return w == "the" })
	q := parse(t, p, "the quick fox", FlagDefault)
	if got := q.String(); got != "(quick OR fox)" {
		t.Fatalf("tree = %s", got)
	}
}

// dbParserFixture indexes a few documents so database-dependent features
// have something to chew on.
func dbParserFixture(t *testing.T) *backend.WritableDatabase {
	t.Helper()
	db, err := backend.Create(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, text := range []string{"wildcard wild wilderness", "search engine"} {
		doc := backend.NewDocument()
		for i, w := range strings.Fields(text) {
			doc.AddPosting(w, uint32(i+1), 1)
		}
		db.AddDocument(doc)
	}
	db.AddSpelling("search", 5)
	db.AddSynonym("car", "automobile")
	db.AddSynonym("search engine", "google")
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return db
}

func TestWildcardExpansion(t *testing.T) {
	db := dbParserFixture(t)
	p := New()
	p.SetDatabase(db)
	q := parse(t, p, "wild*", FlagDefault|FlagWildcard)
	if got := q.String(); got != "(wild SYNONYM wildcard SYNONYM wilderness)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestPartialTerm(t *testing.T) {
	db := dbParserFixture(t)
	p := New()
	p.SetDatabase(db)
	q := parse(t, p, "wild", FlagDefault|FlagPartial)
	// Exact form ORed in so a finished word outranks truncations.
	want := "((wild SYNONYM wildcard SYNONYM wilderness) OR wild)"
	if got := q.String(); got != want {
		t.Fatalf("tree = %s, want %s", got, want)
	}
}

func TestSpellingCorrection(t *testing.T) {
	db := dbParserFixture(t)
	p := New()
	p.SetDatabase(db)
	parse(t, p, "serch engine", FlagDefault|FlagSpellingCorrection)
	if got := p.CorrectedQueryString(); got != "search engine" {
		t.Fatalf("corrected = %q, want %q", got, "search engine")
	}
	// No correction leaves the corrected string empty.
	parse(t, p, "search engine", FlagDefault|FlagSpellingCorrection)
	if got := p.CorrectedQueryString(); got != "" {
		t.Fatalf("corrected = %q, want empty", got)
	}
}

func TestExplicitSynonym(t *testing.T) {
	db := dbParserFixture(t)
	p := New()
	p.SetDatabase(db)
	q := parse(t, p, "~car", FlagDefault|FlagSynonym)
	if got := q.String(); got != "(car SYNONYM automobile)" {
		t.Fatalf("tree = %s", got)
	}
}

func TestAutoMultiwordSynonyms(t *testing.T) {
	db := dbParserFixture(t)
	p := New()
	p.SetDatabase(db)
	q := parse(t, p, "search engine", FlagDefault|FlagSynonym|FlagAutoMultiwordSynonyms)
	want := "((search OR engine) SYNONYM google)"
	if got := q.String(); got != want {
		t.Fatalf("tree = %s, want %s", got, want)
	}
}

func TestEmptyQuery(t *testing.T) {
	p := New()
	q := parse(t, p, "", FlagDefault)
	if !q.Empty() {
		t.Fatalf("tree = %s", q)
	}
	q = parse(t, p, "   ", FlagDefault)
	if !q.Empty() {
		t.Fatalf("tree = %s", q)
	}
}
