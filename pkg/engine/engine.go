// Package engine is the public face of the search library: database
// handles, documents, the query parser, and ranked retrieval via Enquire.
// It delegates to the internal storage, matcher and parser packages.
package engine

import (
	"time"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/internal/matcher"
	"github.com/lodestone-search/lodestone/internal/query"
	"github.com/lodestone-search/lodestone/internal/queryparser"
	"github.com/lodestone-search/lodestone/pkg/errors"
	"github.com/lodestone-search/lodestone/pkg/metrics"
)

// Core types, re-exported from the implementation packages.
type (
	Database         = backend.Database
	WritableDatabase = backend.WritableDatabase
	Document         = backend.Document

	Query   = query.Query
	QueryOp = query.Op

	QueryParser         = queryparser.QueryParser
	QueryFlags          = queryparser.Flags
	Stemmer             = queryparser.Stemmer
	ValueRangeProcessor = queryparser.ValueRangeProcessor

	MSet     = matcher.MSet
	MSetItem = matcher.MSetItem
	KeyMaker = matcher.KeyMaker
	Scheme   = matcher.Scheme
)

// Query operators.
const (
	OpAnd         = query.OpAnd
	OpOr          = query.OpOr
	OpAndNot      = query.OpAndNot
	OpXor         = query.OpXor
	OpAndMaybe    = query.OpAndMaybe
	OpFilter      = query.OpFilter
	OpNear        = query.OpNear
	OpPhrase      = query.OpPhrase
	OpValueRange  = query.OpValueRange
	OpScaleWeight = query.OpScaleWeight
	OpSynonym     = query.OpSynonym
)

// Parser feature flags.
const (
	FlagBoolean               = queryparser.FlagBoolean
	FlagPhrase                = queryparser.FlagPhrase
	FlagLoveHate              = queryparser.FlagLoveHate
	FlagBooleanAnyCase        = queryparser.FlagBooleanAnyCase
	FlagWildcard              = queryparser.FlagWildcard
	FlagPureNot               = queryparser.FlagPureNot
	FlagPartial               = queryparser.FlagPartial
	FlagSpellingCorrection    = queryparser.FlagSpellingCorrection
	FlagSynonym               = queryparser.FlagSynonym
	FlagAutoSynonyms          = queryparser.FlagAutoSynonyms
	FlagAutoMultiwordSynonyms = queryparser.FlagAutoMultiwordSynonyms
	FlagDefault               = queryparser.FlagDefault
)

// Open opens a database read-only at its newest revision.
func Open(dir string) (*Database, error) { return backend.Open(dir) }

// OpenWritable opens a database for update, taking the single-writer lock.
func OpenWritable(dir string) (*WritableDatabase, error) { return backend.OpenWritable(dir) }

// Create initialises a new database directory; blockSize 0 means the
// default.
func Create(dir string, blockSize uint32) (*WritableDatabase, error) {
	return backend.Create(dir, blockSize)
}

// CreateOptions carries the full set of storage knobs for a new database,
// typically populated from config.StorageConfig.
type CreateOptions = backend.CreateOptions

// CreateWithOptions is Create with explicit storage options.
func CreateWithOptions(dir string, opts *CreateOptions) (*WritableDatabase, error) {
	return backend.CreateWithOptions(dir, opts)
}

// NewDocument returns an empty document.
func NewDocument() *Document { return backend.NewDocument() }

// NewQueryParser returns a parser with the conventional defaults.
func NewQueryParser() *QueryParser { return queryparser.New() }

// NewTermQuery builds a single-term query.
func NewTermQuery(term string) *Query { return query.Term(term) }

// NewQuery combines subqueries under op.
func NewQuery(op QueryOp, subs ...*Query) *Query { return query.New(op, subs...) }

// NewValueRangeQuery restricts matches to documents whose value in slot
// lies in [lo, hi].
func NewValueRangeQuery(slot uint32, lo, hi string) *Query { return query.Range(slot, lo, hi) }

// NewBM25 returns the default weighting scheme.
func NewBM25() Scheme { return matcher.NewBM25() }

// NewBoolWeight returns the zero-everywhere scheme (pure filtering).
func NewBoolWeight() Scheme { return matcher.BoolScheme{} }

// NewMultiValueKeyMaker builds sort keys from value slots.
func NewMultiValueKeyMaker() *matcher.MultiValueKeyMaker {
	return matcher.NewMultiValueKeyMaker()
}

// SortableSerialise encodes a float so bytewise order matches numeric
// order; use for numeric value slots.
func SortableSerialise(v float64) string { return queryparser.SortableSerialise(v) }

// SortableUnserialise reverses SortableSerialise.
func SortableUnserialise(s string) float64 { return queryparser.SortableUnserialise(s) }

// Enquire runs queries against one database snapshot.
type Enquire struct {
	db      *Database
	query   *Query
	opts    matcher.Options
	metrics *metrics.Metrics
}

// NewEnquire returns an Enquire bound to db's current snapshot.
func NewEnquire(db *Database) *Enquire {
	return &Enquire{db: db}
}

// SetQuery sets the query to run.
func (e *Enquire) SetQuery(q *Query) { e.query = q }

// SetWeightingScheme replaces the default BM25 ranking.
func (e *Enquire) SetWeightingScheme(s Scheme) { e.opts.Scheme = s }

// SetSortByKey orders results by a document key instead of weight.
func (e *Enquire) SetSortByKey(k KeyMaker) { e.opts.Sorter = k }

// SetCollapseKey keeps at most max documents per distinct value of slot.
func (e *Enquire) SetCollapseKey(slot uint32, max uint32) {
	s := slot
	e.opts.CollapseSlot = &s
	e.opts.CollapseMax = max
}

// SetCheckAtLeast forces at least n candidates to be weighed before
// pruning starts, tightening the match-count bounds.
func (e *Enquire) SetCheckAtLeast(n uint32) { e.opts.CheckAtLeast = n }

// SetMetrics attaches Prometheus collectors to query evaluation.
func (e *Enquire) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// MSet evaluates the query and returns items [first, first+maxItems).
func (e *Enquire) MSet(first, maxItems uint32) (*MSet, error) {
	if e.query == nil {
		return nil, errors.New(errors.ErrInvalidArgument, "no query set")
	}
	start := time.Now()
	m, err := matcher.Match(e.db, e.query, first, maxItems, &e.opts)
	if e.metrics != nil {
		e.metrics.QueryLatency.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			e.metrics.QueriesTotal.WithLabelValues("error").Inc()
		case len(m.Items) == 0:
			e.metrics.QueriesTotal.WithLabelValues("zero_result").Inc()
		default:
			e.metrics.QueriesTotal.WithLabelValues("hit").Inc()
		}
	}
	return m, err
}
