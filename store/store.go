// Package store implements the Index Store (spec §4.D): a composite over
// CouchDB (documents), PostgreSQL (sync progress and metrics), Redis
// (cache and locks), and Neo4j (a REFERENCES graph enrichment supporting
// didTxRef queries). Each backend degrades gracefully to nil when its DSN
// is unset, the way db/repository/composite.go's CompositeRepository does.
package store

import (
	"context"
	"time"

	"oip.network/indexd/record"
	"oip.network/indexd/template"
)

// Op is one of the closed query operators spec §4.D/§4.G require the store
// to support.
type Op string

const (
	OpEq       Op = "eq"       // exact-match on a dotted path
	OpRangeGte Op = "rangeGte" // numeric range, inclusive lower bound
	OpRangeLte Op = "rangeLte" // numeric range, inclusive upper bound
	OpContains Op = "contains" // array-contains
	OpText     Op = "text"     // tokenized full-text, against name+description+tags
)

// Clause is one predicate in a Query. Path is a dotted path into a
// record's data (e.g. "data.basic.date") or "recordType"/"did"/"storage"/
// "creator.didAddress"/"inArweaveBlock" for oip-level fields.
type Clause struct {
	Path  string
	Op    Op
	Value any
}

// BoolMode selects how a Query's Should clauses combine.
type BoolMode string

const (
	ModeAnd BoolMode = "and"
	ModeOr  BoolMode = "or"
)

// Query is the closed-surface query the store must satisfy (spec §4.D):
// exact-match, full-text, range, array-contains, boolean combinators,
// ordering, and offset+limit pagination.
type Query struct {
	Must       []Clause // all must match
	Should     []Clause // combined per ShouldMode, then AND'd with Must
	ShouldMode BoolMode
	SortBy     string // dotted path; "" means store-default order
	SortDesc   bool
	Offset     int
	Limit      int
}

// QueryResult is the store's response to QueryRecords.
type QueryResult struct {
	Records []*record.Record
	Total   int // total matches before offset/limit, for the caller's pagination math
}

// Creator is the creators index entry (spec §4.D).
type Creator struct {
	PublicKey  string
	DidAddress string
	Handle     string
}

// SyncProgress is the sync-progress singleton (spec §3.4).
type SyncProgress struct {
	LatestIndexedBlock int64
	LatestTxid         string
	UpdatedAt          time.Time
}

// BlockSyncRun is one audit row for a completed (or halted) block-walk
// pass — a SPEC_FULL.md supplement over the bare cursor the original spec
// requires, so operators can see pass-by-pass throughput and error counts.
type BlockSyncRun struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     time.Time
	FromBlock      int64
	ToBlock        int64
	RecordsIndexed int
	Errors         int
}

// PeerProgress is the per-peer health state (failure counters) a SPEC_FULL.md
// supplement adds on top of the bare per-peer polling spec.md §4.F
// describes.
type PeerProgress struct {
	PeerID              string
	LastSeenSoul        string
	ConsecutiveFailures int
	LastError           string
	UpdatedAt           time.Time
}

// DocumentRepository is the CouchDB-backed surface: records, templates,
// and creators, plus the closed Query surface.
type DocumentRepository interface {
	PutRecord(ctx context.Context, rec *record.Record) error
	GetRecord(ctx context.Context, did string) (*record.Record, bool, error)
	QueryRecords(ctx context.Context, q Query) (QueryResult, error)

	PutTemplate(ctx context.Context, tmpl *template.Template) error
	GetTemplate(ctx context.Context, nameOrTxid string) (*template.Template, bool, error)

	PutCreator(ctx context.Context, c Creator) error
	GetCreator(ctx context.Context, publicKey string) (Creator, bool, error)
}

// GraphRepository maintains the REFERENCES relationship between records so
// didTxRef queries (spec §4.G family 1) don't require a full-corpus scan.
type GraphRepository interface {
	UpsertReferences(ctx context.Context, fromDID string, toDIDs []string) error
	DeleteReferences(ctx context.Context, fromDID string) error
	// FindReferencing returns DIDs of records whose data references targetDID,
	// recursively, anywhere in any field.
	FindReferencing(ctx context.Context, targetDID string) ([]string, error)
}

// MetricsRepository is the PostgreSQL-backed sync-progress and audit
// surface.
type MetricsRepository interface {
	GetSyncProgress(ctx context.Context) (SyncProgress, error)
	SetSyncProgress(ctx context.Context, p SyncProgress) error
	RecordBlockSyncRun(ctx context.Context, run BlockSyncRun) error

	GetPeerProgress(ctx context.Context, peerID string) (PeerProgress, bool, error)
	SetPeerProgress(ctx context.Context, p PeerProgress) error
}

// CacheRepository is the Redis-backed locking and caching surface.
type CacheRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	SetCache(ctx context.Context, key string, value any, ttl time.Duration) error
	GetCache(ctx context.Context, key string, out any) (bool, error)
}

// Store composes all four backends. Any field may be nil if its backend
// wasn't configured; callers check before use, same as the teacher's
// CompositeRepository.
type Store struct {
	Documents DocumentRepository
	Graph     GraphRepository
	Metrics   MetricsRepository
	Cache     CacheRepository
}
