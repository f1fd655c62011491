// Package query implements the Query Engine (spec §4.G): build store
// query -> fetch candidates -> in-memory filters (ownership, fuzzy content
// matches, cross-scope scoring) -> resolve -> sort -> dedup -> paginate ->
// shape.
package query

import (
	"context"
	"sort"
	"strings"

	"oip.network/indexd/errs"
	"oip.network/indexd/record"
	"oip.network/indexd/resolve"
	"oip.network/indexd/store"
)

// MatchMode is the AND/OR switch spec §4.G gives several parameter
// families.
type MatchMode string

const (
	MatchAnd MatchMode = "AND"
	MatchOr  MatchMode = "OR"
)

// Auth is the already-verified identity the HTTP layer (outside this
// module's scope) hands the query pipeline, or nil for an unauthenticated
// or invalid/expired token — which this package treats identically, per
// spec §4.G's ownership filter note.
type Auth struct {
	PublicKey  string
	DidAddress string
	UserID     string
}

// Params is the closed parameter surface of spec §4.G.
type Params struct {
	// Scope
	Source     string // "all" | "arweave" | "gun"
	RecordType string
	Template   string // substring match against template name
	DID        string
	DidTxRef   string // find records whose data references this DID, recursively

	// Identity
	CreatorDidAddress string
	CreatorHandle     string
	URL               string

	// Full-text
	Search          string
	SearchMatchMode MatchMode

	// Tags
	Tags         []string
	TagsMatchMode MatchMode

	// Domain-scoped content matches
	ExerciseNames      []string
	IngredientNames    []string
	EquipmentRequired  []string
	ExerciseType       []string
	Cuisine            []string

	// Structural
	ExactMatch            map[string]any
	DateStart, DateEnd     string
	InArweaveBlock         *int64
	HasAudio               bool

	// Shape
	ResolveDepth          int
	ResolveNamesOnly      bool
	HideNullValues        bool
	HideDateReadable      bool
	IncludeSigs           bool
	IncludePubKeys        bool
	IncludeDeleteMessages bool
	NoDuplicates          bool

	// Sort
	SortBy   string
	SortDesc bool

	// Pagination
	Limit int
	Page  int

	// Tag summary
	SummarizeTags bool
}

// Result is the §4.G public operation's return value (the core of the
// §6.1 response envelope; the HTTP-specific fields around it are the
// caller's concern, per the HTTP Non-goal).
type Result struct {
	Records       []*record.Record
	Total         int
	Page          int
	PageSize      int
	TotalPages    int
	TagHistogram  []TagCount // populated only when SummarizeTags is set
}

// TagCount is one entry of the paginated tag histogram (spec §4.G family
// 10).
type TagCount struct {
	Tag   string
	Count int
}

const (
	defaultLimit        = 20
	defaultResolveDepth = 2
	maxResolveDepth     = 5
)

// Engine runs Query against a Store and a reference Corpus built from the
// fetched candidate set.
type Engine struct {
	Store *store.Store
}

func New(st *store.Store) *Engine {
	return &Engine{Store: st}
}

// Query implements spec §4.G's pipeline.
func (e *Engine) Query(ctx context.Context, p Params, auth *Auth) (Result, error) {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	depth := p.ResolveDepth
	if depth <= 0 {
		depth = defaultResolveDepth
	}
	if depth > maxResolveDepth {
		depth = maxResolveDepth
	}

	if p.ExactMatch != nil {
		for k := range p.ExactMatch {
			if k == "" {
				return Result{}, errs.Validation("exactMatch contains an empty path", nil)
			}
		}
	}

	storeQuery := buildStoreQuery(p)
	candidates, err := e.Store.Documents.QueryRecords(ctx, storeQuery)
	if err != nil {
		return Result{}, errs.Store("query-records", err)
	}

	if p.DidTxRef != "" && e.Store.Graph != nil {
		referencing, err := e.Store.Graph.FindReferencing(ctx, p.DidTxRef)
		if err != nil {
			return Result{}, errs.Store("find-referencing", err)
		}
		candidates.Records = filterByDIDs(candidates.Records, referencing)
	}

	scores := newScoreTable()
	filtered := applyOwnershipFilter(candidates.Records, auth)
	filtered = applyInMemoryFilters(filtered, p)
	filtered = scoreAndFilterDomainMatches(filtered, p, scores)
	filtered = scoreFullText(filtered, p, scores)
	filtered = scoreTags(filtered, p, scores)

	if !p.IncludeDeleteMessages {
		filtered = excludeDeleteMessages(filtered)
	}

	corpus := buildCorpus(filtered)
	resolved := make([]*record.Record, len(filtered))
	for i, rec := range filtered {
		resolved[i] = resolve.Resolve(rec, resolve.Options{Depth: depth, NamesOnly: p.ResolveNamesOnly}, corpus)
		if resolved[i] != rec {
			if m, ok := scores[rec]; ok {
				scores[resolved[i]] = m
			}
		}
	}

	sortRecords(resolved, p, scores)

	if p.NoDuplicates {
		resolved = dedupeByName(resolved)
	}

	total := len(resolved)
	var tagHistogram []TagCount
	if p.SummarizeTags {
		tagHistogram, resolved = summarizeAndFilterByTags(resolved, p)
		total = len(resolved)
	}

	pageSize := p.Limit
	start := (p.Page - 1) * pageSize
	if start > len(resolved) {
		start = len(resolved)
	}
	end := start + pageSize
	if end > len(resolved) {
		end = len(resolved)
	}
	page := resolved[start:end]

	shaped := make([]*record.Record, len(page))
	for i, rec := range page {
		shaped[i] = shapeRecord(rec, p)
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	return Result{
		Records:      shaped,
		Total:        total,
		Page:         p.Page,
		PageSize:     pageSize,
		TotalPages:   totalPages,
		TagHistogram: tagHistogram,
	}, nil
}

func filterByDIDs(recs []*record.Record, allow []string) []*record.Record {
	allowed := make(map[string]bool, len(allow))
	for _, d := range allow {
		allowed[d] = true
	}
	var out []*record.Record
	for _, rec := range recs {
		if allowed[rec.OIP.Did] {
			out = append(out, rec)
		}
	}
	return out
}

func excludeDeleteMessages(recs []*record.Record) []*record.Record {
	var out []*record.Record
	for _, rec := range recs {
		if rec.RecordType() != "deleteMessage" {
			out = append(out, rec)
		}
	}
	return out
}

func buildCorpus(recs []*record.Record) resolve.MapCorpus {
	corpus := make(resolve.MapCorpus, len(recs))
	for _, rec := range recs {
		corpus[rec.OIP.Did] = rec
	}
	return corpus
}

func sortRecords(recs []*record.Record, p Params, scores scoreTable) {
	key, desc := sortKey(p)
	sort.SliceStable(recs, func(i, j int) bool {
		vi := sortValue(recs[i], key, scores)
		vj := sortValue(recs[j], key, scores)
		cmp := compare(vi, vj)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// sortKey resolves the Open Question decision recorded in DESIGN.md:
// explicit sortBy wins over an implicit score-driven sort.
func sortKey(p Params) (string, bool) {
	if p.SortBy != "" {
		return p.SortBy, p.SortDesc
	}
	if p.Search != "" {
		return "matchCount", true
	}
	if len(p.Tags) > 0 {
		return "tagScore", true
	}
	return "inArweaveBlock", true
}

func sortValue(rec *record.Record, key string, scores scoreTable) any {
	switch key {
	case "matchCount":
		return scores.get(rec, "matchCount")
	case "tagScore":
		return scores.get(rec, "tagScore")
	case "inArweaveBlock":
		if rec.OIP.InArweaveBlock == nil {
			return int64(0)
		}
		return *rec.OIP.InArweaveBlock
	case "name", "data.basic.name":
		return rec.Name()
	case "indexedAt":
		return rec.OIP.IndexedAt.Unix()
	default:
		if strings.HasPrefix(key, "data.") {
			parts := strings.SplitN(strings.TrimPrefix(key, "data."), ".", 2)
			if len(parts) == 2 {
				if fields, ok := rec.Data[parts[0]]; ok {
					return fields[parts[1]]
				}
			}
		}
		return scores.get(rec, key)
	}
}

func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := toStr(a), toStr(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
