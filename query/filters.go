package query

import (
	"strings"

	"oip.network/indexd/record"
	"oip.network/indexd/store"
)

// buildStoreQuery translates the store-expressible half of Params into a
// store.Query (spec §4.G's pipeline step 1), following
// db/repository/couchdb.go's selector-translation idiom: every clause the
// store can evaluate directly is pushed down; everything else (fuzzy
// matches, scoring, ownership) is left to the in-memory stages below.
func buildStoreQuery(p Params) store.Query {
	var must []store.Clause

	if p.Source != "" && p.Source != "all" {
		must = append(must, store.Clause{Path: "storage", Op: store.OpEq, Value: p.Source})
	}
	if p.RecordType != "" {
		must = append(must, store.Clause{Path: "recordType", Op: store.OpEq, Value: p.RecordType})
	}
	if p.DID != "" {
		must = append(must, store.Clause{Path: "did", Op: store.OpEq, Value: p.DID})
	}
	if p.CreatorDidAddress != "" {
		must = append(must, store.Clause{Path: "creator.didAddress", Op: store.OpEq, Value: p.CreatorDidAddress})
	}
	if p.InArweaveBlock != nil {
		must = append(must, store.Clause{Path: "inArweaveBlock", Op: store.OpEq, Value: *p.InArweaveBlock})
	}
	if p.DateStart != "" {
		must = append(must, store.Clause{Path: "data.basic.date", Op: store.OpRangeGte, Value: p.DateStart})
	}
	if p.DateEnd != "" {
		must = append(must, store.Clause{Path: "data.basic.date", Op: store.OpRangeLte, Value: p.DateEnd})
	}
	for path, val := range p.ExactMatch {
		must = append(must, store.Clause{Path: path, Op: store.OpEq, Value: val})
	}

	return store.Query{
		Must:     must,
		SortBy:   p.SortBy,
		SortDesc: p.SortDesc,
		Limit:    p.Limit * p.Page * 4, // over-fetch; final pagination happens after in-memory scoring
		Offset:   0,
	}
}

// applyOwnershipFilter enforces spec §4.G's always-applied ownership rule:
// private records are visible only to the matching owner. This never
// errors — denied records are simply omitted, and an unauthenticated or
// invalid caller is treated the same as no caller at all.
func applyOwnershipFilter(recs []*record.Record, auth *Auth) []*record.Record {
	var out []*record.Record
	for _, rec := range recs {
		if rec.AccessControl == nil || !rec.AccessControl.IsPrivate() {
			out = append(out, rec)
			continue
		}
		if auth != nil && auth.PublicKey != "" && auth.PublicKey == rec.AccessControl.OwnerPublicKey {
			out = append(out, rec)
		}
	}
	return out
}

// applyInMemoryFilters handles the structural/identity filters the store
// query didn't already cover exactly (Template substring, HasAudio
// structural scan). Params.CreatorHandle is not applied here or anywhere
// else in the query pipeline.
func applyInMemoryFilters(recs []*record.Record, p Params) []*record.Record {
	var out []*record.Record
	for _, rec := range recs {
		if p.Template != "" && !strings.Contains(strings.ToLower(rec.RecordType()), strings.ToLower(p.Template)) {
			continue
		}
		if p.HasAudio && !hasAudioPayload(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func hasAudioPayload(rec *record.Record) bool {
	for _, fields := range rec.Data {
		for name, v := range fields {
			if strings.Contains(strings.ToLower(name), "audio") && v != nil {
				return true
			}
		}
	}
	return false
}

// domainScope describes one of spec §4.G family 5's content-match
// parameters.
type domainScope struct {
	name        string
	requires    string // required recordType
	defaultMode MatchMode
	field       string // field within the required template holding candidate names
	fuzzy       bool
}

var domainScopes = []domainScope{
	{name: "exerciseNames", requires: "workout", defaultMode: MatchOr, field: "exercises"},
	{name: "ingredientNames", requires: "recipe", defaultMode: MatchOr, field: "ingredients"},
	{name: "equipmentRequired", requires: "exercise", defaultMode: MatchAnd, field: "equipment", fuzzy: true},
	{name: "exerciseType", requires: "exercise", defaultMode: MatchOr, field: "exerciseType"},
	{name: "cuisine", requires: "recipe", defaultMode: MatchOr, field: "cuisine"},
}

// scoreAndFilterDomainMatches implements spec §4.G family 5: each
// requested scope attaches a <scope>Score in [0,1] and <scope>MatchedCount,
// with a small ordering bonus for exercise/ingredient lists, and filters
// out records of the wrong recordType or with zero matches.
func scoreAndFilterDomainMatches(recs []*record.Record, p Params, scores scoreTable) []*record.Record {
	requests := map[string][]string{
		"exerciseNames":     p.ExerciseNames,
		"ingredientNames":   p.IngredientNames,
		"equipmentRequired": p.EquipmentRequired,
		"exerciseType":      p.ExerciseType,
		"cuisine":           p.Cuisine,
	}

	var out []*record.Record
	for _, rec := range recs {
		keep := true
		for _, scope := range domainScopes {
			requested := requests[scope.name]
			if len(requested) == 0 {
				continue
			}
			if rec.RecordType() != scope.requires {
				keep = false
				break
			}
			candidates := stringListField(rec, scope.field)
			matched, matchedCount, orderedBonus := matchDomainList(requested, candidates, scope.fuzzy)
			if matchedCount == 0 {
				keep = false
				break
			}
			score := float64(matchedCount) / float64(len(requested))
			if (scope.name == "exerciseNames" || scope.name == "ingredientNames") && orderedBonus {
				score += 0.05
				if score > 1 {
					score = 1
				}
			}
			scores.set(rec, scope.name+"Score", score)
			scores.set(rec, scope.name+"MatchedCount", matchedCount)
			_ = matched
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out
}

func stringListField(rec *record.Record, field string) []string {
	for _, fields := range rec.Data {
		if v, ok := fields[field]; ok {
			switch vv := v.(type) {
			case []string:
				return vv
			case []any:
				out := make([]string, 0, len(vv))
				for _, item := range vv {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
				return out
			}
		}
	}
	return nil
}

// matchDomainList compares requested against candidates, optionally with
// fuzzy substring containment, and reports whether matches appeared in the
// same relative order as requested.
func matchDomainList(requested, candidates []string, fuzzy bool) (matched []string, count int, orderedBonus bool) {
	lastIdx := -1
	ordered := true
	for _, want := range requested {
		idx := findMatch(want, candidates, fuzzy)
		if idx < 0 {
			ordered = false
			continue
		}
		matched = append(matched, candidates[idx])
		count++
		if idx < lastIdx {
			ordered = false
		}
		lastIdx = idx
	}
	return matched, count, ordered && count == len(requested)
}

func findMatch(want string, candidates []string, fuzzy bool) int {
	wantLower := strings.ToLower(want)
	for i, c := range candidates {
		cLower := strings.ToLower(c)
		if fuzzy {
			if strings.Contains(cLower, wantLower) || strings.Contains(wantLower, cLower) {
				return i
			}
		} else if cLower == wantLower {
			return i
		}
	}
	return -1
}

// scoreFullText implements spec §4.G family 3: tokenized search against
// name+description+tags, AND/OR mode, attaching matchCount.
func scoreFullText(recs []*record.Record, p Params, scores scoreTable) []*record.Record {
	if p.Search == "" {
		return recs
	}
	tokens := strings.Fields(strings.ToLower(p.Search))
	mode := p.SearchMatchMode
	if mode == "" {
		mode = MatchAnd
	}

	var out []*record.Record
	for _, rec := range recs {
		haystack := strings.ToLower(rec.Name() + " " + stringField(rec, "description") + " " + strings.Join(rec.Tags(), " "))
		count := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				count++
			}
		}
		matches := (mode == MatchOr && count > 0) || (mode == MatchAnd && count == len(tokens))
		if !matches {
			continue
		}
		scores.set(rec, "matchCount", count)
		out = append(out, rec)
	}
	return out
}

func stringField(rec *record.Record, field string) string {
	b := rec.Basic()
	if b == nil {
		return ""
	}
	s, _ := b[field].(string)
	return s
}

// scoreTags implements spec §4.G family 4: tag overlap score, AND/OR mode.
func scoreTags(recs []*record.Record, p Params, scores scoreTable) []*record.Record {
	if len(p.Tags) == 0 {
		return recs
	}
	mode := p.TagsMatchMode
	if mode == "" {
		mode = MatchOr
	}

	wanted := make(map[string]bool, len(p.Tags))
	for _, t := range p.Tags {
		wanted[strings.ToLower(t)] = true
	}

	var out []*record.Record
	for _, rec := range recs {
		overlap := 0
		for _, t := range rec.Tags() {
			if wanted[strings.ToLower(t)] {
				overlap++
			}
		}
		matches := (mode == MatchOr && overlap > 0) || (mode == MatchAnd && overlap == len(p.Tags))
		if !matches {
			continue
		}
		scores.set(rec, "tagScore", float64(overlap)/float64(len(p.Tags)))
		out = append(out, rec)
	}
	return out
}

// dedupeByName implements spec §4.G family 7's noDuplicates: deduplicate
// by data.basic.name, retaining the best per the current sort order. This
// runs AFTER sort and BEFORE pagination, per the Open Question decision
// recorded in DESIGN.md, so the first occurrence of each name (already
// sort-ordered) is the one kept.
func dedupeByName(recs []*record.Record) []*record.Record {
	seen := make(map[string]bool, len(recs))
	var out []*record.Record
	for _, rec := range recs {
		name := rec.Name()
		if name != "" && seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, rec)
	}
	return out
}

// summarizeAndFilterByTags implements spec §4.G family 10: a paginated
// tag->count histogram, filtering the record results to the paginated tag
// slice when present.
func summarizeAndFilterByTags(recs []*record.Record, p Params) ([]TagCount, []*record.Record) {
	counts := map[string]int{}
	for _, rec := range recs {
		for _, t := range rec.Tags() {
			counts[t]++
		}
	}
	histogram := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		histogram = append(histogram, TagCount{Tag: tag, Count: n})
	}
	sortTagHistogram(histogram)

	start := (p.Page - 1) * p.Limit
	if start > len(histogram) {
		start = len(histogram)
	}
	end := start + p.Limit
	if end > len(histogram) {
		end = len(histogram)
	}
	page := histogram[start:end]

	allowed := make(map[string]bool, len(page))
	for _, tc := range page {
		allowed[tc.Tag] = true
	}
	var filtered []*record.Record
	for _, rec := range recs {
		for _, t := range rec.Tags() {
			if allowed[t] {
				filtered = append(filtered, rec)
				break
			}
		}
	}
	return page, filtered
}

func sortTagHistogram(h []TagCount) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h[j].Count > h[j-1].Count; j-- {
			h[j], h[j-1] = h[j-1], h[j]
		}
	}
}

// scoreTable carries computed scores (matchCount, tagScore, the domain-scope
// scores) on a side table keyed by record pointer rather than the record's
// data map, so shapeRecord never has to strip them and sortValue can read
// them without touching template-declared fields. It is constructed fresh by
// each Engine.Query call and discarded when that call returns, so concurrent
// queries never share it — the pointer-identity keying only needs to be
// unique within one query's candidate set, not globally.
type scoreTable map[*record.Record]map[string]any

func newScoreTable() scoreTable {
	return make(scoreTable)
}

func (s scoreTable) set(rec *record.Record, field string, value any) {
	m, ok := s[rec]
	if !ok {
		m = map[string]any{}
		s[rec] = m
	}
	m[field] = value
}

func (s scoreTable) get(rec *record.Record, field string) any {
	m, ok := s[rec]
	if !ok {
		return nil
	}
	return m[field]
}
