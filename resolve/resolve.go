// Package resolve implements the Reference Resolver (spec §4.B): bounded-
// depth recursive expansion of DID references embedded in a record's data.
//
// The traversal shape (recurse, track remaining depth, never mutate the
// input) is grounded on graph/dag.go's DFS idiom (checkCycleRecursive's
// visited-map recursion), but deliberately drops its goal: that function
// detects cycles, this one does not — per spec §4.B/§9 cycles are tolerated
// because the hard depth bound guarantees termination on its own.
package resolve

import "oip.network/indexd/record"

// Corpus looks up a record by DID. It is satisfied either by a pre-loaded
// slice wrapped in a map (batch query path) or by a live callback into the
// Index Store (on-demand path) — spec §4.B calls out both shapes explicitly.
type Corpus interface {
	Lookup(did string) (*record.Record, bool)
}

// MapCorpus is the pre-loaded-slice Corpus used by the Query Engine once it
// has already fetched its candidate page.
type MapCorpus map[string]*record.Record

func (m MapCorpus) Lookup(did string) (*record.Record, bool) {
	r, ok := m[did]
	return r, ok
}

// LookupFunc adapts a plain function (typically an Index Store call) to a
// Corpus, for the on-demand resolution path.
type LookupFunc func(did string) (*record.Record, bool)

func (f LookupFunc) Lookup(did string) (*record.Record, bool) { return f(did) }

// Options controls the shape of resolution, mirroring the Query Engine's
// resolveDepth/resolveNamesOnly parameters (spec §4.G family 7).
type Options struct {
	Depth      int
	NamesOnly  bool
}

// Resolve returns a copy of rec in which every string field whose value is a
// DID present in corpus is replaced by that DID's resolved record, expanded
// recursively with depth-1. depth=0 is the identity: the record is returned
// unmodified (spec boundary behavior, §8). The original is never mutated; a
// structurally independent copy is returned (record.Record.Clone covers the
// copy half, this function covers the substitution half).
func Resolve(rec *record.Record, opts Options, corpus Corpus) *record.Record {
	if rec == nil {
		return nil
	}
	if opts.Depth <= 0 {
		return rec
	}

	out := rec.Clone()
	for templateName, fields := range out.Data {
		out.Data[templateName] = resolveFields(fields, opts, corpus)
	}
	return out
}

func resolveFields(fields record.Fields, opts Options, corpus Corpus) record.Fields {
	for field, value := range fields {
		fields[field] = resolveValue(value, opts, corpus)
	}
	return fields
}

func resolveValue(value any, opts Options, corpus Corpus) any {
	switch v := value.(type) {
	case string:
		return resolveIfDID(v, opts, corpus)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, opts, corpus)
		}
		return out
	case []string:
		// A DID-reference array of scalars; each element is resolved
		// independently (spec §4.B: "Arrays resolve element-wise").
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveIfDID(item, opts, corpus)
		}
		return out
	default:
		return value
	}
}

func resolveIfDID(s string, opts Options, corpus Corpus) any {
	if !record.ValidateDid(s) {
		return s
	}
	target, ok := corpus.Lookup(s)
	if !ok {
		// Partial resolve failure degrades gracefully: the unresolved field
		// stays as a DID string (spec §4.G "Failure semantics").
		return s
	}

	if opts.NamesOnly {
		return target.Name()
	}

	child := Resolve(target, Options{Depth: opts.Depth - 1, NamesOnly: opts.NamesOnly}, corpus)
	return child
}
