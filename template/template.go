// Package template implements the DID & Template Registry (spec §4.A):
// template loading/caching and record validation against the loaded schema.
// The registry skeleton (mutex-guarded map, Register/Get/Has* shape) is
// grounded on semantic/actionregistry.go's ActionRegistry, generalized from
// a handler-dispatch table to a schema cache.
package template

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"oip.network/indexd/record"
)

// FieldType is a field's declared type code in a template's fieldsJson.
type FieldType struct {
	Base     string // "string" | "long" | "float" | "bool" | "enum" | "dref"
	Repeated bool   // array multiplicity
}

// Template is a field-level schema for a record (spec §3.3). Templates are
// themselves records stored on the blockchain and cached here by txid.
type Template struct {
	Name   string
	Txid   string
	Fields map[string]FieldType    // field name -> type
	Index  map[string]int          // field name -> stable index (the index_<field> entries)
	Values map[string][]string     // field name -> enum domain (the <field>Values entries)
}

// FieldsJSON is the on-chain wire shape: a flat map mixing declared fields,
// their "index_<field>" companions, and optional "<field>Values" enum
// domains, exactly as spec §3.3 describes the encoding.
type FieldsJSON map[string]any

// ParseFieldsJSON decodes the wire shape into a Template's typed maps.
func ParseFieldsJSON(name, txid string, raw FieldsJSON) *Template {
	t := &Template{
		Name:   name,
		Txid:   txid,
		Fields: map[string]FieldType{},
		Index:  map[string]int{},
		Values: map[string][]string{},
	}
	for key, val := range raw {
		switch {
		case strings.HasPrefix(key, "index_"):
			field := strings.TrimPrefix(key, "index_")
			if n, ok := toInt(val); ok {
				t.Index[field] = n
			}
		case strings.HasSuffix(key, "Values"):
			field := strings.TrimSuffix(key, "Values")
			if vals, ok := toStringSlice(val); ok {
				t.Values[field] = vals
			}
		default:
			if code, ok := val.(string); ok {
				t.Fields[key] = parseTypeCode(code)
			}
		}
	}
	return t
}

func parseTypeCode(code string) FieldType {
	repeated := strings.HasPrefix(code, "repeated ")
	base := strings.TrimPrefix(code, "repeated ")
	return FieldType{Base: base, Repeated: repeated}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// Loader fetches a template from whatever is authoritative when it is not
// already cached: the Index Store first, falling back to the Blockchain
// Adapter (which the registry then re-indexes). Both store/ and
// chainadapter/ implement this narrow interface so template stays free of
// a direct dependency on either concrete package.
type Loader interface {
	// LoadFromIndex returns (template, true) on a cache/index hit.
	LoadFromIndex(nameOrTxid string) (*Template, bool, error)
	// LoadFromChain fetches+parses the template record directly from the
	// blockchain and re-indexes it into the store, returning the parsed
	// template.
	LoadFromChain(nameOrTxid string) (*Template, error)
}

// Registry is the in-memory, bounded-LRU, immutable-once-cached template
// cache spec §4.A requires. Templates never change once published, so no
// invalidation path exists — only eviction under memory pressure.
type Registry struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *Template]
	loader Loader
}

// NewRegistry creates a registry with the given bounded cache size and
// backing Loader.
func NewRegistry(cacheSize int, loader Loader) *Registry {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	c, _ := lru.New[string, *Template](cacheSize)
	return &Registry{cache: c, loader: loader}
}

// ValidateDid delegates to record.ValidateDid (kept here too so callers only
// need to import template for all of component A's public surface).
func ValidateDid(s string) bool { return record.ValidateDid(s) }

// ResolveTemplate implements spec §4.A's resolveTemplate(nameOrTxid). On
// first reference it fetches from the Index Store; on a miss there, it
// fetches from the Blockchain Adapter and re-indexes, per "Template
// loading" in §4.A. Fetched templates are permanently cached (LRU-bounded)
// since template content is immutable once published.
func (r *Registry) ResolveTemplate(nameOrTxid string) (*Template, bool) {
	r.mu.RLock()
	if t, ok := r.cache.Get(nameOrTxid); ok {
		r.mu.RUnlock()
		return t, true
	}
	r.mu.RUnlock()

	if r.loader == nil {
		return nil, false
	}

	if t, ok, err := r.loader.LoadFromIndex(nameOrTxid); err == nil && ok {
		r.put(nameOrTxid, t)
		return t, true
	}

	t, err := r.loader.LoadFromChain(nameOrTxid)
	if err != nil || t == nil {
		return nil, false
	}
	r.put(nameOrTxid, t)
	return t, true
}

func (r *Registry) put(key string, t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(key, t)
	if t.Name != "" && t.Name != key {
		r.cache.Add(t.Name, t)
	}
	if t.Txid != "" && t.Txid != key {
		r.cache.Add(t.Txid, t)
	}
}

// Preload seeds the cache directly, bypassing the Loader.
func (r *Registry) Preload(t *Template) {
	r.put(t.Name, t)
}
