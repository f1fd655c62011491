package record

import "time"

// Creator identifies the publisher of a record (spec §3.2 oip.creator).
type Creator struct {
	DidAddress string `json:"didAddress"`
	PublicKey  string `json:"publicKey"`
}

// OIP is the system metadata attached to every record.
type OIP struct {
	Did            string    `json:"did"`
	RecordType     string    `json:"recordType"`
	Storage        string    `json:"storage"`
	IndexedAt      time.Time `json:"indexedAt"`
	Ver            string    `json:"ver"`
	Creator        Creator   `json:"creator"`
	InArweaveBlock *int64    `json:"inArweaveBlock,omitempty"`
	Signature      string    `json:"signature,omitempty"`
}

// AccessControl is present only on peer-graph records (spec §3.2).
type AccessControl struct {
	AccessLevel          string `json:"access_level"` // "public" | "private"
	OwnerPublicKey       string `json:"owner_public_key"`
	CreatedTimestamp     int64  `json:"created_timestamp"`
	LastModifiedTimestamp int64 `json:"last_modified_timestamp"`
	Version              int   `json:"version"`
}

func (ac *AccessControl) IsPrivate() bool {
	return ac != nil && ac.AccessLevel == "private"
}

// FieldValue is the sum type spec.md §9 calls for: a field is a scalar, an
// array of scalars, or a DID reference string (a "dref"). It is represented
// as `any` at the data layer (matching the teacher's own loosely-typed
// semantic payload handling) with helpers in template/ performing the
// schema-directed classification, rather than a hand-rolled tagged union
// that would just re-implement Go's own interface{} dispatch.
type Fields map[string]any

// TemplateData maps a template name to its field values for one record.
type TemplateData map[string]Fields

// Record is the atomic unit of publication and query (spec §3.2).
type Record struct {
	Data          TemplateData   `json:"data"`
	OIP           OIP            `json:"oip"`
	AccessControl *AccessControl `json:"accessControl,omitempty"`
}

// RecordType returns the primary template name, i.e. oip.recordType.
func (r *Record) RecordType() string { return r.OIP.RecordType }

// Basic returns the conventional "basic" template fields (name, description,
// date, tags), which every record is expected to carry per spec §3.2.
func (r *Record) Basic() Fields {
	return r.Data["basic"]
}

// Name returns data.basic.name, used throughout the Query Engine for
// full-text/dedup/names-only collapse.
func (r *Record) Name() string {
	if b := r.Basic(); b != nil {
		if name, ok := b["name"].(string); ok {
			return name
		}
	}
	return ""
}

// Tags returns data.basic.tags as a string slice, tolerating either a native
// []string/[]any or nil.
func (r *Record) Tags() []string {
	b := r.Basic()
	if b == nil {
		return nil
	}
	raw, ok := b["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy of the record so callers (notably the Reference
// Resolver, spec §4.B) never mutate a shared original.
func (r *Record) Clone() *Record {
	clone := &Record{OIP: r.OIP}
	if r.AccessControl != nil {
		ac := *r.AccessControl
		clone.AccessControl = &ac
	}
	if r.Data != nil {
		clone.Data = make(TemplateData, len(r.Data))
		for tmpl, fields := range r.Data {
			clone.Data[tmpl] = cloneFields(fields)
		}
	}
	return clone
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, item := range vv {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
