package peeradapter

import (
	"encoding/json"
	"fmt"

	"oip.network/indexd/record"
)

// flattenRecord converts a record.Record into the wire shape the peer graph
// expects: array-valued fields are JSON-encoded as strings (spec §4.C.2).
// Nested arrays of objects are forbidden at this boundary — callers must
// flatten to parallel scalar arrays before reaching this adapter.
func flattenRecord(rec *record.Record) (map[string]any, error) {
	data := make(map[string]any, len(rec.Data))
	for tmpl, fields := range rec.Data {
		flatFields := make(map[string]any, len(fields))
		for name, v := range fields {
			flat, err := flattenValue(v)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", tmpl, name, err)
			}
			flatFields[name] = flat
		}
		data[tmpl] = flatFields
	}

	oipJSON, err := json.Marshal(rec.OIP)
	if err != nil {
		return nil, err
	}
	var oip map[string]any
	if err := json.Unmarshal(oipJSON, &oip); err != nil {
		return nil, err
	}

	wire := map[string]any{"data": data, "oip": oip}
	if rec.AccessControl != nil {
		acJSON, err := json.Marshal(rec.AccessControl)
		if err != nil {
			return nil, err
		}
		var ac map[string]any
		if err := json.Unmarshal(acJSON, &ac); err != nil {
			return nil, err
		}
		wire["accessControl"] = ac
	}
	return wire, nil
}

func flattenValue(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if _, isMap := item.(map[string]any); isMap {
				return nil, fmt.Errorf("nested arrays of objects are forbidden at the peer-graph boundary")
			}
		}
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case []string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return v, nil
	}
}

// unflattenRecord is Get's inverse of flattenRecord: JSON-string array
// fields are decoded back into []any on read.
func unflattenRecord(wire map[string]any) (*record.Record, error) {
	rec := &record.Record{Data: record.TemplateData{}}

	switch raw := wire["data"].(type) {
	case map[string]any:
		for tmpl, rawFields := range raw {
			fieldsMap, ok := rawFields.(map[string]any)
			if !ok {
				continue
			}
			fields := make(record.Fields, len(fieldsMap))
			for name, v := range fieldsMap {
				fields[name] = unflattenValue(v)
			}
			rec.Data[tmpl] = fields
		}
	case string:
		// A sealed (encrypted) payload: spec §4.C.2's "data payload is
		// encrypted ... meta.encrypted=true marks the record". The raw
		// ciphertext is stashed under a reserved template key so Decrypt can
		// open it later once the caller is verified as the owner; it is
		// never treated as ordinary field data.
		rec.Data[sealedTemplateKey] = record.Fields{"ciphertext": raw}
	}

	if rawOIP, ok := wire["oip"]; ok {
		oipJSON, err := json.Marshal(rawOIP)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(oipJSON, &rec.OIP); err != nil {
			return nil, err
		}
	}

	if rawAC, ok := wire["accessControl"]; ok {
		acJSON, err := json.Marshal(rawAC)
		if err != nil {
			return nil, err
		}
		var ac record.AccessControl
		if err := json.Unmarshal(acJSON, &ac); err != nil {
			return nil, err
		}
		rec.AccessControl = &ac
	}

	return rec, nil
}

func unflattenValue(v any) any {
	return UnflattenValue(v)
}

// UnflattenValue decodes a single wire field value per spec §4.C.2's
// JSON-string array codec: a string starting with '[' is parsed back into a
// native []any; anything else passes through unchanged. It is exported so
// other record-construction paths off this wire format — notably
// peersync's direct-from-peer ingestion, which doesn't go through
// unflattenRecord — apply the same decode instead of indexing raw JSON
// strings as scalar field values.
func UnflattenValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if len(s) == 0 || s[0] != '[' {
		return v
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return v
	}
	return arr
}
