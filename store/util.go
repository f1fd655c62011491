package store

import "encoding/json"

// mapToStruct bridges kivik's untyped document maps back into typed Go
// values via a JSON round-trip. Cheap enough at index-store scale and
// avoids hand-rolling a reflective field-by-field copy.
func mapToStruct(src any, dst any) {
	if src == nil {
		return
	}
	b, err := json.Marshal(src)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}
