package template

import (
	"fmt"

	"oip.network/indexd/record"
)

// Violation is one failed check from validateRecord (spec §4.A). Violations
// are collected, not thrown on first — a record with five problems reports
// all five in one pass.
type Violation struct {
	Template string
	Field    string
	Reason   string
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Template, v.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", v.Template, v.Field, v.Reason)
}

// ValidateRecord checks every template block in rec.Data against templates
// known to the registry, per the violation kinds enumerated in spec §4.A:
// unknown template; missing index_* for a declared field; value type
// mismatch; enum value not in <field>Values; multiplicity exceeded; dref
// value not a well-formed DID.
func (r *Registry) ValidateRecord(rec *record.Record) []Violation {
	var violations []Violation

	for templateName, fields := range rec.Data {
		tmpl, ok := r.ResolveTemplate(templateName)
		if !ok {
			violations = append(violations, Violation{Template: templateName, Reason: "unknown template"})
			continue
		}
		violations = append(violations, validateFields(tmpl, fields)...)
	}
	return violations
}

func validateFields(tmpl *Template, fields record.Fields) []Violation {
	var violations []Violation

	for name, ft := range tmpl.Fields {
		if _, hasIndex := tmpl.Index[name]; !hasIndex {
			violations = append(violations, Violation{
				Template: tmpl.Name, Field: name, Reason: "missing index_" + name,
			})
		}
	}

	for field, value := range fields {
		ft, declared := tmpl.Fields[field]
		if !declared {
			// Fields outside the declared set are tolerated (e.g. a record
			// carrying both "basic" and a domain template); only declared
			// fields are type-checked here.
			continue
		}
		violations = append(violations, validateFieldValue(tmpl.Name, field, ft, value, tmpl.Values[field])...)
	}
	return violations
}

func validateFieldValue(templateName, field string, ft FieldType, value any, enumValues []string) []Violation {
	var violations []Violation

	if ft.Repeated {
		items, ok := toSlice(value)
		if !ok {
			violations = append(violations, Violation{
				Template: templateName, Field: field, Reason: "expected array, multiplicity mismatch",
			})
			return violations
		}
		for _, item := range items {
			violations = append(violations, checkScalar(templateName, field, ft.Base, item, enumValues)...)
		}
		return violations
	}

	return checkScalar(templateName, field, ft.Base, value, enumValues)
}

func checkScalar(templateName, field, base string, value any, enumValues []string) []Violation {
	switch base {
	case "dref":
		s, ok := value.(string)
		if !ok || !record.ValidateDid(s) {
			return []Violation{{Template: templateName, Field: field, Reason: "dref value is not a well-formed DID"}}
		}
	case "enum":
		s, ok := value.(string)
		if !ok || !contains(enumValues, s) {
			return []Violation{{Template: templateName, Field: field, Reason: "enum value not in declared domain"}}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return []Violation{{Template: templateName, Field: field, Reason: "expected string"}}
		}
	case "long":
		if !isNumeric(value) {
			return []Violation{{Template: templateName, Field: field, Reason: "expected integer"}}
		}
	case "float":
		if !isNumeric(value) {
			return []Violation{{Template: templateName, Field: field, Reason: "expected float"}}
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return []Violation{{Template: templateName, Field: field, Reason: "expected bool"}}
		}
	}
	return nil
}

func toSlice(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
