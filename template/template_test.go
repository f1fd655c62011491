package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/record"
)

func basicTemplate() *Template {
	return ParseFieldsJSON("basic", "tx-basic", FieldsJSON{
		"name":            "string",
		"index_name":      0,
		"description":     "string",
		"index_description": 1,
		"date":            "long",
		"index_date":      2,
		"tagItems":        "repeated string",
		"index_tagItems":  3,
	})
}

func recipeTemplate() *Template {
	return ParseFieldsJSON("recipe", "tx-recipe", FieldsJSON{
		"cuisine":         "string",
		"index_cuisine":   0,
		"ingredient":      "repeated dref",
		"index_ingredient": 1,
	})
}

type fakeLoader struct {
	templates map[string]*Template
}

func (f *fakeLoader) LoadFromIndex(nameOrTxid string) (*Template, bool, error) {
	t, ok := f.templates[nameOrTxid]
	return t, ok, nil
}

func (f *fakeLoader) LoadFromChain(nameOrTxid string) (*Template, error) {
	return nil, nil
}

func newTestRegistry() *Registry {
	loader := &fakeLoader{templates: map[string]*Template{
		"basic":  basicTemplate(),
		"recipe": recipeTemplate(),
	}}
	return NewRegistry(16, loader)
}

func TestParseFieldsJSONSeparatesIndexAndValues(t *testing.T) {
	tmpl := ParseFieldsJSON("exercise", "tx1", FieldsJSON{
		"exerciseType":       "enum",
		"index_exerciseType": 0,
		"exerciseTypeValues": []string{"cardio", "strength"},
	})
	assert.Equal(t, FieldType{Base: "enum"}, tmpl.Fields["exerciseType"])
	assert.Equal(t, 0, tmpl.Index["exerciseType"])
	assert.Equal(t, []string{"cardio", "strength"}, tmpl.Values["exerciseType"])
}

func TestResolveTemplateCachesAfterFirstLoad(t *testing.T) {
	reg := newTestRegistry()
	t1, ok := reg.ResolveTemplate("basic")
	require.True(t, ok)
	assert.Equal(t, "basic", t1.Name)

	// Mutate the loader's backing map; a cached registry must not re-fetch.
	reg.loader.(*fakeLoader).templates["basic"] = nil
	t2, ok := reg.ResolveTemplate("basic")
	require.True(t, ok)
	assert.Same(t, t1, t2)
}

func TestValidateRecordCollectsAllViolations(t *testing.T) {
	reg := newTestRegistry()
	rec := &record.Record{
		Data: record.TemplateData{
			"basic": record.Fields{
				"name": 42, // wrong type
			},
			"recipe": record.Fields{
				"cuisine":    "Mediterranean",
				"ingredient": []any{"not-a-did"},
			},
			"unknownTemplate": record.Fields{},
		},
	}

	violations := reg.ValidateRecord(rec)
	reasons := map[string]bool{}
	for _, v := range violations {
		reasons[v.String()] = true
	}

	assert.Contains(t, reasons, "basic.name: expected string")
	assert.Contains(t, reasons, "recipe.ingredient: dref value is not a well-formed DID")
	assert.Contains(t, reasons, "unknownTemplate: unknown template")
	assert.Len(t, violations, 3)
}

func TestValidateRecordValidInputProducesNoViolations(t *testing.T) {
	reg := newTestRegistry()
	rec := &record.Record{
		Data: record.TemplateData{
			"basic": record.Fields{
				"name":        "Greek Salad",
				"description": "A salad",
				"date":        1700000000,
				"tagItems":    []any{"greek", "salad"},
			},
			"recipe": record.Fields{
				"cuisine":    "Mediterranean",
				"ingredient": []any{"did:arweave:" + repeatChar('a', 43)},
			},
		},
	}
	assert.Empty(t, reg.ValidateRecord(rec))
}

func repeatChar(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
