package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDID(t *testing.T) {
	valid43 := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMN12x" // 43 chars; not used by the cases below
	_ = valid43

	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid arweave", "did:arweave:" + stringsRepeat("a", 43), true},
		{"wrong length arweave", "did:arweave:" + stringsRepeat("a", 10), false},
		{"valid gun local id", "did:gun:pubkey123:local1", true},
		{"valid gun content hash", "did:gun:pubkey123:h:abcdef", true},
		{"unknown method", "did:ipfs:abc", false},
		{"malformed", "not-a-did", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseDID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, ValidateDid(tt.in))
		})
	}
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := &Record{
		Data: TemplateData{
			"basic": Fields{
				"name": "Greek Salad",
				"tags": []any{"greek", "salad"},
			},
		},
		OIP: OIP{Did: "did:arweave:x", RecordType: "recipe"},
	}

	clone := r.Clone()
	clone.Data["basic"]["name"] = "Mutated"
	tagsSlice := clone.Data["basic"]["tags"].([]any)
	tagsSlice[0] = "mutated-tag"

	assert.Equal(t, "Greek Salad", r.Name())
	assert.Equal(t, []string{"greek", "salad"}, r.Tags())
}

func TestRecordTagsAcceptsNativeStringSlice(t *testing.T) {
	r := &Record{Data: TemplateData{"basic": Fields{"tags": []string{"a", "b"}}}}
	assert.Equal(t, []string{"a", "b"}, r.Tags())
}
