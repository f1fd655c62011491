package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/record"
)

func did(n byte) string {
	b := make([]byte, 43)
	for i := range b {
		b[i] = n
	}
	return "did:arweave:" + string(b)
}

func TestResolveDepthZeroIsIdentity(t *testing.T) {
	rec := &record.Record{Data: record.TemplateData{"recipe": record.Fields{"ingredient": did('a')}}}
	out := Resolve(rec, Options{Depth: 0}, MapCorpus{})
	assert.Same(t, rec, out)
}

func TestResolveSubstitutesKnownDID(t *testing.T) {
	ingredient := &record.Record{Data: record.TemplateData{"basic": record.Fields{"name": "Feta"}}}
	corpus := MapCorpus{did('a'): ingredient}

	rec := &record.Record{Data: record.TemplateData{"recipe": record.Fields{"ingredient": did('a')}}}
	out := Resolve(rec, Options{Depth: 2}, corpus)

	resolved, ok := out.Data["recipe"]["ingredient"].(*record.Record)
	require.True(t, ok)
	assert.Equal(t, "Feta", resolved.Name())

	// original untouched
	assert.Equal(t, did('a'), rec.Data["recipe"]["ingredient"])
}

func TestResolveNamesOnlyCollapsesToName(t *testing.T) {
	ingredient := &record.Record{Data: record.TemplateData{"basic": record.Fields{"name": "Feta"}}}
	corpus := MapCorpus{did('a'): ingredient}

	rec := &record.Record{Data: record.TemplateData{"recipe": record.Fields{"ingredient": did('a')}}}
	out := Resolve(rec, Options{Depth: 2, NamesOnly: true}, corpus)

	assert.Equal(t, "Feta", out.Data["recipe"]["ingredient"])
}

func TestResolveUnknownDIDDegradesGracefully(t *testing.T) {
	rec := &record.Record{Data: record.TemplateData{"recipe": record.Fields{"ingredient": did('a')}}}
	out := Resolve(rec, Options{Depth: 2}, MapCorpus{})
	assert.Equal(t, did('a'), out.Data["recipe"]["ingredient"])
}

func TestResolveIsIdempotentAtFixedDepth(t *testing.T) {
	ingredient := &record.Record{Data: record.TemplateData{"basic": record.Fields{"name": "Feta"}}}
	corpus := MapCorpus{did('a'): ingredient}
	rec := &record.Record{Data: record.TemplateData{"recipe": record.Fields{"ingredient": did('a')}}}

	once := Resolve(rec, Options{Depth: 2}, corpus)
	twice := Resolve(once, Options{Depth: 2}, corpus)

	r1 := once.Data["recipe"]["ingredient"].(*record.Record)
	r2 := twice.Data["recipe"]["ingredient"]
	// once's child is already a *record.Record (not a DID string), so a
	// second resolve pass leaves it untouched (not a DID, no substitution).
	assert.Equal(t, r1, r2)
}

func TestResolveToleratesCyclesViaDepthBound(t *testing.T) {
	a := &record.Record{OIP: record.OIP{Did: did('a')}, Data: record.TemplateData{"basic": record.Fields{"name": "A", "ref": did('b')}}}
	b := &record.Record{OIP: record.OIP{Did: did('b')}, Data: record.TemplateData{"basic": record.Fields{"name": "B", "ref": did('a')}}}
	corpus := MapCorpus{did('a'): a, did('b'): b}

	out := Resolve(a, Options{Depth: 3}, corpus)
	assert.NotNil(t, out) // terminates instead of infinite-looping
}
