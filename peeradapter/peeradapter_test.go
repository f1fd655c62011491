package peeradapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/adapter"
	"oip.network/indexd/record"
)

type fakeGraph struct {
	souls       map[string]map[string]any
	ackErr      error
	ackDelay    time.Duration
	writeErr    error
}

func (g *fakeGraph) ReadSoul(ctx context.Context, soul string) (map[string]any, error) {
	return g.souls[soul], nil
}

func (g *fakeGraph) WriteSoul(ctx context.Context, soul string, wire map[string]any, ack func(error)) error {
	if g.writeErr != nil {
		return g.writeErr
	}
	if g.souls == nil {
		g.souls = map[string]map[string]any{}
	}
	g.souls[soul] = wire
	go func() {
		if g.ackDelay > 0 {
			time.Sleep(g.ackDelay)
		}
		ack(g.ackErr)
	}()
	return nil
}

type fakeCache struct {
	missing map[string]bool
}

func (c *fakeCache) MarkMissing(ctx context.Context, soul string, ttl time.Duration) error {
	if c.missing == nil {
		c.missing = map[string]bool{}
	}
	c.missing[soul] = true
	return nil
}

func (c *fakeCache) IsMissing(ctx context.Context, soul string) (bool, error) {
	return c.missing[soul], nil
}

type fakeKeyDeriver struct{}

func (fakeKeyDeriver) DeriveKey(ownerSecret, readerPublicKey string) ([]byte, error) {
	return []byte("0123456789abcdef0123456789abcdef"), nil
}

type fakeCipher struct{}

func (fakeCipher) Seal(key, plaintext []byte) ([]byte, error) { return plaintext, nil }
func (fakeCipher) Open(key, ciphertext []byte) ([]byte, error) { return ciphertext, nil }

func TestPutThenGetRoundTrips(t *testing.T) {
	g := &fakeGraph{}
	c := &fakeCache{}
	a := New(g, c, fakeKeyDeriver{}, fakeCipher{}, "owner-secret")

	rec := &record.Record{
		Data: record.TemplateData{"basic": record.Fields{"name": "Soup", "tags": []any{"a", "b"}}},
		OIP:  record.OIP{RecordType: "recipe", Creator: record.Creator{PublicKey: "pub1"}},
	}
	did, err := a.Put(context.Background(), rec, adapter.PutOptions{})
	require.NoError(t, err)
	assert.Contains(t, did, "did:gun:pub1:")

	got, err := a.Get(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, "Soup", got.Name())
	assert.Equal(t, []any{"a", "b"}, got.Data["basic"]["tags"])
}

func TestGetCachesNegativeLookup(t *testing.T) {
	g := &fakeGraph{souls: map[string]map[string]any{}}
	c := &fakeCache{}
	a := New(g, c, nil, nil, "owner-secret")

	did := "did:gun:pub1:local1"
	_, err := a.Get(context.Background(), did)
	assert.Error(t, err)
	assert.True(t, c.missing["pub1:local1"])

	// second call must not hit the graph at all: give the soul a record now
	// and confirm Get still reports NotFound from the cache
	g.souls["pub1:local1"] = map[string]any{"data": map[string]any{}}
	_, err = a.Get(context.Background(), did)
	assert.Error(t, err)
}

func TestPutFailsOnAckTimeout(t *testing.T) {
	g := &fakeGraph{ackDelay: 100 * time.Millisecond, ackErr: nil}
	// simulate an ack that never arrives within a very short timeout
	g.ackDelay = 200 * time.Millisecond
	c := &fakeCache{}
	a := New(g, c, nil, nil, "owner-secret")

	rec := &record.Record{
		Data: record.TemplateData{"basic": record.Fields{"name": "X"}},
		OIP:  record.OIP{Creator: record.Creator{PublicKey: "pub1"}},
	}
	_, err := a.Put(context.Background(), rec, adapter.PutOptions{AckTimeout: 10 * time.Millisecond})
	assert.Error(t, err)
}

func TestPutEncryptsPrivateRecords(t *testing.T) {
	g := &fakeGraph{}
	c := &fakeCache{}
	a := New(g, c, fakeKeyDeriver{}, fakeCipher{}, "owner-secret")

	rec := &record.Record{
		Data:          record.TemplateData{"basic": record.Fields{"name": "Secret"}},
		OIP:           record.OIP{Creator: record.Creator{PublicKey: "pub1"}},
		AccessControl: &record.AccessControl{AccessLevel: "private", OwnerPublicKey: "pub1"},
	}
	did, err := a.Put(context.Background(), rec, adapter.PutOptions{})
	require.NoError(t, err)

	parsed, ok := parseSoulFromDID(did)
	require.True(t, ok)
	wire := g.souls[parsed]
	meta, ok := wire["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["encrypted"])
}

func TestGetDecryptsPrivateRecordForOwner(t *testing.T) {
	g := &fakeGraph{}
	c := &fakeCache{}
	a := New(g, c, fakeKeyDeriver{}, fakeCipher{}, "owner-secret")

	rec := &record.Record{
		Data:          record.TemplateData{"basic": record.Fields{"name": "Secret", "tags": []any{"a", "b"}}},
		OIP:           record.OIP{RecordType: "recipe", Creator: record.Creator{PublicKey: "pub1"}},
		AccessControl: &record.AccessControl{AccessLevel: "private", OwnerPublicKey: "pub1"},
	}
	did, err := a.Put(context.Background(), rec, adapter.PutOptions{})
	require.NoError(t, err)

	got, err := a.Get(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, "Secret", got.Name())
	assert.Equal(t, []any{"a", "b"}, got.Data["basic"]["tags"])
	_, stillSealed := got.Data["_sealed"]
	assert.False(t, stillSealed)
}

func TestGetLeavesPrivateRecordSealedWithoutOwnerSecret(t *testing.T) {
	g := &fakeGraph{}
	c := &fakeCache{}
	writer := New(g, c, fakeKeyDeriver{}, fakeCipher{}, "owner-secret")

	rec := &record.Record{
		Data:          record.TemplateData{"basic": record.Fields{"name": "Secret"}},
		OIP:           record.OIP{RecordType: "recipe", Creator: record.Creator{PublicKey: "pub1"}},
		AccessControl: &record.AccessControl{AccessLevel: "private", OwnerPublicKey: "pub1"},
	}
	did, err := writer.Put(context.Background(), rec, adapter.PutOptions{})
	require.NoError(t, err)

	reader := New(g, c, fakeKeyDeriver{}, fakeCipher{}, "")
	got, err := reader.Get(context.Background(), did)
	require.NoError(t, err)
	assert.Empty(t, got.Name())
	sealed, ok := got.Data["_sealed"]
	require.True(t, ok)
	assert.NotEmpty(t, sealed["ciphertext"])
}

func TestDecryptIsNoopForPublicRecord(t *testing.T) {
	a := New(&fakeGraph{}, &fakeCache{}, fakeKeyDeriver{}, fakeCipher{}, "owner-secret")
	rec := &record.Record{Data: record.TemplateData{"basic": record.Fields{"name": "Public"}}}
	require.NoError(t, a.Decrypt(rec, "owner-secret"))
	assert.Equal(t, "Public", rec.Name())
}

func TestSinceIsNotSupported(t *testing.T) {
	a := New(&fakeGraph{}, &fakeCache{}, nil, nil, "")
	_, err := a.Since(context.Background(), "")
	assert.Error(t, err)
}

func parseSoulFromDID(did string) (string, bool) {
	const prefix = "did:gun:"
	if len(did) <= len(prefix) {
		return "", false
	}
	return did[len(prefix):], true
}
