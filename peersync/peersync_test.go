package peersync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/record"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

type fakePeerClient struct {
	entries map[string][]RegistryEntry
	souls   map[string]map[string]any
	listErr error
}

func (c *fakePeerClient) ListRegistry(ctx context.Context, recordType string) ([]RegistryEntry, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.entries[recordType], nil
}

func (c *fakePeerClient) FetchSoul(ctx context.Context, soul string) (map[string]any, error) {
	return c.souls[soul], nil
}

type fakeDocs struct {
	records map[string]*record.Record
}

func newFakeDocs() *fakeDocs { return &fakeDocs{records: map[string]*record.Record{}} }

func (d *fakeDocs) PutRecord(ctx context.Context, rec *record.Record) error {
	d.records[rec.OIP.Did] = rec
	return nil
}
func (d *fakeDocs) GetRecord(ctx context.Context, did string) (*record.Record, bool, error) {
	r, ok := d.records[did]
	return r, ok, nil
}
func (d *fakeDocs) QueryRecords(ctx context.Context, q store.Query) (store.QueryResult, error) {
	return store.QueryResult{}, nil
}
func (d *fakeDocs) PutTemplate(ctx context.Context, t *template.Template) error { return nil }
func (d *fakeDocs) GetTemplate(ctx context.Context, nameOrTxid string) (*template.Template, bool, error) {
	return nil, false, nil
}
func (d *fakeDocs) PutCreator(ctx context.Context, c store.Creator) error { return nil }
func (d *fakeDocs) GetCreator(ctx context.Context, publicKey string) (store.Creator, bool, error) {
	return store.Creator{}, false, nil
}

type fakeCache struct{ data map[string]any }

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]any{}} }

func (c *fakeCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (c *fakeCache) ReleaseLock(ctx context.Context, key string) error { return nil }
func (c *fakeCache) SetCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.data[key] = value
	return nil
}
func (c *fakeCache) GetCache(ctx context.Context, key string, out any) (bool, error) {
	v, ok := c.data[key]
	if !ok {
		return false, nil
	}
	if b, ok := out.(*bool); ok {
		*b = v.(bool)
	}
	return true, nil
}

type fakeMetrics struct {
	peers map[string]store.PeerProgress
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{peers: map[string]store.PeerProgress{}} }

func (m *fakeMetrics) GetSyncProgress(ctx context.Context) (store.SyncProgress, error) {
	return store.SyncProgress{}, nil
}
func (m *fakeMetrics) SetSyncProgress(ctx context.Context, p store.SyncProgress) error { return nil }
func (m *fakeMetrics) RecordBlockSyncRun(ctx context.Context, run store.BlockSyncRun) error {
	return nil
}
func (m *fakeMetrics) GetPeerProgress(ctx context.Context, peerID string) (store.PeerProgress, bool, error) {
	p, ok := m.peers[peerID]
	return p, ok, nil
}
func (m *fakeMetrics) SetPeerProgress(ctx context.Context, p store.PeerProgress) error {
	m.peers[p.PeerID] = p
	return nil
}

func newTestRegistry() *template.Registry {
	loader := fakeLoader{templates: map[string]*template.Template{
		"basic": template.ParseFieldsJSON("basic", "tx-basic", template.FieldsJSON{"name": "string", "index_name": 0}),
	}}
	return template.NewRegistry(16, loader)
}

type fakeLoader struct{ templates map[string]*template.Template }

func (f fakeLoader) LoadFromIndex(nameOrTxid string) (*template.Template, bool, error) {
	t, ok := f.templates[nameOrTxid]
	return t, ok, nil
}
func (f fakeLoader) LoadFromChain(nameOrTxid string) (*template.Template, error) { return nil, nil }

func TestSyncPeerIndexesNewRecords(t *testing.T) {
	client := &fakePeerClient{
		entries: map[string][]RegistryEntry{"recipe": {{Soul: "pub1:local1"}}},
		souls: map[string]map[string]any{
			"pub1:local1": {"recordType": "recipe", "data": map[string]any{"basic": map[string]any{"name": "Stew"}}},
		},
	}
	st := &store.Store{Documents: newFakeDocs(), Cache: newFakeCache(), Metrics: newFakeMetrics()}
	s := New([]Peer{{ID: "peerA", Client: client, RecordTypes: []string{"recipe"}}}, st, newTestRegistry(), time.Minute, nil)

	s.syncPeer(context.Background(), s.Peers[0])

	got, found, _ := st.Documents.GetRecord(context.Background(), "did:gun:pub1:local1")
	require.True(t, found)
	assert.Equal(t, "Stew", got.Name())
}

func TestSyncPeerDecodesJSONStringArrayFields(t *testing.T) {
	client := &fakePeerClient{
		entries: map[string][]RegistryEntry{"recipe": {{Soul: "pub1:local1"}}},
		souls: map[string]map[string]any{
			"pub1:local1": {
				"recordType": "recipe",
				"data": map[string]any{
					"basic": map[string]any{"name": "Stew", "tags": `["soup","dinner"]`},
				},
			},
		},
	}
	st := &store.Store{Documents: newFakeDocs(), Cache: newFakeCache(), Metrics: newFakeMetrics()}
	s := New([]Peer{{ID: "peerA", Client: client, RecordTypes: []string{"recipe"}}}, st, newTestRegistry(), time.Minute, nil)

	s.syncPeer(context.Background(), s.Peers[0])

	got, found, _ := st.Documents.GetRecord(context.Background(), "did:gun:pub1:local1")
	require.True(t, found)
	assert.Equal(t, []any{"soup", "dinner"}, got.Data["basic"]["tags"])
}

func TestSyncPeerSkipsNegativelyCachedSouls(t *testing.T) {
	client := &fakePeerClient{
		entries: map[string][]RegistryEntry{"recipe": {{Soul: "pub1:missing"}}},
		souls:   map[string]map[string]any{},
	}
	cache := newFakeCache()
	cache.data["peersync:404:pub1:missing"] = true
	st := &store.Store{Documents: newFakeDocs(), Cache: cache, Metrics: newFakeMetrics()}
	s := New([]Peer{{ID: "peerA", Client: client, RecordTypes: []string{"recipe"}}}, st, newTestRegistry(), time.Minute, nil)

	s.syncPeer(context.Background(), s.Peers[0])

	_, found, _ := st.Documents.GetRecord(context.Background(), "did:gun:pub1:missing")
	assert.False(t, found)
}

func TestSyncPeerIsolatesOneBadPeerFromOthers(t *testing.T) {
	badClient := &fakePeerClient{listErr: fmt.Errorf("peer unreachable")}
	goodClient := &fakePeerClient{
		entries: map[string][]RegistryEntry{"recipe": {{Soul: "pub2:local1"}}},
		souls: map[string]map[string]any{
			"pub2:local1": {"recordType": "recipe", "data": map[string]any{"basic": map[string]any{"name": "Ok"}}},
		},
	}
	st := &store.Store{Documents: newFakeDocs(), Cache: newFakeCache(), Metrics: newFakeMetrics()}
	s := New([]Peer{
		{ID: "bad", Client: badClient, RecordTypes: []string{"recipe"}},
		{ID: "good", Client: goodClient, RecordTypes: []string{"recipe"}},
	}, st, newTestRegistry(), time.Minute, nil)

	s.runOnePass(context.Background())

	_, found, _ := st.Documents.GetRecord(context.Background(), "did:gun:pub2:local1")
	assert.True(t, found)

	metrics := st.Metrics.(*fakeMetrics)
	assert.Equal(t, 1, metrics.peers["bad"].ConsecutiveFailures)
}

func TestSyncPeerMarksMissingOn404(t *testing.T) {
	client := &fakePeerClient{
		entries: map[string][]RegistryEntry{"recipe": {{Soul: "pub1:gone"}}},
		souls:   map[string]map[string]any{},
	}
	cache := newFakeCache()
	st := &store.Store{Documents: newFakeDocs(), Cache: cache, Metrics: newFakeMetrics()}
	s := New([]Peer{{ID: "peerA", Client: client, RecordTypes: []string{"recipe"}}}, st, newTestRegistry(), time.Minute, nil)

	s.syncPeer(context.Background(), s.Peers[0])

	assert.Equal(t, true, cache.data["peersync:404:pub1:gone"])
}
