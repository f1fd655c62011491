package blockwalk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/adapter"
	"oip.network/indexd/record"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

type fakeAdapter struct {
	items []adapter.SinceItem
	err   error
}

func (a *fakeAdapter) Get(ctx context.Context, did string) (*record.Record, error) { return nil, nil }
func (a *fakeAdapter) Put(ctx context.Context, rec *record.Record, opts adapter.PutOptions) (string, error) {
	return "", nil
}
func (a *fakeAdapter) Tombstone(ctx context.Context, did, signer string) error { return nil }
func (a *fakeAdapter) Since(ctx context.Context, cursor string) (<-chan adapter.SinceItem, error) {
	if a.err != nil {
		return nil, a.err
	}
	ch := make(chan adapter.SinceItem, len(a.items))
	for _, item := range a.items {
		ch <- item
	}
	close(ch)
	return ch, nil
}

type fakeDocs struct {
	records  map[string]*record.Record
	creators map[string]store.Creator
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{records: map[string]*record.Record{}, creators: map[string]store.Creator{}}
}

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
func (d *fakeDocs) PutCreator(ctx context.Context, c store.Creator) error {
	d.creators[c.PublicKey] = c
	return nil
}
func (d *fakeDocs) GetCreator(ctx context.Context, publicKey string) (store.Creator, bool, error) {
	c, ok := d.creators[publicKey]
	return c, ok, nil
}

type fakeMetrics struct {
	progress store.SyncProgress
	runs     []store.BlockSyncRun
}

func (m *fakeMetrics) GetSyncProgress(ctx context.Context) (store.SyncProgress, error) {
	return m.progress, nil
}
func (m *fakeMetrics) SetSyncProgress(ctx context.Context, p store.SyncProgress) error {
	m.progress = p
	return nil
}
func (m *fakeMetrics) RecordBlockSyncRun(ctx context.Context, run store.BlockSyncRun) error {
	m.runs = append(m.runs, run)
	return nil
}
func (m *fakeMetrics) GetPeerProgress(ctx context.Context, peerID string) (store.PeerProgress, bool, error) {
	return store.PeerProgress{}, false, nil
}
func (m *fakeMetrics) SetPeerProgress(ctx context.Context, p store.PeerProgress) error { return nil }

func basicRecipe(name, block string) *record.Record {
	return &record.Record{
		Data: record.TemplateData{"basic": record.Fields{"name": name}},
		OIP:  record.OIP{Did: "did:arweave:" + repeat43(block[0]), RecordType: "recipe", Creator: record.Creator{PublicKey: "pub1"}},
	}
}

func repeat43(c byte) string {
	b := make([]byte, 43)
	for i := range b {
		b[i] = c
	}
	return string(b)
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

func newTestStore() *store.Store {
	return &store.Store{Documents: newFakeDocs(), Metrics: &fakeMetrics{}}
}

func TestRunOnePassIndexesAndAdvancesCursor(t *testing.T) {
	rec := basicRecipe("Soup", "a")
	chain := &fakeAdapter{items: []adapter.SinceItem{{Cursor: "5:tx1", Record: rec}}}
	st := newTestStore()
	w := New(chain, st, newTestRegistry(), time.Millisecond, "")

	n, err := w.runOnePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	progress, _ := st.Metrics.GetSyncProgress(context.Background())
	assert.Equal(t, int64(5), progress.LatestIndexedBlock)
	assert.Equal(t, "tx1", progress.LatestTxid)

	got, found, _ := st.Documents.GetRecord(context.Background(), rec.OIP.Did)
	assert.True(t, found)
	assert.Equal(t, "Soup", got.Name())
}

func TestRunOnePassSkipsPerItemErrorsAndAdvancesPastThem(t *testing.T) {
	good := basicRecipe("Ok", "b")
	chain := &fakeAdapter{items: []adapter.SinceItem{
		{Cursor: "1:bad", Err: fmt.Errorf("boom")},
		{Cursor: "2:good", Record: good},
	}}
	st := newTestStore()
	w := New(chain, st, newTestRegistry(), time.Millisecond, "")

	n, err := w.runOnePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	progress, _ := st.Metrics.GetSyncProgress(context.Background())
	assert.Equal(t, int64(2), progress.LatestIndexedBlock)
}

func TestRunOnePassSkipsValidationViolationsWithoutAdvancingFully(t *testing.T) {
	bad := &record.Record{
		Data: record.TemplateData{"basic": record.Fields{"name": 42}}, // wrong type
		OIP:  record.OIP{Did: "did:arweave:" + repeat43('c'), RecordType: "recipe"},
	}
	chain := &fakeAdapter{items: []adapter.SinceItem{{Cursor: "9:txbad", Record: bad}}}
	st := newTestStore()
	w := New(chain, st, newTestRegistry(), time.Millisecond, "")

	n, err := w.runOnePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, _ := st.Documents.GetRecord(context.Background(), bad.OIP.Did)
	assert.False(t, found)
}

func TestNextBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	assert.Equal(t, initialBackoff, nextBackoff(0))
	assert.Equal(t, initialBackoff*2, nextBackoff(1))
	assert.Equal(t, maxBackoff, nextBackoff(20))
}
