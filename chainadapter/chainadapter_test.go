package chainadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip.network/indexd/adapter"
	"oip.network/indexd/errs"
	"oip.network/indexd/record"
)

type fakeGateway struct {
	txs       []Tx
	data      map[string][]byte
	submitted []submitCall
}

type submitCall struct {
	payload []byte
	tags    map[string]string
}

func (f *fakeGateway) TxsSinceBlock(ctx context.Context, cursorBlock int64) ([]Tx, error) {
	var out []Tx
	for _, tx := range f.txs {
		if tx.Block > cursorBlock {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeGateway) FetchData(ctx context.Context, txid string) ([]byte, error) {
	return f.data[txid], nil
}

func (f *fakeGateway) Submit(ctx context.Context, payload []byte, tags map[string]string) (string, error) {
	f.submitted = append(f.submitted, submitCall{payload, tags})
	return "newtxid000000000000000000000000000000000000", nil
}

func recordPayload(t *testing.T, name string) []byte {
	rec := &record.Record{Data: record.TemplateData{"basic": record.Fields{"name": name}}}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return b
}

func TestSinceFiltersBySystemTagAndOrdersAscending(t *testing.T) {
	gw := &fakeGateway{
		txs: []Tx{
			{Txid: "tx1", Block: 10, Tags: map[string]string{"system": "indexd"}, Data: recordPayload(t, "A")},
			{Txid: "tx2", Block: 11, Tags: map[string]string{"system": "other"}, Data: recordPayload(t, "B")},
			{Txid: "tx3", Block: 12, Tags: map[string]string{"system": "indexd"}, Data: recordPayload(t, "C")},
		},
	}
	a := New(gw, "indexd")

	ch, err := a.Since(context.Background(), "")
	require.NoError(t, err)

	var got []string
	for item := range ch {
		require.NoError(t, item.Err)
		got = append(got, item.Record.Name())
	}
	assert.Equal(t, []string{"A", "C"}, got)
}

func TestSinceHonorsCursorBlock(t *testing.T) {
	gw := &fakeGateway{
		txs: []Tx{
			{Txid: "tx1", Block: 10, Tags: map[string]string{"system": "indexd"}, Data: recordPayload(t, "A")},
			{Txid: "tx2", Block: 20, Tags: map[string]string{"system": "indexd"}, Data: recordPayload(t, "B")},
		},
	}
	a := New(gw, "indexd")

	ch, err := a.Since(context.Background(), "10:tx1")
	require.NoError(t, err)

	var got []string
	for item := range ch {
		got = append(got, item.Record.Name())
	}
	assert.Equal(t, []string{"B"}, got)
}

func TestSinceIsolatesPerItemMalformedPayload(t *testing.T) {
	gw := &fakeGateway{
		txs: []Tx{
			{Txid: "tx1", Block: 10, Tags: map[string]string{"system": "indexd"}, Data: json.RawMessage(`not json`)},
			{Txid: "tx2", Block: 11, Tags: map[string]string{"system": "indexd"}, Data: recordPayload(t, "ok")},
		},
	}
	a := New(gw, "indexd")

	ch, err := a.Since(context.Background(), "")
	require.NoError(t, err)

	var items []adapter.SinceItem
	for item := range ch {
		items = append(items, item)
	}
	require.Len(t, items, 2)
	assert.Error(t, items[0].Err)
	assert.NoError(t, items[1].Err)
	assert.Equal(t, "ok", items[1].Record.Name())
}

func TestGetRejectsNonArweaveDID(t *testing.T) {
	a := New(&fakeGateway{}, "indexd")
	_, err := a.Get(context.Background(), "did:gun:abc:h:def")
	var nf *errs.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGetReturnsNotFoundWhenDataMissing(t *testing.T) {
	gw := &fakeGateway{data: map[string][]byte{}}
	a := New(gw, "indexd")
	did := "did:arweave:" + stringsRepeat43()
	_, err := a.Get(context.Background(), did)
	var nf *errs.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestPutTagsRecordAndReturnsDID(t *testing.T) {
	gw := &fakeGateway{}
	a := New(gw, "indexd")
	rec := &record.Record{
		Data: record.TemplateData{"basic": record.Fields{"name": "X"}},
		OIP:  record.OIP{Ver: "0.1", Creator: record.Creator{PublicKey: "pk1"}},
	}
	did, err := a.Put(context.Background(), rec, adapter.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "did:arweave:newtxid000000000000000000000000000000000000", did)
	require.Len(t, gw.submitted, 1)
	assert.Equal(t, "indexd", gw.submitted[0].tags["system"])
	assert.Equal(t, "pk1", gw.submitted[0].tags["creator"])
}

func TestTombstonePublishesDeleteMessage(t *testing.T) {
	gw := &fakeGateway{}
	a := New(gw, "indexd")
	err := a.Tombstone(context.Background(), "did:arweave:"+stringsRepeat43(), "signer-key")
	require.NoError(t, err)
	require.Len(t, gw.submitted, 1)

	var rec record.Record
	require.NoError(t, json.Unmarshal(gw.submitted[0].payload, &rec))
	assert.Equal(t, "deleteMessage", rec.RecordType())
}

func stringsRepeat43() string {
	b := make([]byte, 43)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
