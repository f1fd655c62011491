// Package chainadapter implements the Blockchain Storage Adapter (spec
// §4.C.1): an append-only, permanent backend fronting an Arweave-like
// gateway. It consumes the "fetch transactions since block N" interface
// spec §1 says is out of scope to define further — Gateway below is that
// seam.
//
// HTTP calls go through a resource.Pool (never an ad-hoc *http.Client, per
// §4.J). Each gateway call is made once, with no retry in this package;
// Block-Walk Sync's Run loop retries a failed pass with exponential backoff.
package chainadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"oip.network/indexd/adapter"
	"oip.network/indexd/errs"
	"oip.network/indexd/logging"
	"oip.network/indexd/record"
	"oip.network/indexd/resource"
)

// Tx is a single blockchain transaction as the Gateway reports it.
type Tx struct {
	Txid  string            `json:"txid"`
	Block int64             `json:"block"`
	Tags  map[string]string `json:"tags"`
	Data  json.RawMessage   `json:"data"`
}

// Gateway is the "fetch transactions since block N" contract spec §1 treats
// as an external collaborator. Any Arweave-compatible gateway client
// satisfies it.
type Gateway interface {
	// TxsSinceBlock returns txs in blocks > cursorBlock, in block-ascending,
	// txid-ascending order, tagged however the gateway tags them (filtering
	// by SYSTEM_TAG happens in this adapter, not the gateway).
	TxsSinceBlock(ctx context.Context, cursorBlock int64) ([]Tx, error)
	// FetchData retrieves the raw payload for a txid whose Tx.Data was
	// omitted (large payloads are often fetched lazily).
	FetchData(ctx context.Context, txid string) ([]byte, error)
	// Submit uploads a signed data item and returns its txid.
	Submit(ctx context.Context, payload []byte, tags map[string]string) (string, error)
}

// HTTPGateway is a Gateway implementation over a simple REST contract,
// using a recycled resource.Pool client rather than a per-call
// *http.Client.
type HTTPGateway struct {
	BaseURL string
	Pool    *resource.Pool
}

func (g *HTTPGateway) TxsSinceBlock(ctx context.Context, cursorBlock int64) ([]Tx, error) {
	url := fmt.Sprintf("%s/txs?since_block=%d", g.BaseURL, cursorBlock)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Pool.Client().Do(req)
	if err != nil {
		return nil, errs.UpstreamUnavailable("blockchain-gateway", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, errs.UpstreamUnavailable("blockchain-gateway", fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var txs []Tx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, errs.Validation("malformed gateway response", err)
	}
	resource.ReleaseJSON(&body)
	return txs, nil
}

func (g *HTTPGateway) FetchData(ctx context.Context, txid string) ([]byte, error) {
	url := fmt.Sprintf("%s/tx/%s/data", g.BaseURL, txid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Pool.Client().Do(req)
	if err != nil {
		return nil, errs.UpstreamUnavailable("blockchain-gateway", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (g *HTTPGateway) Submit(ctx context.Context, payload []byte, tags map[string]string) (string, error) {
	envelope := struct {
		Data []byte            `json:"data"`
		Tags map[string]string `json:"tags"`
	}{Data: payload, Tags: tags}
	body, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.Pool.Client().Do(req)
	if err != nil {
		return "", errs.UpstreamUnavailable("blockchain-gateway", err)
	}
	defer resp.Body.Close()
	var out struct {
		Txid string `json:"txid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Txid, nil
}

// Adapter implements adapter.Adapter over a Gateway, filtered by SystemTag.
type Adapter struct {
	Gateway   Gateway
	SystemTag string
	log       *logging.Fields
}

func New(gw Gateway, systemTag string) *Adapter {
	return &Adapter{Gateway: gw, SystemTag: systemTag, log: logging.New("chainadapter")}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Get fetches raw tx data by txid (spec §4.C.1's get contract: the DID's ID
// component is the txid for arweave DIDs).
func (a *Adapter) Get(ctx context.Context, did string) (*record.Record, error) {
	parsed, ok := record.ParseDID(did)
	if !ok || parsed.Method != record.MethodArweave {
		return nil, errs.NotFound(did)
	}
	data, err := a.Gateway.FetchData(ctx, parsed.ID)
	if err != nil {
		return nil, errs.UpstreamUnavailable("blockchain", err)
	}
	if data == nil {
		return nil, errs.NotFound(did)
	}
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Validation("malformed record payload", err)
	}
	rec.OIP.Did = did
	rec.OIP.Storage = "arweave"
	return &rec, nil
}

// Put uploads a signed data item; cursor tracking (block+txid) is the
// caller's responsibility via Since. Blockchain records are immutable;
// WaitConfirmations is honored by the caller polling Get, not here.
func (a *Adapter) Put(ctx context.Context, rec *record.Record, opts adapter.PutOptions) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", errs.Validation("record does not serialize", err)
	}
	tags := map[string]string{
		"recordType": rec.RecordType(),
		"ver":        rec.OIP.Ver,
		"creator":    rec.OIP.Creator.PublicKey,
		"system":     a.SystemTag,
	}
	txid, err := a.Gateway.Submit(ctx, payload, tags)
	if err != nil {
		return "", errs.UpstreamUnavailable("blockchain", err)
	}
	return "did:arweave:" + txid, nil
}

// Since yields txs in blocks > cursor that bear SystemTag, in
// block-ascending/txid-ascending order (spec §4.C.1). Per-item failures
// (e.g. a malformed payload) surface as an error for that item only;
// iteration continues.
func (a *Adapter) Since(ctx context.Context, cursor string) (<-chan adapter.SinceItem, error) {
	cursorBlock, _, _ := splitCursor(cursor)

	txs, err := a.Gateway.TxsSinceBlock(ctx, cursorBlock)
	if err != nil {
		return nil, errs.UpstreamUnavailable("blockchain", err)
	}

	out := make(chan adapter.SinceItem)
	go func() {
		defer close(out)
		for _, tx := range txs {
			if tx.Tags["system"] != a.SystemTag && tx.Tags["System"] != a.SystemTag {
				continue
			}
			item := a.parseTx(ctx, tx)
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) parseTx(ctx context.Context, tx Tx) adapter.SinceItem {
	data := []byte(tx.Data)
	if len(data) == 0 {
		fetched, err := a.Gateway.FetchData(ctx, tx.Txid)
		if err != nil {
			return adapter.SinceItem{Cursor: makeCursor(tx.Block, tx.Txid), Err: errs.UpstreamUnavailable("blockchain", err)}
		}
		data = fetched
	}

	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return adapter.SinceItem{Cursor: makeCursor(tx.Block, tx.Txid), Err: errs.Validation("malformed record payload", err)}
	}
	rec.OIP.Did = "did:arweave:" + tx.Txid
	rec.OIP.Storage = "arweave"
	block := tx.Block
	rec.OIP.InArweaveBlock = &block

	return adapter.SinceItem{Cursor: makeCursor(tx.Block, tx.Txid), Record: &rec}
}

// Tombstone is only simulated: publishing a deleteMessage record that
// references did, signed by signer. Blockchain records themselves are
// never deleted.
func (a *Adapter) Tombstone(ctx context.Context, did string, signer string) error {
	deleteMsg := &record.Record{
		Data: record.TemplateData{
			"deleteMessage": record.Fields{"target": did},
		},
		OIP: record.OIP{RecordType: "deleteMessage", Creator: record.Creator{PublicKey: signer}},
	}
	_, err := a.Put(ctx, deleteMsg, adapter.PutOptions{})
	return err
}

func makeCursor(block int64, txid string) string {
	return fmt.Sprintf("%d:%s", block, txid)
}

func splitCursor(cursor string) (block int64, txid string, ok bool) {
	if cursor == "" {
		return 0, "", false
	}
	var b int64
	var t string
	if _, err := fmt.Sscanf(cursor, "%d:%s", &b, &t); err != nil {
		return 0, "", false
	}
	return b, t, true
}
