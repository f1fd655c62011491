package peeradapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"oip.network/indexd/errs"
	"oip.network/indexd/resource"
)

// HTTPGraph is a Graph implementation over a gun relay's REST-ish soul
// surface, using a recycled resource.Pool client rather than a per-call
// *http.Client — the same seam chainadapter.HTTPGateway uses against the
// blockchain gateway.
type HTTPGraph struct {
	BaseURL string
	Pool    *resource.Pool
}

func (g *HTTPGraph) ReadSoul(ctx context.Context, soul string) (map[string]any, error) {
	url := fmt.Sprintf("%s/gun/%s", g.BaseURL, soul)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Pool.Client().Do(req)
	if err != nil {
		return nil, errs.UpstreamUnavailable("peer-graph", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 500 {
		return nil, errs.UpstreamUnavailable("peer-graph", fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var wire map[string]any
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errs.Validation("malformed soul payload", err)
	}
	resource.ReleaseJSON(&body)
	return wire, nil
}

func (g *HTTPGraph) WriteSoul(ctx context.Context, soul string, wire map[string]any, ack func(error)) error {
	body, err := json.Marshal(wire)
	if err != nil {
		ack(err)
		return err
	}
	url := fmt.Sprintf("%s/gun/%s", g.BaseURL, soul)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		ack(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.Pool.Client().Do(req)
	if err != nil {
		wrapped := errs.UpstreamUnavailable("peer-graph", err)
		ack(wrapped)
		return wrapped
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		wrapped := errs.UpstreamUnavailable("peer-graph", fmt.Errorf("ack status %d", resp.StatusCode))
		ack(wrapped)
		return wrapped
	}
	ack(nil)
	return nil
}

// RegistryEntryWire is the over-the-wire shape of one registry listing
// entry, shared by peersync's HTTPPeerClient so both the local write path
// (HTTPGraph) and the remote read path agree on one format.
type RegistryEntryWire struct {
	Soul                  string `json:"soul"`
	LastModifiedTimestamp int64  `json:"lastModifiedTimestamp"`
}

// ListRegistryWire fetches recordType's known souls from a relay at
// baseURL, for peersync.HTTPPeerClient to adapt into its own
// RegistryEntry type without this package importing peersync.
func ListRegistryWire(ctx context.Context, pool *resource.Pool, baseURL, recordType string) ([]RegistryEntryWire, error) {
	url := fmt.Sprintf("%s/registry/%s", baseURL, recordType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := pool.Client().Do(req)
	if err != nil {
		return nil, errs.UpstreamUnavailable("peer-registry", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []RegistryEntryWire
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errs.Validation("malformed registry payload", err)
	}
	return entries, nil
}
