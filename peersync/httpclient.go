package peersync

import (
	"context"

	"oip.network/indexd/peeradapter"
	"oip.network/indexd/resource"
)

// HTTPPeerClient implements PeerClient against a trusted peer's relay over
// the same wire format peeradapter.HTTPGraph uses for local writes, so a
// node's own relay and the peers it discovers from speak one protocol.
type HTTPPeerClient struct {
	BaseURL string
	Pool    *resource.Pool
}

func (c *HTTPPeerClient) ListRegistry(ctx context.Context, recordType string) ([]RegistryEntry, error) {
	wire, err := peeradapter.ListRegistryWire(ctx, c.Pool, c.BaseURL, recordType)
	if err != nil {
		return nil, err
	}
	out := make([]RegistryEntry, len(wire))
	for i, w := range wire {
		out[i] = RegistryEntry{Soul: w.Soul, LastModifiedTimestamp: w.LastModifiedTimestamp}
	}
	return out, nil
}

func (c *HTTPPeerClient) FetchSoul(ctx context.Context, soul string) (map[string]any, error) {
	g := &peeradapter.HTTPGraph{BaseURL: c.BaseURL, Pool: c.Pool}
	return g.ReadSoul(ctx, soul)
}
