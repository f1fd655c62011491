// Package adapter declares the common contract both Storage Adapters
// satisfy (spec §4.C): Blockchain (chainadapter) and Peer-Graph
// (peeradapter). blockwalk, peersync, and publish depend only on this
// interface, never on the concrete adapter packages, so each sync loop and
// the publish pipeline can be tested against a fake.
package adapter

import (
	"context"
	"time"

	"oip.network/indexd/record"
)

// PutOptions carries the knobs spec §4.H step 4 calls for: how long to wait
// for confirmation before returning.
type PutOptions struct {
	// WaitConfirmations is blockchain-specific: block confirmations to wait
	// for before returning. Zero means "don't wait" (caller can poll later).
	WaitConfirmations int
	// AckTimeout bounds how long the peer-graph adapter's put waits for a
	// write ack before failing; zero means the adapter's 60s default (spec
	// §4.C.2).
	AckTimeout time.Duration
}

// SinceItem is one entry from an adapter's change stream.
type SinceItem struct {
	Cursor string
	Record *record.Record
	Err    error // per-item error; iteration continues on the next item
}

// Adapter is the common contract both Storage Adapters implement.
type Adapter interface {
	// Get fetches a record by DID. Returns errs.NotFound if absent.
	Get(ctx context.Context, did string) (*record.Record, error)
	// Put writes a new record and returns its assigned DID.
	Put(ctx context.Context, rec *record.Record, opts PutOptions) (string, error)
	// Since streams items newer than cursor, in adapter-defined order
	// (block-ascending/txid-ascending for the blockchain; unordered for the
	// peer graph, where Since is implemented by the sync component instead,
	// per spec §4.C.2).
	Since(ctx context.Context, cursor string) (<-chan SinceItem, error)
	// Tombstone marks a record deleted; semantics differ per backend (a
	// deleteMessage record for the blockchain, a tombstone write for the
	// peer graph).
	Tombstone(ctx context.Context, did string, signer string) error
}
