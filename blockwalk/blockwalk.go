// Package blockwalk implements the Block-Walk Sync (spec §4.E): a
// long-running task that keeps sync-progress.latestIndexedBlock
// monotonically advancing and the records index congruent with the
// blockchain.
package blockwalk

import (
	"context"
	"time"

	"oip.network/indexd/adapter"
	"oip.network/indexd/errs"
	"oip.network/indexd/logging"
	"oip.network/indexd/record"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

// initialBackoff and maxBackoff bound the exponential retry on network
// error (spec §4.E's failure semantics), following the doubling shape of
// http/client.go's calculateBackoff (1<<attempt * initial), capped so a
// long outage doesn't grow the sleep unboundedly.
const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Walker runs the block-walk loop.
type Walker struct {
	Chain       adapter.Adapter
	Store       *store.Store
	Templates   *template.Registry
	PollInterval time.Duration
	Genesis     string // cursor to use on first run

	log *logging.Fields
}

func New(chain adapter.Adapter, st *store.Store, templates *template.Registry, pollInterval time.Duration, genesis string) *Walker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Walker{Chain: chain, Store: st, Templates: templates, PollInterval: pollInterval, Genesis: genesis, log: logging.New("blockwalk")}
}

// Run loops until ctx is cancelled. It is meant to be started by
// supervisor as a panic-restarted background task.
func (w *Walker) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.runOnePass(ctx)
		if err != nil {
			if _, ok := err.(*errs.StoreError); ok {
				w.log.Errorf("fatal store error, halting block-walk: %v", err)
				return err
			}
			backoff := nextBackoff(attempt)
			w.log.Warnf("block-walk pass failed, backing off %s: %v", backoff, err)
			attempt++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		attempt = 0
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.PollInterval):
			}
		}
	}
}

func nextBackoff(attempt int) time.Duration {
	d := initialBackoff * time.Duration(int64(1)<<uint(attempt))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// runOnePass executes algorithm steps 1-3 of spec §4.E once, and returns
// how many items it processed (callers poll again immediately if >0, on
// PollInterval otherwise).
func (w *Walker) runOnePass(ctx context.Context) (int, error) {
	progress, err := w.Store.Metrics.GetSyncProgress(ctx)
	if err != nil {
		return 0, errs.Store("get-sync-progress", err)
	}

	cursor := w.Genesis
	if progress.LatestTxid != "" {
		cursor = cursorString(progress.LatestIndexedBlock, progress.LatestTxid)
	}

	items, err := w.Chain.Since(ctx, cursor)
	if err != nil {
		return 0, err
	}

	run := store.BlockSyncRun{StartedAt: now(), FromBlock: progress.LatestIndexedBlock}
	processed := 0
	for item := range items {
		processed++
		if item.Err != nil {
			w.log.Warnf("skipping item at cursor %s: %v", item.Cursor, item.Err)
			run.Errors++
			continue
		}
		if err := w.indexOne(ctx, item.Record); err != nil {
			if _, ok := err.(*errs.StoreError); ok {
				return processed, err
			}
			w.log.Warnf("validation violation, skipping %s: %v", item.Record.OIP.Did, err)
			run.Errors++
			continue
		}
		block, txid := splitCursor(item.Cursor)
		if err := w.Store.Metrics.SetSyncProgress(ctx, store.SyncProgress{LatestIndexedBlock: block, LatestTxid: txid, UpdatedAt: now()}); err != nil {
			return processed, errs.Store("set-sync-progress", err)
		}
		run.ToBlock = block
		run.RecordsIndexed++
	}
	run.FinishedAt = now()
	if err := w.Store.Metrics.RecordBlockSyncRun(ctx, run); err != nil {
		w.log.Warnf("failed to record block-sync-run audit row: %v", err)
	}
	return processed, nil
}

// indexOne runs validation, creator resolution, oip normalization, and
// upsert, per spec §4.E steps 2's sub-bullets.
func (w *Walker) indexOne(ctx context.Context, rec *record.Record) error {
	if violations := w.Templates.ValidateRecord(rec); len(violations) > 0 {
		return errs.Validation(violations[0].String(), nil)
	}

	if err := w.resolveCreator(ctx, rec); err != nil {
		return err
	}

	rec.OIP.IndexedAt = now()

	if err := w.Store.Documents.PutRecord(ctx, rec); err != nil {
		return errs.Store("put-record", err)
	}
	if w.Store.Graph != nil {
		refs := extractDrefs(rec)
		if err := w.Store.Graph.UpsertReferences(ctx, rec.OIP.Did, refs); err != nil {
			w.log.Warnf("failed to upsert graph references for %s: %v", rec.OIP.Did, err)
		}
	}
	return nil
}

func (w *Walker) resolveCreator(ctx context.Context, rec *record.Record) error {
	pubKey := rec.OIP.Creator.PublicKey
	if pubKey == "" {
		return nil
	}
	_, found, err := w.Store.Documents.GetCreator(ctx, pubKey)
	if err != nil {
		return errs.Store("get-creator", err)
	}
	if !found {
		if err := w.Store.Documents.PutCreator(ctx, store.Creator{PublicKey: pubKey, DidAddress: rec.OIP.Creator.DidAddress}); err != nil {
			return errs.Store("put-creator", err)
		}
	}
	return nil
}

// extractDrefs walks rec.Data for values that look like DIDs, for the
// REFERENCES graph enrichment (SPEC_FULL.md §3). Mirrors the shallow scan
// resolve.Resolve does for dref detection.
func extractDrefs(rec *record.Record) []string {
	var out []string
	for _, fields := range rec.Data {
		for _, v := range fields {
			collectDrefs(v, &out)
		}
	}
	return out
}

func collectDrefs(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		if record.ValidateDid(val) {
			*out = append(*out, val)
		}
	case []any:
		for _, item := range val {
			collectDrefs(item, out)
		}
	case []string:
		for _, item := range val {
			collectDrefs(item, out)
		}
	}
}

func now() time.Time { return time.Now().UTC() }
