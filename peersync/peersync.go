// Package peersync implements Peer-Graph Sync (spec §4.F): periodic
// discovery of records created by trusted peers, indexed into the same
// store blockwalk uses, with per-peer isolation. Each peer's consecutive
// failures are recorded in the metrics store; a failing peer is still
// polled on every tick.
package peersync

import (
	"context"
	"encoding/json"
	"time"

	"oip.network/indexd/errs"
	"oip.network/indexd/logging"
	"oip.network/indexd/peeradapter"
	"oip.network/indexd/record"
	"oip.network/indexd/resource"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

// negativeLookupTTL mirrors peeradapter's 404-suppression window (spec
// §4.F and §4.C.2 share the requirement).
const negativeLookupTTL = 60 * time.Second

// RegistryEntry is one soul the peer's per-type index reports, with enough
// metadata to decide whether re-fetching is worthwhile.
type RegistryEntry struct {
	Soul                 string
	LastModifiedTimestamp int64
}

// PeerClient is the HTTP surface a trusted peer exposes for
// server-to-server sync (spec §4.F step 1-2): per-type registry listing and
// per-soul fetch.
type PeerClient interface {
	// ListRegistry returns the peer's known souls for recordType.
	ListRegistry(ctx context.Context, recordType string) ([]RegistryEntry, error)
	// FetchSoul fetches one record by soul; returns (nil, nil) on 404.
	FetchSoul(ctx context.Context, soul string) (map[string]any, error)
}

// Peer is one trusted peer configuration entry.
type Peer struct {
	ID          string
	Client      PeerClient
	RecordTypes []string
}

// Syncer runs the per-peer polling loop.
type Syncer struct {
	Peers     []Peer
	Store     *store.Store
	Templates *template.Registry
	Interval  time.Duration
	Pool      *resource.Pool

	log *logging.Fields
}

func New(peers []Peer, st *store.Store, templates *template.Registry, interval time.Duration, pool *resource.Pool) *Syncer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Syncer{Peers: peers, Store: st, Templates: templates, Interval: interval, Pool: pool, log: logging.New("peersync")}
}

// Run ticks every Interval, running one full pass per tick. A tick firing
// while the previous pass is still running is dropped (spec §5's
// non-overlap requirement), enforced here via a non-blocking select on a
// single-slot semaphore; no cross-process lock is taken, since peersync's
// concurrent per-peer goroutines are all owned by this process.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	busy := make(chan struct{}, 1)
	busy <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case <-busy:
				go func() {
					defer func() { busy <- struct{}{} }()
					s.runOnePass(ctx)
				}()
			default:
				s.log.Warn("peer-sync pass still running, dropping this tick")
			}
		}
	}
}

// runOnePass runs one full pass over every peer concurrently; per-peer
// failures are isolated (spec §4.F failure semantics).
func (s *Syncer) runOnePass(ctx context.Context) {
	done := make(chan struct{}, len(s.Peers))
	for _, p := range s.Peers {
		p := p
		go func() {
			defer func() { done <- struct{}{} }()
			s.syncPeer(ctx, p)
		}()
	}
	for range s.Peers {
		<-done
	}
}

func (s *Syncer) syncPeer(ctx context.Context, p Peer) {
	log := s.log.With(map[string]any{"peer": p.ID})
	processed := 0
	failed := false

	for _, recordType := range p.RecordTypes {
		entries, err := p.Client.ListRegistry(ctx, recordType)
		if err != nil {
			failed = true
			s.recordPeerFailure(ctx, p.ID, err)
			log.Warnf("failed to list registry for %s: %v", recordType, err)
			continue
		}

		for _, entry := range entries {
			if s.isNegativelyCached(ctx, entry.Soul) {
				continue
			}
			if s.alreadyFresh(ctx, entry) {
				continue
			}

			wire, err := p.Client.FetchSoul(ctx, entry.Soul)
			if err != nil {
				s.markMissing(ctx, entry.Soul)
				log.Warnf("failed to fetch soul %s: %v", entry.Soul, err)
				continue
			}
			if wire == nil {
				s.markMissing(ctx, entry.Soul)
				continue
			}

			// deep-clone then null the source reference immediately, per
			// spec §4.F step 2's explicit buffer-reclamation requirement.
			cloned := deepCloneMap(wire)
			wire = nil

			rec, err := wireToRecord(cloned, entry.Soul)
			if err != nil {
				log.Warnf("malformed peer record %s: %v", entry.Soul, err)
				continue
			}

			if violations := s.Templates.ValidateRecord(rec); len(violations) > 0 {
				log.Warnf("validation violation for %s, skipping: %s", entry.Soul, violations[0].String())
				continue
			}
			rec.OIP.IndexedAt = time.Now().UTC()

			if err := s.Store.Documents.PutRecord(ctx, rec); err != nil {
				log.Errorf("store error indexing %s: %v", entry.Soul, err)
				continue
			}
			processed++
		}
	}

	if !failed {
		s.recordPeerSuccess(ctx, p.ID)
	}

	if processed > 20 {
		// spec §4.F step 4: request a GC pass after large batches. Go has
		// no explicit GC request hook in routine use; releasing large
		// intermediates promptly (done above, per-soul) is the
		// actionable equivalent here.
		log.Debugf("processed %d records from peer, large batch", processed)
	}
}

func (s *Syncer) isNegativelyCached(ctx context.Context, soul string) bool {
	if s.Store.Cache == nil {
		return false
	}
	var v bool
	found, err := s.Store.Cache.GetCache(ctx, "peersync:404:"+soul, &v)
	return err == nil && found && v
}

func (s *Syncer) markMissing(ctx context.Context, soul string) {
	if s.Store.Cache == nil {
		return
	}
	if err := s.Store.Cache.SetCache(ctx, "peersync:404:"+soul, true, negativeLookupTTL); err != nil {
		s.log.Warnf("failed to cache negative lookup for %s: %v", soul, err)
	}
}

func (s *Syncer) alreadyFresh(ctx context.Context, entry RegistryEntry) bool {
	did := "did:gun:" + entry.Soul
	existing, found, err := s.Store.Documents.GetRecord(ctx, did)
	if err != nil || !found {
		return false
	}
	if existing.AccessControl == nil {
		return false
	}
	return existing.AccessControl.LastModifiedTimestamp >= entry.LastModifiedTimestamp
}

func (s *Syncer) recordPeerFailure(ctx context.Context, peerID string, cause error) {
	if s.Store.Metrics == nil {
		return
	}
	p, _, _ := s.Store.Metrics.GetPeerProgress(ctx, peerID)
	p.PeerID = peerID
	p.ConsecutiveFailures++
	p.LastError = cause.Error()
	p.UpdatedAt = time.Now().UTC()
	if err := s.Store.Metrics.SetPeerProgress(ctx, p); err != nil {
		s.log.Warnf("failed to record peer failure for %s: %v", peerID, err)
	}
}

func (s *Syncer) recordPeerSuccess(ctx context.Context, peerID string) {
	if s.Store.Metrics == nil {
		return
	}
	p, _, _ := s.Store.Metrics.GetPeerProgress(ctx, peerID)
	p.PeerID = peerID
	p.ConsecutiveFailures = 0
	p.LastError = ""
	p.UpdatedAt = time.Now().UTC()
	if err := s.Store.Metrics.SetPeerProgress(ctx, p); err != nil {
		s.log.Warnf("failed to record peer success for %s: %v", peerID, err)
	}
}

func wireToRecord(wire map[string]any, soul string) (*record.Record, error) {
	rec := &record.Record{Data: record.TemplateData{}}
	data, ok := wire["data"].(map[string]any)
	if !ok {
		return nil, errs.Validation("peer record missing data", nil)
	}
	for tmpl, raw := range data {
		fieldsMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fields := make(record.Fields, len(fieldsMap))
		for name, v := range fieldsMap {
			fields[name] = peeradapter.UnflattenValue(v)
		}
		rec.Data[tmpl] = fields
	}
	if b, err := json.Marshal(wire["oip"]); err == nil && wire["oip"] != nil {
		if err := json.Unmarshal(b, &rec.OIP); err != nil {
			return nil, errs.Validation("malformed peer record oip", err)
		}
	}
	if b, err := json.Marshal(wire["accessControl"]); err == nil && wire["accessControl"] != nil {
		var ac record.AccessControl
		if err := json.Unmarshal(b, &ac); err != nil {
			return nil, errs.Validation("malformed peer record accessControl", err)
		}
		rec.AccessControl = &ac
	}
	rec.OIP.Did = "did:gun:" + soul
	rec.OIP.Storage = "gun"
	if recordType, ok := wire["recordType"].(string); ok {
		rec.OIP.RecordType = recordType
	}
	return rec, nil
}

func deepCloneMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCloneValue(item)
		}
		return out
	default:
		return v
	}
}
