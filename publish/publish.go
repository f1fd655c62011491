// Package publish implements the Publish Pipeline (spec §4.H): synchronous
// publish, job-tracked asynchronous publish, and concurrent
// multi-destination fan-out across the blockchain adapter, the peer-graph
// adapter, and an external-mirror destination.
package publish

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"oip.network/indexd/adapter"
	"oip.network/indexd/errs"
	"oip.network/indexd/jobs"
	"oip.network/indexd/logging"
	"oip.network/indexd/record"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

// Destination is one of the publish targets spec §4.H's multi-destination
// mode fans out to.
type Destination string

const (
	DestBlockchain      Destination = "blockchain"
	DestPeerGraph       Destination = "peer-graph"
	DestExternalMirror  Destination = "external-mirror"
)

// Signer produces oip.signature over a record's canonical payload. The
// Publish Pipeline never manages key custody itself (an explicit Non-goal,
// same boundary Query's Auth draws) — callers inject a Signer bound to
// whatever key store they use; NoopSigner is the default for environments
// that sign upstream of this package.
type Signer interface {
	Sign(rec *record.Record) (string, error)
}

// NoopSigner leaves oip.signature blank — used when signing happens outside
// this pipeline (e.g. the caller already attached a signature to Data).
type NoopSigner struct{}

func (NoopSigner) Sign(rec *record.Record) (string, error) { return "", nil }

// Ed25519Signer signs canonicalPayload(rec), the fmt %v rendering of the
// record's data, with a raw ed25519 private key. No detached-signature library appears anywhere in the example pack
// (golang.org/x/crypto/nacl/sign only produces a signed-message envelope,
// which doesn't fit a separate oip.signature field), so this uses stdlib
// crypto/ed25519 directly.
type Ed25519Signer struct {
	PrivateKey ed25519.PrivateKey
}

func (s Ed25519Signer) Sign(rec *record.Record) (string, error) {
	if len(s.PrivateKey) == 0 {
		return "", nil
	}
	payload, err := canonicalPayload(rec)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.PrivateKey, payload)
	return hex.EncodeToString(sig), nil
}

func canonicalPayload(rec *record.Record) ([]byte, error) {
	return []byte(fmt.Sprintf("%v", rec.Data)), nil
}

// ExternalMirror is the third multi-destination target: a durable off-chain
// copy (spec §4.H, SPEC_FULL.md §2's S3 wiring).
type ExternalMirror interface {
	Mirror(ctx context.Context, rec *record.Record) (gatewayRef string, err error)
}

// Options carries the synchronous-publish knobs (spec §4.H step 4).
type Options struct {
	Storage           string // "arweave" | "gun"
	WaitConfirmations int
	AckTimeout        time.Duration
	LocalID           string // caller-supplied local id, else content hash, else timestamp (step 2)
}

// DestinationResult mirrors jobs.DestinationResult for the synchronous and
// multi-destination call paths.
type DestinationResult = jobs.DestinationResult

// Engine wires the two storage adapters, the external mirror, the Index
// Store, the Template Registry, and the Job Tracker into the publish
// operations spec §4.H defines.
type Engine struct {
	Chain     adapter.Adapter
	Peer      adapter.Adapter
	Mirror    ExternalMirror
	Store     *store.Store
	Templates *template.Registry
	Jobs      *jobs.Tracker
	Signer    Signer

	log *logging.Fields
}

func New(chain, peer adapter.Adapter, mirror ExternalMirror, st *store.Store, templates *template.Registry, tracker *jobs.Tracker, signer Signer) *Engine {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &Engine{Chain: chain, Peer: peer, Mirror: mirror, Store: st, Templates: templates, Jobs: tracker, Signer: signer, log: logging.New("publish")}
}

// Publish runs the synchronous pipeline (spec §4.H steps 1-5) against a
// single destination's adapter.
func (e *Engine) Publish(ctx context.Context, rec *record.Record, creator record.Creator, opts Options) (string, error) {
	if violations := e.Templates.ValidateRecord(rec); len(violations) > 0 {
		return "", errs.Validation(violations[0].String(), nil)
	}

	rec.OIP.Creator = creator
	rec.OIP.Ver = "0.1"
	rec.OIP.Storage = opts.Storage

	assignLocalDID(rec, opts)

	sig, err := e.Signer.Sign(rec)
	if err != nil {
		return "", errs.Validation("signing failed", err)
	}
	rec.OIP.Signature = sig

	ad, err := e.adapterFor(opts.Storage)
	if err != nil {
		return "", err
	}

	did, err := ad.Put(ctx, rec, adapter.PutOptions{WaitConfirmations: opts.WaitConfirmations, AckTimeout: opts.AckTimeout})
	if err != nil {
		return "", err
	}
	rec.OIP.Did = did

	rec.OIP.IndexedAt = time.Now().UTC()
	if err := e.Store.Documents.PutRecord(ctx, rec); err != nil {
		e.log.Warnf("pre-index failed for %s, sync will reconcile later: %v", did, err)
	}

	return did, nil
}

func (e *Engine) adapterFor(storage string) (adapter.Adapter, error) {
	switch storage {
	case "arweave":
		if e.Chain == nil {
			return nil, errs.Validation("blockchain adapter not configured", nil)
		}
		return e.Chain, nil
	case "gun":
		if e.Peer == nil {
			return nil, errs.Validation("peer-graph adapter not configured", nil)
		}
		return e.Peer, nil
	default:
		return nil, errs.Validation("unknown storage backend: "+storage, nil)
	}
}

// assignLocalDID implements spec §4.H step 2 for the mutable peer-graph
// backend: caller-supplied localId, else content hash, else timestamp.
// Arweave DIDs are always derived from the submitted transaction's id by
// the adapter itself after confirmation, so this is a no-op there.
func assignLocalDID(rec *record.Record, opts Options) {
	if opts.Storage != "gun" {
		return
	}
	publisher := rec.OIP.Creator.PublicKey
	if publisher == "" {
		return
	}
	switch {
	case opts.LocalID != "":
		rec.OIP.Did = "did:gun:" + publisher + ":" + opts.LocalID
	default:
		if hash := contentHash(rec); hash != "" {
			rec.OIP.Did = "did:gun:" + publisher + ":h:" + hash
		} else {
			rec.OIP.Did = "did:gun:" + publisher + ":" + fmt.Sprintf("%d", time.Now().UnixNano())
		}
	}
}

func contentHash(rec *record.Record) string {
	payload, err := canonicalPayload(rec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:32]
}

// StartAsync implements spec §6.2's `POST /records/newRecord/async`
// contract: it allocates a jobId, registers the job, launches the pipeline
// in the background, and returns immediately so the caller can hand back
// {jobId, statusUrl} without waiting on the pipeline.
func (e *Engine) StartAsync(ctx context.Context, userID string, rec *record.Record, creator record.Creator, opts Options) *jobs.Job {
	jobID := uuid.NewString()
	job := e.Jobs.Create(jobID, userID, "newRecord")
	go e.PublishAsync(ctx, jobID, rec, creator, opts)
	return job
}

// PublishAsync implements spec §4.H's asynchronous mode: the caller gets a
// jobId immediately; the pipeline runs in the background, updating the Job
// at each step, cooperatively checking for cancellation between them.
func (e *Engine) PublishAsync(ctx context.Context, jobID string, rec *record.Record, creator record.Creator, opts Options) {
	e.Jobs.Update(jobID, "validating", 10)
	if violations := e.Templates.ValidateRecord(rec); len(violations) > 0 {
		e.Jobs.Fail(jobID, errs.Validation(violations[0].String(), nil))
		return
	}
	if e.Jobs.IsCancelled(jobID) {
		return
	}

	rec.OIP.Creator = creator
	rec.OIP.Ver = "0.1"
	rec.OIP.Storage = opts.Storage
	assignLocalDID(rec, opts)

	e.Jobs.Update(jobID, "signing", 30)
	sig, err := e.Signer.Sign(rec)
	if err != nil {
		e.Jobs.Fail(jobID, errs.Validation("signing failed", err))
		return
	}
	rec.OIP.Signature = sig
	if e.Jobs.IsCancelled(jobID) {
		return
	}

	ad, err := e.adapterFor(opts.Storage)
	if err != nil {
		e.Jobs.Fail(jobID, err)
		return
	}

	e.Jobs.Update(jobID, "publishing", 60)
	did, err := ad.Put(ctx, rec, adapter.PutOptions{WaitConfirmations: opts.WaitConfirmations, AckTimeout: opts.AckTimeout})
	if err != nil {
		e.Jobs.Fail(jobID, err)
		return
	}
	rec.OIP.Did = did
	if e.Jobs.IsCancelled(jobID) {
		return
	}

	e.Jobs.Update(jobID, "indexing", 90)
	rec.OIP.IndexedAt = time.Now().UTC()
	if err := e.Store.Documents.PutRecord(ctx, rec); err != nil {
		e.log.Warnf("pre-index failed for %s, sync will reconcile later: %v", did, err)
	}

	e.Jobs.Complete(jobID, did, nil)
}

// PublishMulti implements spec §4.H's multi-destination mode: each
// requested destination runs concurrently via errgroup; overall status is
// success/partial/failed depending on the per-destination outcomes.
func (e *Engine) PublishMulti(ctx context.Context, rec *record.Record, creator record.Creator, destinations []Destination, opts Options) (string, []DestinationResult) {
	results := make([]DestinationResult, len(destinations))

	g, gctx := errgroup.WithContext(ctx)
	for i, dest := range destinations {
		i, dest := i, dest
		g.Go(func() error {
			results[i] = e.publishToDestination(gctx, dest, rec.Clone(), creator, opts)
			return nil
		})
	}
	_ = g.Wait() // per-destination errors are captured in results, never propagated

	return aggregateStatus(results), results
}

func (e *Engine) publishToDestination(ctx context.Context, dest Destination, rec *record.Record, creator record.Creator, opts Options) DestinationResult {
	switch dest {
	case DestBlockchain:
		did, err := e.Publish(ctx, rec, creator, Options{Storage: "arweave", WaitConfirmations: opts.WaitConfirmations})
		return toResult(string(dest), did, err, "blockchain")
	case DestPeerGraph:
		did, err := e.Publish(ctx, rec, creator, Options{Storage: "gun", AckTimeout: opts.AckTimeout, LocalID: opts.LocalID})
		return toResult(string(dest), did, err, "peer-graph")
	case DestExternalMirror:
		if e.Mirror == nil {
			return DestinationResult{Destination: string(dest), Status: "failed", Error: "external mirror not configured", Gateway: "external-mirror"}
		}
		ref, err := e.Mirror.Mirror(ctx, rec)
		return toResult(string(dest), ref, err, "external-mirror")
	default:
		return DestinationResult{Destination: string(dest), Status: "failed", Error: "unknown destination", Gateway: string(dest)}
	}
}

func toResult(dest, did string, err error, gateway string) DestinationResult {
	if err != nil {
		return DestinationResult{Destination: dest, Status: "failed", Error: err.Error(), Gateway: gateway}
	}
	return DestinationResult{Destination: dest, Status: "success", DID: did, Gateway: gateway}
}

func aggregateStatus(results []DestinationResult) string {
	success, failed := 0, 0
	for _, r := range results {
		if r.Status == "success" {
			success++
		} else {
			failed++
		}
	}
	switch {
	case success == 0:
		return "failed"
	case failed == 0:
		return "success"
	default:
		return "partial"
	}
}
