// Package peeradapter implements the Peer-Graph Storage Adapter (spec
// §4.C.2): a mutable, private, encrypted backend keyed by soul
// (publisher+local-id or publisher+content-hash). It implements
// adapter.Adapter; Since is deliberately not native here — per-peer
// iteration is implemented by peersync, not by this adapter.
package peeradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"oip.network/indexd/adapter"
	"oip.network/indexd/errs"
	"oip.network/indexd/logging"
	"oip.network/indexd/record"
)

// negativeLookupTTL is the minimum window spec §4.C.2 requires for caching
// 404s from peers, to avoid amplifying retry storms.
const negativeLookupTTL = 60 * time.Second

// defaultAckTimeout is the wall-clock bound spec §4.C.2 sets on a peer put
// ack before the write is considered failed.
const defaultAckTimeout = 60 * time.Second

// sealedTemplateKey is the reserved record.Data key Get stashes an
// encrypted record's raw ciphertext under, until Decrypt opens it.
const sealedTemplateKey = "_sealed"

// Graph is the wire contract to a single peer-graph node (itself, for local
// writes, or a remote trusted peer for reads during sync). souls are
// opaque strings; Flatten/Unflatten handle the JSON-string array codec at
// this boundary (spec §4.C.2's "arrays are transported as JSON strings").
type Graph interface {
	// ReadSoul returns the raw wire record for soul, or nil if absent.
	ReadSoul(ctx context.Context, soul string) (map[string]any, error)
	// WriteSoul writes wire and invokes ack(err) when the peer acknowledges
	// (or errors). The adapter's Put bounds this with AckTimeout.
	WriteSoul(ctx context.Context, soul string, wire map[string]any, ack func(error)) error
}

// KeyDeriver derives a SEA-style shared symmetric key for encrypting a
// private payload from the owner's secret and a reader's public key.
// NaclKeyDeriver (crypto.go) is the production implementation; tests use a
// fake.
type KeyDeriver interface {
	DeriveKey(ownerSecret, readerPublicKey string) ([]byte, error)
}

// Cipher performs the actual symmetric seal/open once a key is derived.
type Cipher interface {
	Seal(key []byte, plaintext []byte) ([]byte, error)
	Open(key []byte, ciphertext []byte) ([]byte, error)
}

// Cache is the negative-lookup + generic cache surface this adapter needs,
// satisfied by a thin wrapper over redis.Client (grounded on
// db/repository/redis.go's SetCache/GetCache/AcquireLock idiom).
type Cache interface {
	MarkMissing(ctx context.Context, soul string, ttl time.Duration) error
	IsMissing(ctx context.Context, soul string) (bool, error)
}

// RedisCache is the production Cache, a thin wrapper over go-redis.
type RedisCache struct {
	Client *redis.Client
}

func (c *RedisCache) MarkMissing(ctx context.Context, soul string, ttl time.Duration) error {
	return c.Client.Set(ctx, "peeradapter:404:"+soul, "1", ttl).Err()
}

func (c *RedisCache) IsMissing(ctx context.Context, soul string) (bool, error) {
	n, err := c.Client.Exists(ctx, "peeradapter:404:"+soul).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Adapter implements adapter.Adapter over a local Graph.
type Adapter struct {
	Graph      Graph
	Cache      Cache
	KeyDeriver KeyDeriver
	Cipher     Cipher
	OwnerSecret string // this node's signing/encryption secret, for private writes
	log        *logging.Fields
}

func New(g Graph, cache Cache, kd KeyDeriver, cipher Cipher, ownerSecret string) *Adapter {
	return &Adapter{Graph: g, Cache: cache, KeyDeriver: kd, Cipher: cipher, OwnerSecret: ownerSecret, log: logging.New("peeradapter")}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Get reads the soul for did, honoring the negative-lookup cache (spec
// §4.C.2: MUST cache negative lookups for ≥60s). Decryption happens if and
// only if the caller is the owner and supplies a matching secret: when this
// adapter was constructed with a non-empty OwnerSecret (this node's own
// key), Get attempts Decrypt automatically for private records. A caller
// without the matching secret — or this node reading a peer's private
// record it doesn't own — simply gets the record back still sealed under
// Data["_sealed"], exactly as if Decrypt had never been called.
func (a *Adapter) Get(ctx context.Context, did string) (*record.Record, error) {
	parsed, ok := record.ParseDID(did)
	if !ok || parsed.Method != record.MethodGun {
		return nil, errs.NotFound(did)
	}
	soul := parsed.ID

	if missing, err := a.Cache.IsMissing(ctx, soul); err == nil && missing {
		return nil, errs.NotFound(did)
	}

	wire, err := a.Graph.ReadSoul(ctx, soul)
	if err != nil {
		return nil, errs.UpstreamUnavailable("peer-graph", err)
	}
	if wire == nil {
		if err := a.Cache.MarkMissing(ctx, soul, negativeLookupTTL); err != nil {
			a.log.Warnf("failed to cache negative lookup for %s: %v", soul, err)
		}
		return nil, errs.NotFound(did)
	}

	rec, err := unflattenRecord(wire)
	if err != nil {
		return nil, errs.Validation("malformed peer-graph record", err)
	}
	rec.OIP.Did = did
	rec.OIP.Storage = "gun"

	if rec.AccessControl != nil && rec.AccessControl.IsPrivate() && a.OwnerSecret != "" {
		if err := a.Decrypt(rec, a.OwnerSecret); err != nil {
			a.log.Warnf("could not decrypt private record %s: %v", did, err)
		}
	}
	return rec, nil
}

// Put writes a record to its soul, blocking on an ack with a timeout of
// opts.AckTimeout, or 60s when that is unset (spec §4.C.2 and the Open Question decision recorded in
// DESIGN.md: ack-with-timeout, not fire-and-forget). Private records are
// encrypted before the write.
func (a *Adapter) Put(ctx context.Context, rec *record.Record, opts adapter.PutOptions) (string, error) {
	timeout := opts.AckTimeout
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}

	soul, err := soulFor(rec)
	if err != nil {
		return "", errs.Validation("cannot derive soul", err)
	}

	wire, err := flattenRecord(rec)
	if err != nil {
		return "", errs.Validation("record does not flatten for peer-graph transport", err)
	}

	if rec.AccessControl != nil && rec.AccessControl.IsPrivate() {
		if err := a.encryptInPlace(wire, rec.AccessControl.OwnerPublicKey); err != nil {
			return "", errs.Validation("encryption failed", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ackCh := make(chan error, 1)
	if err := a.Graph.WriteSoul(ctx, soul, wire, func(ackErr error) {
		select {
		case ackCh <- ackErr:
		default:
		}
	}); err != nil {
		return "", errs.UpstreamUnavailable("peer-graph", err)
	}

	select {
	case ackErr := <-ackCh:
		if ackErr != nil {
			return "", errs.UpstreamUnavailable("peer-graph", ackErr)
		}
		return "did:gun:" + soul, nil
	case <-ctx.Done():
		return "", errs.UpstreamUnavailable("peer-graph", fmt.Errorf("put ack timed out after %s", timeout))
	}
}

// Since is not native to the peer-graph adapter (spec §4.C.2); iteration is
// implemented per-peer by peersync instead.
func (a *Adapter) Since(ctx context.Context, cursor string) (<-chan adapter.SinceItem, error) {
	return nil, errs.Validation("peeradapter does not support Since; use peersync", nil)
}

// Tombstone writes a tombstone marker to the soul; the peer graph is
// mutable, so unlike the blockchain adapter this is a real delete, not a
// simulated one.
func (a *Adapter) Tombstone(ctx context.Context, did string, signer string) error {
	parsed, ok := record.ParseDID(did)
	if !ok || parsed.Method != record.MethodGun {
		return errs.NotFound(did)
	}
	wire := map[string]any{"tombstoned": true, "tombstonedBy": signer, "tombstonedAt": time.Now().UTC().Format(time.RFC3339)}

	ctx, cancel := context.WithTimeout(ctx, defaultAckTimeout)
	defer cancel()
	ackCh := make(chan error, 1)
	if err := a.Graph.WriteSoul(ctx, parsed.ID, wire, func(ackErr error) {
		select {
		case ackCh <- ackErr:
		default:
		}
	}); err != nil {
		return errs.UpstreamUnavailable("peer-graph", err)
	}
	select {
	case ackErr := <-ackCh:
		if ackErr != nil {
			return errs.UpstreamUnavailable("peer-graph", ackErr)
		}
		return nil
	case <-ctx.Done():
		return errs.UpstreamUnavailable("peer-graph", fmt.Errorf("tombstone ack timed out"))
	}
}

func soulFor(rec *record.Record) (string, error) {
	if rec.OIP.Did != "" {
		parsed, ok := record.ParseDID(rec.OIP.Did)
		if ok && parsed.Method == record.MethodGun {
			return parsed.ID, nil
		}
	}
	publisher := rec.OIP.Creator.PublicKey
	if publisher == "" {
		return "", fmt.Errorf("record has no creator public key to key a soul on")
	}
	return publisher + ":" + fmt.Sprintf("%d", time.Now().UnixNano()), nil
}

func (a *Adapter) encryptInPlace(wire map[string]any, readerPublicKey string) error {
	if a.KeyDeriver == nil || a.Cipher == nil {
		return fmt.Errorf("encryption requested but no KeyDeriver/Cipher configured")
	}
	key, err := a.KeyDeriver.DeriveKey(a.OwnerSecret, readerPublicKey)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(wire["data"])
	if err != nil {
		return err
	}
	cipherText, err := a.Cipher.Seal(key, plain)
	if err != nil {
		return err
	}
	wire["data"] = encodeCipherText(cipherText)
	if meta, ok := wire["meta"].(map[string]any); ok {
		meta["encrypted"] = true
	} else {
		wire["meta"] = map[string]any{"encrypted": true}
	}
	return nil
}

func encodeCipherText(b []byte) string {
	return "enc:" + string(b)
}

func decodeCipherText(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "enc:") {
		return nil, fmt.Errorf("not a sealed payload")
	}
	return []byte(strings.TrimPrefix(s, "enc:")), nil
}

// Decrypt reverses encryptInPlace for a record Get returned still sealed: it
// reads the ciphertext stashed under Data["_sealed"], derives the shared key
// from callerSecret and the record's owner public key, opens it via Cipher,
// and replaces Data with the recovered field map (array fields decoded back
// from their JSON-string wire form the same way unflattenRecord does for an
// unencrypted record). Per spec §4.C.2, Decrypt performs only the
// cryptographic open — verifying that callerSecret actually belongs to the
// owner is the caller's responsibility. A record that isn't private, or
// carries no sealed payload, is returned unchanged.
func (a *Adapter) Decrypt(rec *record.Record, callerSecret string) error {
	if rec == nil || rec.AccessControl == nil || !rec.AccessControl.IsPrivate() {
		return nil
	}
	sealed, ok := rec.Data[sealedTemplateKey]
	if !ok {
		return nil
	}
	raw, _ := sealed["ciphertext"].(string)
	if raw == "" {
		return nil
	}
	if a.KeyDeriver == nil || a.Cipher == nil {
		return fmt.Errorf("decryption requested but no KeyDeriver/Cipher configured")
	}
	if callerSecret == "" {
		return errs.Validation("decrypting a private record requires a caller secret", nil)
	}

	cipherText, err := decodeCipherText(raw)
	if err != nil {
		return errs.Validation("malformed sealed payload", err)
	}
	key, err := a.KeyDeriver.DeriveKey(callerSecret, rec.AccessControl.OwnerPublicKey)
	if err != nil {
		return err
	}
	plain, err := a.Cipher.Open(key, cipherText)
	if err != nil {
		return errs.Validation("decryption failed", err)
	}

	var rawData map[string]any
	if err := json.Unmarshal(plain, &rawData); err != nil {
		return errs.Validation("decrypted payload is not valid JSON", err)
	}

	delete(rec.Data, sealedTemplateKey)
	for tmpl, rawFields := range rawData {
		fieldsMap, ok := rawFields.(map[string]any)
		if !ok {
			continue
		}
		fields := make(record.Fields, len(fieldsMap))
		for name, v := range fieldsMap {
			fields[name] = unflattenValue(v)
		}
		rec.Data[tmpl] = fields
	}
	return nil
}
