// Package config loads indexd's configuration from environment variables.
// The recognized key set is closed (spec §6.5); unrecognized INDEXD_* keys
// are logged at warn and ignored rather than rejected, matching the
// teacher's env-first configuration idiom (config/config.go in the example
// pack) rather than adopting a file/remote config layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"oip.network/indexd/logging"
)

// env reads a single environment variable with an optional name prefix,
// mirroring the teacher's EnvConfig.buildKey pattern.
type env struct {
	prefix string
}

func (e env) key(k string) string {
	if e.prefix == "" {
		return k
	}
	return e.prefix + "_" + k
}

func (e env) str(k, def string) string {
	if v := os.Getenv(e.key(k)); v != "" {
		return v
	}
	return def
}

func (e env) duration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(e.key(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func (e env) integer(k string, def int) int {
	if v := os.Getenv(e.key(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e env) stringSlice(k string, def []string) []string {
	v := os.Getenv(e.key(k))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Config is the closed set of recognized options from spec §6.5.
type Config struct {
	BlockchainGatewayURL string
	PeerList             []string
	PeerSyncInterval     time.Duration
	HTTPClientRecycle    time.Duration
	QueryDefaultLimit    int
	QueryMaxResolveDepth int
	JobTTL               time.Duration
	PrivateKeyPath       string
	SystemTag            string

	// Domain-stack backend DSNs (SPEC_FULL.md §2); not part of spec.md's
	// closed key list but required to construct the Index Store composite.
	CouchDBURL  string
	PostgresDSN string
	RedisURL    string
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	S3Endpoint  string
	S3Bucket    string

	LogLevel  string
	LogFormat string
}

// recognizedKeys is the closed set; anything else under the INDEXD_ prefix
// triggers the startup warning required by spec §6.5.
var recognizedKeys = map[string]bool{
	"BLOCKCHAIN_GATEWAY_URL":  true,
	"PEER_LIST":               true,
	"PEER_SYNC_INTERVAL_MS":   true,
	"HTTP_CLIENT_RECYCLE_MS":  true,
	"QUERY_DEFAULT_LIMIT":     true,
	"QUERY_MAX_RESOLVE_DEPTH": true,
	"JOB_TTL_MS":              true,
	"PRIVATE_KEY_PATH":        true,
	"SYSTEM_TAG":              true,
	"COUCHDB_URL":             true,
	"POSTGRES_DSN":            true,
	"REDIS_URL":               true,
	"NEO4J_URL":               true,
	"NEO4J_USER":              true,
	"NEO4J_PASS":              true,
	"S3_ENDPOINT":             true,
	"S3_BUCKET":               true,
	"LOG_LEVEL":               true,
	"LOG_FORMAT":              true,
}

const prefix = "INDEXD"

// Load builds a Config from the process environment, warning (not failing)
// on any INDEXD_* key it does not recognize.
func Load() *Config {
	warnUnknownKeys()

	e := env{prefix: prefix}
	return &Config{
		BlockchainGatewayURL: e.str("BLOCKCHAIN_GATEWAY_URL", ""),
		PeerList:             e.stringSlice("PEER_LIST", nil),
		PeerSyncInterval:     e.duration("PEER_SYNC_INTERVAL_MS", 15*time.Minute),
		HTTPClientRecycle:    e.duration("HTTP_CLIENT_RECYCLE_MS", 30*time.Minute),
		QueryDefaultLimit:    e.integer("QUERY_DEFAULT_LIMIT", 20),
		QueryMaxResolveDepth: e.integer("QUERY_MAX_RESOLVE_DEPTH", 5),
		JobTTL:               e.duration("JOB_TTL_MS", 24*time.Hour),
		PrivateKeyPath:       e.str("PRIVATE_KEY_PATH", ""),
		SystemTag:            e.str("SYSTEM_TAG", "indexd"),

		CouchDBURL:  e.str("COUCHDB_URL", "http://localhost:5984"),
		PostgresDSN: e.str("POSTGRES_DSN", ""),
		RedisURL:    e.str("REDIS_URL", "redis://localhost:6379/0"),
		Neo4jURL:    e.str("NEO4J_URL", ""),
		Neo4jUser:   e.str("NEO4J_USER", "neo4j"),
		Neo4jPass:   e.str("NEO4J_PASS", ""),
		S3Endpoint:  e.str("S3_ENDPOINT", ""),
		S3Bucket:    e.str("S3_BUCKET", ""),

		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "text"),
	}
}

func warnUnknownKeys() {
	log := logging.New("config")
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		key := parts[0]
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		bare := strings.TrimPrefix(key, prefix+"_")
		if !recognizedKeys[bare] {
			log.Warnf("unrecognized config key %s ignored", key)
		}
	}
}

// Validator accumulates field validation errors, mirroring the teacher's
// config.Validator so startup can report every problem at once instead of
// failing on the first.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, field+" is required")
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, field+" must be positive")
	}
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []string { return v.errors }

func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// Validate checks the loaded config against the invariants the rest of the
// system relies on (positive limits, sane depth cap).
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequirePositiveInt("QueryDefaultLimit", c.QueryDefaultLimit)
	v.RequirePositiveInt("QueryMaxResolveDepth", c.QueryMaxResolveDepth)
	if c.QueryMaxResolveDepth > 5 {
		v.errors = append(v.errors, "QueryMaxResolveDepth must not exceed the hard cap of 5")
	}
	return v.Validate()
}
