package store

import (
	"context"
	"fmt"

	"oip.network/indexd/logging"
)

// Config holds the DSNs for each backend. Grounded on
// db/repository/composite.go's Config/ConfigFromEnv shape.
type Config struct {
	CouchDBURL      string
	CouchDBUser     string
	CouchDBPassword string

	PostgresDSN string

	RedisURL string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string
}

// New builds a Store, initializing whichever backends have a non-empty
// DSN and leaving the rest nil (graceful degradation, per
// db/repository/composite.go's NewCompositeRepository).
func New(ctx context.Context, cfg Config) (*Store, error) {
	log := logging.New("store")
	s := &Store{}

	if cfg.CouchDBURL != "" {
		docs, err := NewCouchStore(ctx, cfg.CouchDBURL, cfg.CouchDBUser, cfg.CouchDBPassword)
		if err != nil {
			return nil, fmt.Errorf("couchdb: %w", err)
		}
		s.Documents = docs
	} else {
		log.Warn("COUCHDB_URL unset; document store disabled")
	}

	if cfg.PostgresDSN != "" {
		metrics, err := NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.Metrics = metrics
	} else {
		log.Warn("POSTGRES_DSN unset; metrics store disabled")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.Cache = cache
	} else {
		log.Warn("REDIS_URL unset; cache store disabled")
	}

	if cfg.Neo4jURL != "" {
		graph, err := NewNeo4jStore(cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		s.Graph = graph
	} else {
		log.Warn("NEO4J_URL unset; graph store disabled")
	}

	return s, nil
}
