package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements GraphRepository with a REFERENCES relationship
// (SPEC_FULL.md §3 supplement) between record DIDs, so didTxRef queries
// (spec §4.G family 1: "records whose data references the given DID
// anywhere in any field, recursively") don't require a brute-force scan of
// every record's data. Grounded on db/repository/neo4j.go's driver setup
// and MERGE-based upsert shape, generalized from its REQUIRES relationship
// to REFERENCES.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jStore(uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jStore{driver: driver}, nil
}

// UpsertReferences replaces fromDID's outgoing REFERENCES edges with
// exactly toDIDs, called by blockwalk's index path whenever a
// record is (re-)indexed, after dref fields have been extracted from its
// data.
func (s *Neo4jStore) UpsertReferences(ctx context.Context, fromDID string, toDIDs []string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (r:Record {did: $did})
			WITH r
			MATCH (r)-[rel:REFERENCES]->()
			DELETE rel
		`, map[string]any{"did": fromDID}); err != nil {
			return nil, err
		}
		for _, to := range toDIDs {
			if _, err := tx.Run(ctx, `
				MERGE (a:Record {did: $from})
				MERGE (b:Record {did: $to})
				MERGE (a)-[:REFERENCES]->(b)
			`, map[string]any{"from": fromDID, "to": to}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Neo4jStore) DeleteReferences(ctx context.Context, fromDID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (r:Record {did: $did})-[rel:REFERENCES]->()
			DELETE rel
		`, map[string]any{"did": fromDID})
		return nil, err
	})
	return err
}

// FindReferencing returns DIDs of records that reference targetDID,
// recursively through the graph (variable-length REFERENCES path),
// matching spec §4.G's "recursively" requirement for didTxRef.
func (s *Neo4jStore) FindReferencing(ctx context.Context, targetDID string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (r:Record)-[:REFERENCES*1..5]->(t:Record {did: $did})
			RETURN DISTINCT r.did AS did
		`, map[string]any{"did": targetDID})
		if err != nil {
			return nil, err
		}
		var dids []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("did"); ok {
				if s, ok := v.(string); ok {
					dids = append(dids, s)
				}
			}
		}
		return dids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	dids, _ := result.([]string)
	return dids, nil
}
