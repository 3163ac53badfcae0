package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Statement is one parameterized Cypher query. Values are always bound
// through Params, never interpolated into Cypher.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Record is one result row keyed by the RETURN aliases.
type Record map[string]any

// Runner executes statements against a graph database.
type Runner interface {
	// Write runs all statements in order inside one write transaction.
	Write(ctx context.Context, stmts ...Statement) error
	// Read runs a single read query and collects its rows.
	Read(ctx context.Context, stmt Statement) ([]Record, error)
}

// Neo4jRunner implements Runner with the Neo4j driver.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, uri, username, password, database string) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect neo4j %s: %w", uri, err)
	}
	return &Neo4jRunner{driver: driver, database: database}, nil
}

func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Neo4jRunner) Write(ctx context.Context, stmts ...Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph write (%d statements): %w", len(stmts), err)
	}
	return nil
}

func (r *Neo4jRunner) Read(ctx context.Context, stmt Statement) ([]Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt.Cypher, stmt.Params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]Record, len(records))
		for i, rec := range records {
			rows[i] = rec.AsMap()
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph read: %w", err)
	}
	return out.([]Record), nil
}
