package graph

import (
	"context"
	"fmt"

	"feed_server/core/port/out"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// FollowGraphAdapter implements out.FollowRepository on a
// (:Account)-[:FOLLOWS]->(:Account) graph.
type FollowGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewFollowGraphAdapter creates a new Neo4j follow adapter.
func NewFollowGraphAdapter(driver neo4j.DriverWithContext, dbName string) *FollowGraphAdapter {
	return &FollowGraphAdapter{
		driver: driver,
		dbName: dbName,
	}
}

// EnsureIndexes creates the account id constraint.
func (a *FollowGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `CREATE CONSTRAINT account_id_unique IF NOT EXISTS FOR (a:Account) REQUIRE a.id IS UNIQUE`
	if _, err := session.Run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to create account constraint: %w", err)
	}
	return nil
}

// FollowedIDs returns the ids followerID follows.
func (a *FollowGraphAdapter) FollowedIDs(ctx context.Context, followerID int64) ([]int64, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	query := `
		MATCH (:Account {id: $followerID})-[:FOLLOWS]->(followed:Account)
		RETURN followed.id AS id
		ORDER BY id
	`

	result, err := session.Run(ctx, query, map[string]any{"followerID": followerID})
	if err != nil {
		return nil, fmt.Errorf("failed to get followed accounts: %w", err)
	}

	var ids []int64
	for result.Next(ctx) {
		value, ok := result.Record().Get("id")
		if !ok {
			continue
		}
		if id, ok := value.(int64); ok {
			ids = append(ids, id)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read followed accounts: %w", err)
	}
	return ids, nil
}

// Follow merges the relationship and reports whether it was created.
func (a *FollowGraphAdapter) Follow(ctx context.Context, followerID, followedID int64) (bool, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MERGE (follower:Account {id: $followerID})
		MERGE (followed:Account {id: $followedID})
		MERGE (follower)-[r:FOLLOWS]->(followed)
		ON CREATE SET r.created_at = datetime()
	`

	result, err := session.Run(ctx, query, map[string]any{
		"followerID": followerID,
		"followedID": followedID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create follow: %w", err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create follow: %w", err)
	}
	return summary.Counters().RelationshipsCreated() > 0, nil
}

// Unfollow deletes the relationship and reports whether it existed.
func (a *FollowGraphAdapter) Unfollow(ctx context.Context, followerID, followedID int64) (bool, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MATCH (:Account {id: $followerID})-[r:FOLLOWS]->(:Account {id: $followedID})
		DELETE r
	`

	result, err := session.Run(ctx, query, map[string]any{
		"followerID": followerID,
		"followedID": followedID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}
	return summary.Counters().RelationshipsDeleted() > 0, nil
}

var _ out.FollowRepository = (*FollowGraphAdapter)(nil)
