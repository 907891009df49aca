package repository

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jFollowGraph : le graphe social (User)-[:FOLLOWS]->(User)
type Neo4jFollowGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jFollowGraph(driver neo4j.DriverWithContext) *Neo4jFollowGraph {
	return &Neo4jFollowGraph{driver: driver}
}

// EnsureSchema crée la contrainte d'unicité (et donc l'index) sur User.id
func (g *Neo4jFollowGraph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`
		_, err := tx.Run(ctx, query, nil)
		return nil, err
	})
	return err
}

func (g *Neo4jFollowGraph) Following(ctx context.Context, userID string) ([]string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (:User {id: $userId})-[:FOLLOWS]->(f:User) RETURN f.id AS followingId`
		res, err := tx.Run(ctx, query, map[string]any{"userId": userID})
		if err != nil {
			return nil, err
		}

		ids := []string{}
		for res.Next(ctx) {
			if id, ok := res.Record().Get("followingId"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (g *Neo4jFollowGraph) Follow(ctx context.Context, followerID, followingID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// MERGE : idempotent
		query := `
			MERGE (a:User {id: $followerId})
			MERGE (b:User {id: $followingId})
			MERGE (a)-[r:FOLLOWS]->(b)
			ON CREATE SET r.created_at = datetime()
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"followerId":  followerID,
			"followingId": followingID,
		})
		return nil, err
	})
	return err
}

func (g *Neo4jFollowGraph) Unfollow(ctx context.Context, followerID, followingID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (:User {id: $followerId})-[r:FOLLOWS]->(:User {id: $followingId})
			DELETE r
		`
		_, err := tx.Run(ctx, query, map[string]any{"followerId": followerID, "followingId": followingID})
		return nil, err
	})
	return err
}
