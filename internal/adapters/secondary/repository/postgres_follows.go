package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFollowGraph lit la table follows quand Neo4j n'est pas déployé
type PostgresFollowGraph struct {
	db *pgxpool.Pool
}

func NewPostgresFollowGraph(db *pgxpool.Pool) *PostgresFollowGraph {
	return &PostgresFollowGraph{db: db}
}

func (g *PostgresFollowGraph) Following(ctx context.Context, userID string) ([]string, error) {
	rows, err := g.db.Query(ctx, `SELECT following_id::text FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query following: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Follow est idempotent
func (g *PostgresFollowGraph) Follow(ctx context.Context, followerID, followingID string) error {
	_, err := g.db.Exec(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		followerID, followingID,
	)
	return handleError(err)
}

func (g *PostgresFollowGraph) Unfollow(ctx context.Context, followerID, followingID string) error {
	_, err := g.db.Exec(ctx, `DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`, followerID, followingID)
	return err
}
