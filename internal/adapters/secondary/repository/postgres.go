package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// Codes SQLSTATE utiles
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Colonnes communes aux lectures de posts : auteur joint + compteurs
const postColumns = `
	p.id, p.user_id, p.content,
	COALESCE(p.image_urls, '{}'), COALESCE(p.video_url, ''),
	COALESCE(p.community_tag, ''), COALESCE(p.community_id::text, ''),
	p.is_official, p.is_anonymous, p.created_at,
	COALESCE(pr.full_name, ''), COALESCE(pr.username, ''),
	COALESCE(pr.avatar_url, ''), COALESCE(pr.college, ''),
	(SELECT count(*) FROM post_likes l WHERE l.post_id = p.id),
	(SELECT count(*) FROM post_comments c WHERE c.post_id = p.id)
`

// PostgresRepo est la source de vérité : lecture des partitions et chemin d'écriture
type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// QueryFeed : une page d'une partition, created_at DESC
func (r *PostgresRepo) QueryFeed(ctx context.Context, scope domain.FeedScope, filter domain.FeedFilter, limit, offset int) ([]*domain.Post, error) {
	where, args, err := partitionClause(scope, filter)
	if err != nil {
		return nil, err
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT %s
		FROM posts p
		JOIN profiles pr ON pr.id = p.user_id
		WHERE %s
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $%d OFFSET $%d
	`, postColumns, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	posts := make([]*domain.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *PostgresRepo) QueryPostByID(ctx context.Context, postID string) (*domain.Post, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM posts p
		JOIN profiles pr ON pr.id = p.user_id
		WHERE p.id = $1
	`, postColumns)

	p, err := scanPost(r.db.QueryRow(ctx, query, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// QueryUserLikesAndBookmarks : une seule requête pour toute la page (ANY($2))
func (r *PostgresRepo) QueryUserLikesAndBookmarks(ctx context.Context, userID string, postIDs []string) (domain.Engagement, error) {
	engagement := domain.NewEngagement()
	if userID == "" || len(postIDs) == 0 {
		return engagement, nil
	}

	query := `
		SELECT post_id::text, 'like' FROM post_likes WHERE user_id = $1 AND post_id::text = ANY($2)
		UNION ALL
		SELECT post_id::text, 'bookmark' FROM bookmarks WHERE user_id = $1 AND post_id::text = ANY($2)
	`
	rows, err := r.db.Query(ctx, query, userID, postIDs)
	if err != nil {
		return engagement, fmt.Errorf("query engagement: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID, kind string
		if err := rows.Scan(&postID, &kind); err != nil {
			return engagement, err
		}
		if kind == "like" {
			engagement.Liked[postID] = struct{}{}
		} else {
			engagement.Bookmarked[postID] = struct{}{}
		}
	}
	return engagement, rows.Err()
}

// --- Écriture ---

func (r *PostgresRepo) CreatePost(ctx context.Context, post *domain.Post) error {
	q := `
		INSERT INTO posts (id, user_id, content, image_urls, video_url, community_tag, community_id, is_official, is_anonymous, created_at)
		VALUES (@id, @user_id, @content, @image_urls, @video_url, @community_tag, @community_id, @is_official, @is_anonymous, @created_at)
	`
	args := pgx.NamedArgs{
		"id":            post.ID,
		"user_id":       post.AuthorID,
		"content":       post.Content,
		"image_urls":    post.ImageURLs,
		"video_url":     nullable(post.VideoURL),
		"community_tag": nullable(post.CommunityTag),
		"community_id":  nullable(post.CommunityID),
		"is_official":   post.IsOfficial,
		"is_anonymous":  post.IsAnonymous,
		"created_at":    post.CreatedAt,
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return handleError(err)
	}
	return nil
}

// DeletePost renvoie la ligne supprimée pour l'événement d'invalidation
func (r *PostgresRepo) DeletePost(ctx context.Context, postID string) (*domain.PostRow, error) {
	q := `
		DELETE FROM posts WHERE id = $1
		RETURNING id, user_id, COALESCE(community_id::text, ''), COALESCE(community_tag, ''), is_official
	`
	var row domain.PostRow
	err := r.db.QueryRow(ctx, q, postID).Scan(&row.ID, &row.UserID, &row.CommunityID, &row.CommunityTag, &row.IsOfficial)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *PostgresRepo) PostOwner(ctx context.Context, postID string) (string, error) {
	var owner string
	err := r.db.QueryRow(ctx, `SELECT user_id FROM posts WHERE id = $1`, postID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return owner, nil
}

func (r *PostgresRepo) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	return r.toggle(ctx, "post_likes", postID, userID)
}

func (r *PostgresRepo) ToggleBookmark(ctx context.Context, postID, userID string) (bool, error) {
	return r.toggle(ctx, "bookmarks", postID, userID)
}

// toggle : supprime la ligne si elle existe, sinon l'insère. Renvoie le nouvel état.
func (r *PostgresRepo) toggle(ctx context.Context, table, postID, userID string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE post_id = $1 AND user_id = $2`, table), postID, userID)
	if err != nil {
		return false, err
	}

	active := false
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table), postID, userID)
		if err != nil {
			return false, handleError(err)
		}
		active = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return active, nil
}

// --- Helpers ---

// partitionClause traduit (scope, filtre) en clause WHERE. Doit rester
// cohérente avec domain.Partition : un post stocké satisfait exactement une clause.
func partitionClause(scope domain.FeedScope, filter domain.FeedFilter) (string, []any, error) {
	if err := scope.Validate(); err != nil {
		return "", nil, err
	}
	if !filter.AllowedIn(scope.Kind) {
		return "", nil, fmt.Errorf("%w: %q in %s scope", domain.ErrInvalidFilter, filter, scope.Kind)
	}

	campus := strings.ToLower(domain.TagCampusOnly)
	followers := strings.ToLower(domain.TagFollowersOnly)

	switch filter {
	case domain.FilterOfficial:
		return "p.community_id::text = $1 AND p.is_official = true", []any{scope.CommunityID}, nil
	case domain.FilterRegular:
		return "p.community_id::text = $1 AND p.is_official = false", []any{scope.CommunityID}, nil
	case domain.FilterCampusOnly:
		return "p.community_id IS NULL AND lower(trim(p.community_tag)) = $1", []any{campus}, nil
	case domain.FilterFollowersOnly:
		return "p.community_id IS NULL AND lower(trim(p.community_tag)) = $1", []any{followers}, nil
	default:
		// "Anyone", NULL ou tag inconnu
		return "p.community_id IS NULL AND (p.community_tag IS NULL OR lower(trim(p.community_tag)) NOT IN ($1, $2))",
			[]any{campus, followers}, nil
	}
}

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.Content,
		&p.ImageURLs, &p.VideoURL,
		&p.CommunityTag, &p.CommunityID,
		&p.IsOfficial, &p.IsAnonymous, &p.CreatedAt,
		&p.Author.DisplayName, &p.Author.Handle,
		&p.Author.AvatarURL, &p.Author.Affiliation,
		&p.Upvotes, &p.Comments,
	)
	if err != nil {
		return nil, err
	}
	p.Author.ID = p.AuthorID
	if p.Author.Handle != "" && !strings.HasPrefix(p.Author.Handle, "@") {
		p.Author.Handle = "@" + p.Author.Handle
	}
	if len(p.ImageURLs) == 0 {
		p.ImageURLs = nil
	}
	return &p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// handleError traduit les erreurs Postgres en erreurs du domaine
func handleError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return domain.ErrNotFound
		}
	}
	return err
}
