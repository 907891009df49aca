package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// CacheStore : clé/valeur avec expiration par entrée.
// Une clé absente n'est pas une erreur : ("", false, nil).
// Les pannes de connexion remontent domain.ErrStoreUnavailable.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SourceQuery : la source de vérité (Postgres)
type SourceQuery interface {
	// QueryFeed renvoie les posts de la partition, created_at DESC
	QueryFeed(ctx context.Context, scope domain.FeedScope, filter domain.FeedFilter, limit, offset int) ([]*domain.Post, error)

	// QueryPostByID renvoie domain.ErrNotFound si la ligne n'existe pas
	QueryPostByID(ctx context.Context, postID string) (*domain.Post, error)

	// QueryUserLikesAndBookmarks : une seule recherche groupée pour toute la page
	QueryUserLikesAndBookmarks(ctx context.Context, userID string, postIDs []string) (domain.Engagement, error)
}

// FollowGraph : relations d'abonnement (Postgres ou Neo4j)
type FollowGraph interface {
	Following(ctx context.Context, userID string) ([]string, error)
	Follow(ctx context.Context, followerID, followingID string) error
	Unfollow(ctx context.Context, followerID, followingID string) error
}

// PostWriter : chemin d'écriture vers la source de vérité
type PostWriter interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	DeletePost(ctx context.Context, postID string) (*domain.PostRow, error)
	PostOwner(ctx context.Context, postID string) (string, error)

	ToggleLike(ctx context.Context, postID, userID string) (bool, error)
	ToggleBookmark(ctx context.Context, postID, userID string) (bool, error)
}

// ChangePublisher publie les ChangeEvent après une écriture
type ChangePublisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// CacheMetrics : compteurs du cache (Prometheus en prod, Nop en test)
type CacheMetrics interface {
	Hit(view string)
	Miss(view string)
	StoreError(op string)
	Invalidated(table string, keys int)
}

type NopMetrics struct{}

func (NopMetrics) Hit(string)              {}
func (NopMetrics) Miss(string)             {}
func (NopMetrics) StoreError(string)       {}
func (NopMetrics) Invalidated(string, int) {}
