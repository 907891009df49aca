package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---

type FeedService interface {
	// GetFeed : lecture read-through du feed (scope, filtre), personnalisée par requête
	GetFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedResult, error)

	// GetPost : lecture unitaire, même protocole avec la clé post:{id}
	GetPost(ctx context.Context, postID string, requester *domain.Requester) (*domain.PostResult, error)

	// HandleChange est appelé par le Change Notifier (NATS)
	HandleChange(ctx context.Context, event domain.ChangeEvent) error
}

type CommandService interface {
	CreatePost(ctx context.Context, cmd domain.NewPost) (*domain.Post, error)
	DeletePost(ctx context.Context, postID, userID string) error

	// Toggle : renvoie le nouvel état (true = liké / bookmarké)
	ToggleLike(ctx context.Context, postID, userID string) (bool, error)
	ToggleBookmark(ctx context.Context, postID, userID string) (bool, error)

	Follow(ctx context.Context, followerID, followingID string) error
	Unfollow(ctx context.Context, followerID, followingID string) error
}
