package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
)

// newPostInput porte les règles de validation sans polluer le domaine avec des tags
type newPostInput struct {
	AuthorID     string   `validate:"required"`
	Content      string   `validate:"required_without_all=ImageURLs VideoURL,max=5000"`
	ImageURLs    []string `validate:"max=10,dive,url"`
	VideoURL     string   `validate:"omitempty,url"`
	CommunityTag string   `validate:"omitempty,oneof='Anyone' 'Campus Only' 'Followers only'"`
	CommunityID  string   `validate:"omitempty,max=64"`
}

type commandService struct {
	writer    ports.PostWriter
	graph     ports.FollowGraph
	publisher ports.ChangePublisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewCommandService(writer ports.PostWriter, graph ports.FollowGraph, pub ports.ChangePublisher) ports.CommandService {
	return &commandService{
		writer:    writer,
		graph:     graph,
		publisher: pub,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *commandService) CreatePost(ctx context.Context, cmd domain.NewPost) (*domain.Post, error) {
	cmd.Content = strings.TrimSpace(cmd.Content)
	input := newPostInput{
		AuthorID:     cmd.AuthorID,
		Content:      cmd.Content,
		ImageURLs:    cmd.ImageURLs,
		VideoURL:     cmd.VideoURL,
		CommunityTag: cmd.CommunityTag,
		CommunityID:  cmd.CommunityID,
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	tag := cmd.CommunityTag
	if tag == "" && cmd.CommunityID == "" {
		tag = domain.TagAnyone
	}

	post := &domain.Post{
		ID:           uuid.New().String(),
		AuthorID:     cmd.AuthorID,
		Content:      cmd.Content,
		ImageURLs:    cmd.ImageURLs,
		VideoURL:     cmd.VideoURL,
		CommunityTag: tag,
		CommunityID:  cmd.CommunityID,
		IsAnonymous:  cmd.IsAnonymous,
		CreatedAt:    s.now(),
	}

	// 1. Sauvegarde DB (Source of Truth)
	if err := s.writer.CreatePost(ctx, post); err != nil {
		return nil, err
	}

	// 2. Publication de l'événement (déclenche l'invalidation)
	s.publish(ctx, domain.TablePosts, domain.OpInsert, domain.PostRow{
		ID:           post.ID,
		UserID:       post.AuthorID,
		CommunityID:  post.CommunityID,
		CommunityTag: post.CommunityTag,
		IsOfficial:   post.IsOfficial,
	})

	post.IsOwn = true
	return post, nil
}

func (s *commandService) DeletePost(ctx context.Context, postID, userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}

	owner, err := s.writer.PostOwner(ctx, postID)
	if err != nil {
		return err
	}
	// Seul l'auteur peut supprimer
	if owner != userID {
		return domain.ErrForbidden
	}

	row, err := s.writer.DeletePost(ctx, postID)
	if err != nil {
		return err
	}
	s.publish(ctx, domain.TablePosts, domain.OpDelete, row)
	return nil
}

func (s *commandService) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrUnauthenticated
	}
	liked, err := s.writer.ToggleLike(ctx, postID, userID)
	if err != nil {
		return false, err
	}

	op := domain.OpInsert
	if !liked {
		op = domain.OpDelete
	}
	s.publish(ctx, domain.TableLikes, op, domain.LikeRow{PostID: postID, UserID: userID})
	return liked, nil
}

// Les bookmarks ne sont jamais en cache : pas d'événement à publier
func (s *commandService) ToggleBookmark(ctx context.Context, postID, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrUnauthenticated
	}
	return s.writer.ToggleBookmark(ctx, postID, userID)
}

func (s *commandService) Follow(ctx context.Context, followerID, followingID string) error {
	if err := checkFollowIDs(followerID, followingID); err != nil {
		return err
	}
	if err := s.graph.Follow(ctx, followerID, followingID); err != nil {
		return err
	}
	s.publish(ctx, domain.TableFollows, domain.OpInsert, domain.FollowRow{FollowerID: followerID, FollowingID: followingID})
	return nil
}

func (s *commandService) Unfollow(ctx context.Context, followerID, followingID string) error {
	if err := checkFollowIDs(followerID, followingID); err != nil {
		return err
	}
	if err := s.graph.Unfollow(ctx, followerID, followingID); err != nil {
		return err
	}
	s.publish(ctx, domain.TableFollows, domain.OpDelete, domain.FollowRow{FollowerID: followerID, FollowingID: followingID})
	return nil
}

func checkFollowIDs(followerID, followingID string) error {
	if followerID == "" {
		return domain.ErrUnauthenticated
	}
	if followingID == "" {
		return fmt.Errorf("%w: target user id is required", domain.ErrInvalidInput)
	}
	if followerID == followingID {
		return fmt.Errorf("%w: cannot follow yourself", domain.ErrInvalidInput)
	}
	return nil
}

// publish : best effort. La donnée est déjà sauvée, on ne fait pas échouer
// la requête ; le TTL borne l'obsolescence si l'événement se perd.
func (s *commandService) publish(ctx context.Context, table domain.Table, op domain.Operation, row any) {
	event, err := domain.NewChangeEvent(table, op, row)
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		slog.ErrorContext(ctx, "❌ Failed to publish change event", "table", table, "op", op, "error", err)
	}
}
