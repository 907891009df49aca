package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
)

const (
	DefaultPageSize     = 20
	DefaultFeedTTL      = 60 * time.Second
	DefaultPostTTL      = 300 * time.Second
	DefaultFollowingTTL = 60 * time.Second

	// Délai laissé à l'écriture du cache quand l'appelant est déjà parti
	populateTimeout = 2 * time.Second

	// Fenêtres de partition lues au plus pour remplir une page campus / abonnements
	maxAudienceWindows = 10
)

type Options struct {
	PageSize     int
	FeedTTL      time.Duration
	PostTTL      time.Duration
	FollowingTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		PageSize:     DefaultPageSize,
		FeedTTL:      DefaultFeedTTL,
		PostTTL:      DefaultPostTTL,
		FollowingTTL: DefaultFollowingTTL,
	}
}

// FeedService est le coordinateur du cache : read-through, TTL,
// personnalisation hors cache et invalidation sur événements.
// Il ne possède aucun état : tout passe par le store et la source.
type FeedService struct {
	store   ports.CacheStore
	source  ports.SourceQuery
	graph   ports.FollowGraph
	metrics ports.CacheMetrics
	opts    Options
	tracer  trace.Tracer
}

func NewFeedService(store ports.CacheStore, source ports.SourceQuery, graph ports.FollowGraph, metrics ports.CacheMetrics, opts Options) *FeedService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.FeedTTL <= 0 {
		opts.FeedTTL = def.FeedTTL
	}
	if opts.PostTTL <= 0 {
		opts.PostTTL = def.PostTTL
	}
	if opts.FollowingTTL <= 0 {
		opts.FollowingTTL = def.FollowingTTL
	}

	return &FeedService{
		store:   store,
		source:  source,
		graph:   graph,
		metrics: metrics,
		opts:    opts,
		tracer:  otel.Tracer("campus-feed"),
	}
}

func (s *FeedService) GetFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedResult, error) {
	key, err := domain.DeriveCacheKey(req.Scope, req.Filter)
	if err != nil {
		return nil, err
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	ctx, span := s.tracer.Start(ctx, "feed.get", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int("feed.offset", req.Offset),
	))
	defer span.End()

	var (
		posts []*domain.Post
		hit   bool
	)
	if audienceRestricted(req.Filter) {
		posts, hit, err = s.audienceFeed(ctx, key, req)
	} else {
		posts, hit, err = s.window(ctx, key, req, req.Offset)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feed read failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	// Personnalisation : par requête, jamais en cache
	s.personalize(ctx, req.Requester, posts)

	if req.Sort == domain.SortTrending {
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].Upvotes > posts[j].Upvotes
		})
	}

	return &domain.FeedResult{Posts: posts, Hit: hit}, nil
}

// window lit une page brute de la partition. Seul l'offset 0 passe par le cache.
func (s *FeedService) window(ctx context.Context, key string, req domain.FeedRequest, offset int) ([]*domain.Post, bool, error) {
	var posts []*domain.Post
	if offset == 0 && s.lookup(ctx, key, &posts) {
		s.metrics.Hit("feed")
		return clonePosts(posts), true, nil
	}
	s.metrics.Miss("feed")

	fetched, err := s.source.QueryFeed(ctx, req.Scope, req.Filter, s.opts.PageSize, offset)
	if err != nil {
		slog.ErrorContext(ctx, "❌ Feed source query failed", "key", key, "offset", offset, "error", err)
		return nil, false, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	if fetched == nil {
		fetched = []*domain.Post{}
	}
	if offset == 0 {
		s.populate(ctx, key, fetched, s.opts.FeedTTL)
	}
	return clonePosts(fetched), false, nil
}

// audienceFeed remplit une page des vues campus / abonnements. Le cache garde
// la première fenêtre brute de la partition ; tant que la page n'est pas
// pleine on lit les fenêtres suivantes à la source. L'offset compte les
// posts visibles par le lecteur, pas les lignes de la partition.
func (s *FeedService) audienceFeed(ctx context.Context, key string, req domain.FeedRequest) ([]*domain.Post, bool, error) {
	allow, err := s.audience(ctx, req.Filter, req.Requester)
	if err != nil {
		return nil, false, err
	}
	if allow == nil {
		return []*domain.Post{}, false, nil
	}

	pageSize := s.opts.PageSize
	maxWindows := maxAudienceWindows + req.Offset/pageSize

	out := make([]*domain.Post, 0, pageSize)
	skip := req.Offset
	hit := false
	for i := 0; i < maxWindows && len(out) < pageSize; i++ {
		posts, cached, err := s.window(ctx, key, req, i*pageSize)
		if err != nil {
			return nil, false, err
		}
		if i == 0 {
			hit = cached
		}

		for _, p := range posts {
			if !allow(p) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			if len(out) < pageSize {
				out = append(out, p)
			}
		}

		// Partition épuisée
		if len(posts) < pageSize {
			break
		}
	}
	return out, hit, nil
}

func (s *FeedService) GetPost(ctx context.Context, postID string, requester *domain.Requester) (*domain.PostResult, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, domain.ErrNotFound
	}
	key := domain.PostKey(postID)

	ctx, span := s.tracer.Start(ctx, "post.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var post *domain.Post
	hit := s.lookup(ctx, key, &post) && post != nil

	if hit {
		s.metrics.Hit("post")
	} else {
		s.metrics.Miss("post")

		fetched, err := s.source.QueryPostByID(ctx, postID)
		if errors.Is(err, domain.ErrNotFound) {
			// Pas de cache négatif : la ligne peut arriver d'une seconde à l'autre
			return nil, err
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "source query failed")
			slog.ErrorContext(ctx, "❌ Post source query failed", "post_id", postID, "error", err)
			return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		s.populate(ctx, key, fetched, s.opts.PostTTL)
		post = fetched.Clone()
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	// Un post campus / abonnés hors audience est invisible, comme dans le feed
	visible, err := s.canView(ctx, requester, post)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audience lookup failed")
		return nil, err
	}
	if !visible {
		return nil, domain.ErrNotFound
	}

	s.personalize(ctx, requester, []*domain.Post{post})
	return &domain.PostResult{Post: post, Hit: hit}, nil
}

// canView applique au post seul la restriction de sa partition.
// L'auteur voit toujours ses propres posts.
func (s *FeedService) canView(ctx context.Context, r *domain.Requester, p *domain.Post) (bool, error) {
	_, filter := domain.Partition(p.CommunityID, p.CommunityTag, p.IsOfficial)
	if !audienceRestricted(filter) {
		return true, nil
	}
	if r != nil && r.ID != "" && r.ID == p.AuthorID {
		return true, nil
	}
	allow, err := s.audience(ctx, filter, r)
	if err != nil {
		return false, err
	}
	return allow != nil && allow(p), nil
}

// lookup lit et décode une entrée. Toute erreur du store est absorbée :
// on retombe sur la source.
func (s *FeedService) lookup(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.StoreError("get")
		slog.WarnContext(ctx, "⚠️ Cache unavailable, serving from source", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.WarnContext(ctx, "Unreadable cache payload, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// populate écrit le payload brut (non personnalisé). Un échec est loggé,
// jamais remonté : la lecture a déjà un résultat valide.
func (s *FeedService) populate(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode cache payload", "key", key, "error", err)
		return
	}

	// L'écriture survit à l'annulation de la requête
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), populateTimeout)
	defer cancel()

	if err := s.store.Set(wctx, key, string(data), ttl); err != nil {
		s.metrics.StoreError("set")
		slog.WarnContext(ctx, "⚠️ Cache write failed", "key", key, "error", err)
	}
}

func audienceRestricted(f domain.FeedFilter) bool {
	return f == domain.FilterCampusOnly || f == domain.FilterFollowersOnly
}

// audience construit le prédicat de visibilité d'une vue restreinte.
// Un prédicat nil signifie que le lecteur ne peut rien voir.
func (s *FeedService) audience(ctx context.Context, filter domain.FeedFilter, r *domain.Requester) (func(*domain.Post) bool, error) {
	if r == nil {
		return nil, nil
	}

	switch filter {
	case domain.FilterCampusOnly:
		if r.Affiliation == "" {
			return nil, nil
		}
		return func(p *domain.Post) bool {
			return strings.EqualFold(p.Author.Affiliation, r.Affiliation)
		}, nil

	case domain.FilterFollowersOnly:
		if r.ID == "" {
			return nil, nil
		}
		following, err := s.following(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		allowed := make(map[string]struct{}, len(following)+1)
		for _, id := range following {
			allowed[id] = struct{}{}
		}
		allowed[r.ID] = struct{}{}
		return func(p *domain.Post) bool {
			_, ok := allowed[p.AuthorID]
			return ok
		}, nil
	}
	return func(*domain.Post) bool { return true }, nil
}

// following : read-through sur following:{id}, invalidé par les événements follows
func (s *FeedService) following(ctx context.Context, userID string) ([]string, error) {
	key := domain.FollowingKey(userID)

	var ids []string
	if s.lookup(ctx, key, &ids) {
		s.metrics.Hit("following")
		return ids, nil
	}
	s.metrics.Miss("following")

	ids, err := s.graph.Following(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "❌ Follow graph query failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	if ids == nil {
		ids = []string{}
	}
	s.populate(ctx, key, ids, s.opts.FollowingTTL)
	return ids, nil
}

// personalize annote likes/bookmarks (une seule requête groupée) et applique
// le masque d'anonymat.
func (s *FeedService) personalize(ctx context.Context, r *domain.Requester, posts []*domain.Post) {
	requesterID := ""
	if r != nil {
		requesterID = r.ID
	}

	engagement := domain.NewEngagement()
	if requesterID != "" && len(posts) > 0 {
		ids := make([]string, len(posts))
		for i, p := range posts {
			ids[i] = p.ID
		}
		e, err := s.source.QueryUserLikesAndBookmarks(ctx, requesterID, ids)
		if err != nil {
			slog.WarnContext(ctx, "Personalization lookup failed, flags left unset", "user_id", requesterID, "error", err)
		} else {
			engagement = e
		}
	}

	for _, p := range posts {
		_, p.IsUpvoted = engagement.Liked[p.ID]
		_, p.IsBookmarked = engagement.Bookmarked[p.ID]
		p.IsOwn = requesterID != "" && p.AuthorID == requesterID
		p.Author = p.VisibleAuthor(requesterID)
	}
}

func clonePosts(posts []*domain.Post) []*domain.Post {
	out := make([]*domain.Post, 0, len(posts))
	for _, p := range posts {
		if p != nil {
			out = append(out, p.Clone())
		}
	}
	return out
}
