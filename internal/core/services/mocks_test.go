package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// --- Store en mémoire avec pannes injectables ---

type fakeStore struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	delErr  error
	sets    int
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	for _, k := range keys {
		delete(f.data, k)
		delete(f.ttls, k)
	}
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// --- Mocks testify ---

type mockSource struct{ mock.Mock }

func (m *mockSource) QueryFeed(ctx context.Context, scope domain.FeedScope, filter domain.FeedFilter, limit, offset int) ([]*domain.Post, error) {
	args := m.Called(ctx, scope, filter, limit, offset)
	var posts []*domain.Post
	if v := args.Get(0); v != nil {
		posts = v.([]*domain.Post)
	}
	return posts, args.Error(1)
}

func (m *mockSource) QueryPostByID(ctx context.Context, postID string) (*domain.Post, error) {
	args := m.Called(ctx, postID)
	var post *domain.Post
	if v := args.Get(0); v != nil {
		post = v.(*domain.Post)
	}
	return post, args.Error(1)
}

func (m *mockSource) QueryUserLikesAndBookmarks(ctx context.Context, userID string, postIDs []string) (domain.Engagement, error) {
	args := m.Called(ctx, userID, postIDs)
	return args.Get(0).(domain.Engagement), args.Error(1)
}

type mockGraph struct{ mock.Mock }

func (m *mockGraph) Following(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if v := args.Get(0); v != nil {
		ids = v.([]string)
	}
	return ids, args.Error(1)
}

func (m *mockGraph) Follow(ctx context.Context, followerID, followingID string) error {
	return m.Called(ctx, followerID, followingID).Error(0)
}

func (m *mockGraph) Unfollow(ctx context.Context, followerID, followingID string) error {
	return m.Called(ctx, followerID, followingID).Error(0)
}

type mockWriter struct{ mock.Mock }

func (m *mockWriter) CreatePost(ctx context.Context, post *domain.Post) error {
	return m.Called(ctx, post).Error(0)
}

func (m *mockWriter) DeletePost(ctx context.Context, postID string) (*domain.PostRow, error) {
	args := m.Called(ctx, postID)
	var row *domain.PostRow
	if v := args.Get(0); v != nil {
		row = v.(*domain.PostRow)
	}
	return row, args.Error(1)
}

func (m *mockWriter) PostOwner(ctx context.Context, postID string) (string, error) {
	args := m.Called(ctx, postID)
	return args.String(0), args.Error(1)
}

func (m *mockWriter) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	args := m.Called(ctx, postID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockWriter) ToggleBookmark(ctx context.Context, postID, userID string) (bool, error) {
	args := m.Called(ctx, postID, userID)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	return m.Called(ctx, event).Error(0)
}

// recordingMetrics compte les appels par label
type recordingMetrics struct {
	mu          sync.Mutex
	hits        map[string]int
	misses      map[string]int
	storeErrors map[string]int
	invalidated map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		hits:        map[string]int{},
		misses:      map[string]int{},
		storeErrors: map[string]int{},
		invalidated: map[string]int{},
	}
}

func (r *recordingMetrics) Hit(view string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[view]++
}

func (r *recordingMetrics) Miss(view string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[view]++
}

func (r *recordingMetrics) StoreError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeErrors[op]++
}

func (r *recordingMetrics) Invalidated(table string, keys int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated[table] += keys
}

// --- Fixtures ---

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPost(id, authorID string, age time.Duration, upvotes int) *domain.Post {
	return &domain.Post{
		ID:       id,
		AuthorID: authorID,
		Author: domain.Author{
			ID:          authorID,
			DisplayName: "User " + authorID,
			Handle:      "@" + authorID,
			Affiliation: "MIT",
		},
		Content:      "post " + id,
		CommunityTag: domain.TagAnyone,
		CreatedAt:    baseTime.Add(-age),
		Upvotes:      upvotes,
	}
}

func postIDs(posts []*domain.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
