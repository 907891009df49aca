package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

func postEvent(t *testing.T, op domain.Operation, row, old *domain.PostRow) domain.ChangeEvent {
	t.Helper()
	event := domain.ChangeEvent{Table: domain.TablePosts, Operation: op}
	if row != nil {
		data, err := json.Marshal(row)
		require.NoError(t, err)
		event.Row = data
	}
	if old != nil {
		data, err := json.Marshal(old)
		require.NoError(t, err)
		event.OldRow = data
	}
	return event
}

func TestHandleChange_PostInsertTriggersFreshQuery(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	source := new(mockSource)
	metrics := newRecordingMetrics()

	fresh := append([]*domain.Post{testPost("p0", "u0", 0, 0)}, threePosts()...)
	source.On("QueryFeed", mock.Anything, domain.GlobalScope(), domain.FilterAnyone, mock.Anything, 0).
		Return(threePosts(), nil).Once()
	source.On("QueryFeed", mock.Anything, domain.GlobalScope(), domain.FilterAnyone, mock.Anything, 0).
		Return(fresh, nil).Once()

	svc := NewFeedService(store, source, nil, metrics, DefaultOptions())

	_, err := svc.GetFeed(ctx, globalAnyone())
	require.NoError(t, err)
	require.True(t, store.has(globalAnyoneKey))

	event := postEvent(t, domain.OpInsert, &domain.PostRow{ID: "p0", UserID: "u0", CommunityTag: domain.TagAnyone}, nil)
	require.NoError(t, svc.HandleChange(ctx, event))
	assert.False(t, store.has(globalAnyoneKey))
	assert.Equal(t, []string{globalAnyoneKey}, store.deleted)
	assert.Equal(t, 1, metrics.invalidated["posts"])

	res, err := svc.GetFeed(ctx, globalAnyone())
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, postIDs(res.Posts))
	source.AssertExpectations(t)
}

func TestHandleChange_PostKeys(t *testing.T) {
	tests := []struct {
		name     string
		op       domain.Operation
		row, old *domain.PostRow
		want     []string
	}{
		{
			name: "insert without tag lands in anyone",
			op:   domain.OpInsert,
			row:  &domain.PostRow{ID: "p1", UserID: "u1"},
			want: []string{"feed:global:anyone"},
		},
		{
			name: "insert campus only",
			op:   domain.OpInsert,
			row:  &domain.PostRow{ID: "p1", UserID: "u1", CommunityTag: domain.TagCampusOnly},
			want: []string{"feed:global:campus"},
		},
		{
			name: "insert official community post",
			op:   domain.OpInsert,
			row:  &domain.PostRow{ID: "p1", CommunityID: "c1", IsOfficial: true},
			want: []string{"feed:community:c1:official"},
		},
		{
			name: "update moving between partitions",
			op:   domain.OpUpdate,
			row:  &domain.PostRow{ID: "p1", CommunityTag: domain.TagFollowersOnly},
			old:  &domain.PostRow{ID: "p1", CommunityTag: domain.TagAnyone},
			want: []string{"feed:global:followers", "post:p1", "feed:global:anyone"},
		},
		{
			name: "update in place",
			op:   domain.OpUpdate,
			row:  &domain.PostRow{ID: "p1", CommunityID: "c1"},
			old:  &domain.PostRow{ID: "p1", CommunityID: "c1"},
			want: []string{"feed:community:c1:regular", "post:p1"},
		},
		{
			name: "delete with old row only",
			op:   domain.OpDelete,
			old:  &domain.PostRow{ID: "p1", CommunityID: "c2"},
			want: []string{"feed:community:c2:regular", "post:p1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := NewFeedService(store, new(mockSource), nil, nil, DefaultOptions())

			err := svc.HandleChange(context.Background(), postEvent(t, tt.op, tt.row, tt.old))
			require.NoError(t, err)
			assert.Equal(t, tt.want, store.deleted)
		})
	}
}

func TestHandleChange_PostUpdateDropsCachedPost(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	source := new(mockSource)

	before := testPost("p1", "u1", time.Minute, 0)
	after := testPost("p1", "u1", time.Minute, 0)
	after.Content = "edited"
	source.On("QueryPostByID", mock.Anything, "p1").Return(before, nil).Once()
	source.On("QueryPostByID", mock.Anything, "p1").Return(after, nil).Once()

	svc := NewFeedService(store, source, nil, nil, DefaultOptions())

	_, err := svc.GetPost(ctx, "p1", nil)
	require.NoError(t, err)

	row := &domain.PostRow{ID: "p1", UserID: "u1", CommunityTag: domain.TagAnyone}
	require.NoError(t, svc.HandleChange(ctx, postEvent(t, domain.OpUpdate, row, row)))

	res, err := svc.GetPost(ctx, "p1", nil)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, "edited", res.Post.Content)
}

func TestHandleChange_LikesRelyOnTTL(t *testing.T) {
	store := newFakeStore()
	store.data[globalAnyoneKey] = "[]"
	metrics := newRecordingMetrics()
	svc := NewFeedService(store, new(mockSource), nil, metrics, DefaultOptions())

	event, err := domain.NewChangeEvent(domain.TableLikes, domain.OpInsert, domain.LikeRow{PostID: "p1", UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, svc.HandleChange(context.Background(), event))
	assert.Empty(t, store.deleted)
	assert.True(t, store.has(globalAnyoneKey))
	assert.Zero(t, metrics.invalidated["likes"])
}

func TestHandleChange_FollowsDropFollowingSet(t *testing.T) {
	store := newFakeStore()
	store.data[globalAnyoneKey] = "[]"
	store.data["following:u1"] = `["u2"]`
	svc := NewFeedService(store, new(mockSource), nil, nil, DefaultOptions())

	// Un delete ne porte que old_row
	event := domain.ChangeEvent{
		Table:     domain.TableFollows,
		Operation: domain.OpDelete,
		OldRow:    json.RawMessage(`{"follower_id":"u1","following_id":"u2"}`),
	}
	require.NoError(t, svc.HandleChange(context.Background(), event))
	assert.Equal(t, []string{"following:u1"}, store.deleted)
	assert.True(t, store.has(globalAnyoneKey))
}

func TestHandleChange_RejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name  string
		event domain.ChangeEvent
	}{
		{"unknown table", domain.ChangeEvent{Table: "comments", Operation: domain.OpInsert, Row: json.RawMessage(`{}`)}},
		{"unknown operation", domain.ChangeEvent{Table: domain.TablePosts, Operation: "truncate"}},
		{"posts without rows", domain.ChangeEvent{Table: domain.TablePosts, Operation: domain.OpDelete}},
		{"posts row not an object", domain.ChangeEvent{Table: domain.TablePosts, Operation: domain.OpInsert, Row: json.RawMessage(`[1,2]`)}},
		{"follows without follower", domain.ChangeEvent{Table: domain.TableFollows, Operation: domain.OpInsert, Row: json.RawMessage(`{"following_id":"u2"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := NewFeedService(store, new(mockSource), nil, nil, DefaultOptions())

			err := svc.HandleChange(context.Background(), tt.event)
			assert.ErrorIs(t, err, domain.ErrUnknownEvent)
			assert.Empty(t, store.deleted)
		})
	}
}

func TestHandleChange_StoreFailureIsReported(t *testing.T) {
	store := newFakeStore()
	store.delErr = domain.ErrStoreUnavailable
	metrics := newRecordingMetrics()
	svc := NewFeedService(store, new(mockSource), nil, metrics, DefaultOptions())

	err := svc.HandleChange(context.Background(), postEvent(t, domain.OpInsert, &domain.PostRow{ID: "p1"}, nil))
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.Equal(t, 1, metrics.storeErrors["delete"])
}
