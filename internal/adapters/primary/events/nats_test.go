package events

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

type mockFeed struct{ mock.Mock }

func (m *mockFeed) GetFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*domain.FeedResult), args.Error(1)
}

func (m *mockFeed) GetPost(ctx context.Context, postID string, r *domain.Requester) (*domain.PostResult, error) {
	args := m.Called(ctx, postID, r)
	return args.Get(0).(*domain.PostResult), args.Error(1)
}

func (m *mockFeed) HandleChange(ctx context.Context, event domain.ChangeEvent) error {
	return m.Called(ctx, event).Error(0)
}

func TestEventHandler_DispatchesChangeEvent(t *testing.T) {
	feed := new(mockFeed)
	feed.On("HandleChange", mock.Anything, mock.MatchedBy(func(e domain.ChangeEvent) bool {
		return e.Table == domain.TablePosts && e.Operation == domain.OpInsert
	})).Return(nil)

	h := NewEventHandler(feed)
	msg := &nats.Msg{
		Subject: "db.changes.posts",
		Data:    []byte(`{"table":"posts","operation":"insert","row":{"id":"p1","user_id":"u1"}}`),
	}

	require.NoError(t, h.process(msg))
	feed.AssertExpectations(t)
}

func TestEventHandler_ExtractsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var got trace.SpanContext
	feed := new(mockFeed)
	feed.On("HandleChange", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			got = trace.SpanContextFromContext(args.Get(0).(context.Context))
		}).
		Return(nil)

	msg := &nats.Msg{
		Subject: "db.changes.follows",
		Data:    []byte(`{"table":"follows","operation":"delete","old_row":{"follower_id":"u1","following_id":"u2"}}`),
		Header:  nats.Header{},
	}
	msg.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	require.NoError(t, NewEventHandler(feed).process(msg))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}

func TestEventHandler_InvalidPayload(t *testing.T) {
	feed := new(mockFeed)
	h := NewEventHandler(feed)

	err := h.process(&nats.Msg{Subject: "db.changes.posts", Data: []byte(`{oops`)})
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
	feed.AssertNotCalled(t, "HandleChange", mock.Anything, mock.Anything)
}

func TestEventHandler_ServiceErrorIsReturned(t *testing.T) {
	feed := new(mockFeed)
	feed.On("HandleChange", mock.Anything, mock.Anything).Return(domain.ErrStoreUnavailable)

	err := NewEventHandler(feed).process(&nats.Msg{
		Subject: "db.changes.posts",
		Data:    []byte(`{"table":"posts","operation":"delete","old_row":{"id":"p1"}}`),
	})
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

type fakeSubscriber struct {
	subjects []string
	failOn   string
}

func (f *fakeSubscriber) Subscribe(subj string, _ nats.MsgHandler) (*nats.Subscription, error) {
	if subj == f.failOn {
		return nil, nats.ErrBadSubject
	}
	f.subjects = append(f.subjects, subj)
	return &nats.Subscription{Subject: subj}, nil
}

func TestSubscribeAll(t *testing.T) {
	sub := &fakeSubscriber{}
	h := NewEventHandler(new(mockFeed))

	subs, err := h.SubscribeAll(sub, func(t domain.Table) string { return "db.changes." + string(t) })
	require.NoError(t, err)
	assert.Len(t, subs, 3)
	assert.Equal(t, []string{"db.changes.posts", "db.changes.likes", "db.changes.follows"}, sub.subjects)
}

func TestEventHandler_ExtractsCanonicalisedTraceHeader(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var got trace.SpanContext
	feed := new(mockFeed)
	feed.On("HandleChange", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			got = trace.SpanContextFromContext(args.Get(0).(context.Context))
		}).
		Return(nil)

	// Producteur qui normalise les en-têtes à la mode HTTP
	msg := &nats.Msg{
		Subject: "db.changes.likes",
		Data:    []byte(`{"table":"likes","operation":"insert","row":{"post_id":"p1","user_id":"u1"}}`),
		Header:  nats.Header{"Traceparent": []string{"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}},
	}

	require.NoError(t, NewEventHandler(feed).process(msg))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}
