package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allPairs() []struct {
	scope  FeedScope
	filter FeedFilter
} {
	var pairs []struct {
		scope  FeedScope
		filter FeedFilter
	}
	for _, f := range GlobalFilters {
		pairs = append(pairs, struct {
			scope  FeedScope
			filter FeedFilter
		}{GlobalScope(), f})
	}
	for _, id := range []string{"c1", "c2", "c1:official", "42"} {
		for _, f := range CommunityFilters {
			pairs = append(pairs, struct {
				scope  FeedScope
				filter FeedFilter
			}{CommunityScope(id), f})
		}
	}
	return pairs
}

func TestDeriveCacheKey_Deterministic(t *testing.T) {
	for _, p := range allPairs() {
		k1, err := DeriveCacheKey(p.scope, p.filter)
		require.NoError(t, err)
		k2, err := DeriveCacheKey(p.scope, p.filter)
		require.NoError(t, err)
		assert.Equal(t, k1, k2)
	}
}

func TestDeriveCacheKey_Injective(t *testing.T) {
	seen := make(map[string]string)
	for _, p := range allPairs() {
		key, err := DeriveCacheKey(p.scope, p.filter)
		require.NoError(t, err)

		id := string(p.scope.Kind) + "|" + p.scope.CommunityID + "|" + string(p.filter)
		if prev, ok := seen[key]; ok {
			t.Fatalf("key %q produced by %s and %s", key, prev, id)
		}
		seen[key] = id
	}
	assert.Len(t, seen, len(allPairs()))
}

func TestDeriveCacheKey_Format(t *testing.T) {
	k, err := DeriveCacheKey(GlobalScope(), FilterAnyone)
	require.NoError(t, err)
	assert.Equal(t, "feed:global:anyone", k)

	k, err = DeriveCacheKey(CommunityScope("abc"), FilterOfficial)
	require.NoError(t, err)
	assert.Equal(t, "feed:community:abc:official", k)

	assert.Equal(t, "post:p1", PostKey("p1"))
	assert.Equal(t, "following:u1", FollowingKey("u1"))
}

func TestDeriveCacheKey_RejectsAmbiguousPairs(t *testing.T) {
	tests := []struct {
		name   string
		scope  FeedScope
		filter FeedFilter
		want   error
	}{
		{"community without id", FeedScope{Kind: ScopeCommunity}, FilterRegular, ErrInvalidScope},
		{"global with id", FeedScope{Kind: ScopeGlobal, CommunityID: "c1"}, FilterAnyone, ErrInvalidScope},
		{"unknown kind", FeedScope{Kind: "other"}, FilterAnyone, ErrInvalidScope},
		{"official in global", GlobalScope(), FilterOfficial, ErrInvalidFilter},
		{"campus in community", CommunityScope("c1"), FilterCampusOnly, ErrInvalidFilter},
		{"empty filter", GlobalScope(), "", ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveCacheKey(tt.scope, tt.filter)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name       string
		scope      FeedScope
		raw        string
		wantFilter FeedFilter
		wantSort   FeedSort
		wantErr    bool
	}{
		{"global default", GlobalScope(), "", FilterAnyone, SortRecent, false},
		{"community default", CommunityScope("c1"), "", FilterRegular, SortRecent, false},
		{"trending is a resort of anyone", GlobalScope(), "trending", FilterAnyone, SortTrending, false},
		{"all alias", GlobalScope(), "ALL", FilterAnyone, SortRecent, false},
		{"campus", GlobalScope(), "campus", FilterCampusOnly, SortRecent, false},
		{"followers", GlobalScope(), "followers", FilterFollowersOnly, SortRecent, false},
		{"official", CommunityScope("c1"), "official", FilterOfficial, SortRecent, false},
		{"official outside community", GlobalScope(), "official", "", "", true},
		{"campus inside community", CommunityScope("c1"), "campus", "", "", true},
		{"garbage", GlobalScope(), "whatever", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s, err := ParseFilter(tt.scope, tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFilter, f)
			assert.Equal(t, tt.wantSort, s)
		})
	}
}
