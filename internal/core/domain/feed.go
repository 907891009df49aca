package domain

import (
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopeGlobal    ScopeKind = "global"
	ScopeCommunity ScopeKind = "community"
)

// FeedScope délimite la collection de posts visée par une requête.
// CommunityID est vide si et seulement si Kind == ScopeGlobal.
type FeedScope struct {
	Kind        ScopeKind
	CommunityID string
}

func GlobalScope() FeedScope {
	return FeedScope{Kind: ScopeGlobal}
}

func CommunityScope(communityID string) FeedScope {
	return FeedScope{Kind: ScopeCommunity, CommunityID: communityID}
}

func (s FeedScope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		if s.CommunityID != "" {
			return fmt.Errorf("%w: global scope cannot carry a community id", ErrInvalidScope)
		}
	case ScopeCommunity:
		if strings.TrimSpace(s.CommunityID) == "" {
			return fmt.Errorf("%w: community scope requires a community id", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// FeedFilter est une partition du scope : chaque post stocké tombe dans une
// seule partition selon son tag.
type FeedFilter string

const (
	FilterAnyone        FeedFilter = "anyone"
	FilterCampusOnly    FeedFilter = "campus"
	FilterFollowersOnly FeedFilter = "followers"
	FilterOfficial      FeedFilter = "official"
	FilterRegular       FeedFilter = "regular"
)

// Tags tels qu'ils sont stockés dans posts.community_tag
const (
	TagAnyone        = "Anyone"
	TagCampusOnly    = "Campus Only"
	TagFollowersOnly = "Followers only"
)

// GlobalFilters et CommunityFilters énumèrent les partitions valides par scope.
var (
	GlobalFilters    = []FeedFilter{FilterAnyone, FilterCampusOnly, FilterFollowersOnly}
	CommunityFilters = []FeedFilter{FilterOfficial, FilterRegular}
)

// AllowedIn vérifie que le couple (scope, filtre) désigne exactement une partition.
func (f FeedFilter) AllowedIn(kind ScopeKind) bool {
	switch kind {
	case ScopeGlobal:
		return f == FilterAnyone || f == FilterCampusOnly || f == FilterFollowersOnly
	case ScopeCommunity:
		return f == FilterOfficial || f == FilterRegular
	}
	return false
}

type FeedSort string

const (
	SortRecent   FeedSort = "recent"
	SortTrending FeedSort = "trending"
)

// ParseFilter traduit le paramètre de requête en (partition, tri).
// "trending" n'est pas une partition : c'est un re-tri de "anyone".
func ParseFilter(scope FeedScope, raw string) (FeedFilter, FeedSort, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))

	if raw == "" {
		if scope.Kind == ScopeCommunity {
			return FilterRegular, SortRecent, nil
		}
		return FilterAnyone, SortRecent, nil
	}

	var filter FeedFilter
	sort := SortRecent
	switch raw {
	case "anyone", "all", "public":
		filter = FilterAnyone
	case "trending":
		filter, sort = FilterAnyone, SortTrending
	case "campus", "campus_only":
		filter = FilterCampusOnly
	case "followers", "followers_only":
		filter = FilterFollowersOnly
	case "official":
		filter = FilterOfficial
	case "regular":
		filter = FilterRegular
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}

	if !filter.AllowedIn(scope.Kind) {
		return "", "", fmt.Errorf("%w: %q is not a %s filter", ErrInvalidFilter, raw, scope.Kind)
	}
	return filter, sort, nil
}

// Requester identifie l'appelant. Nil pour un visiteur anonyme.
type Requester struct {
	ID          string
	Affiliation string
}

// FeedRequest encapsule les critères de lecture du feed
type FeedRequest struct {
	Scope     FeedScope
	Filter    FeedFilter
	Sort      FeedSort
	Offset    int
	Requester *Requester
}

type FeedResult struct {
	Posts []*Post
	Hit   bool
}

type PostResult struct {
	Post *Post
	Hit  bool
}

// Engagement : likes et bookmarks d'un utilisateur, restreints à une page de posts
type Engagement struct {
	Liked      map[string]struct{}
	Bookmarked map[string]struct{}
}

func NewEngagement() Engagement {
	return Engagement{
		Liked:      make(map[string]struct{}),
		Bookmarked: make(map[string]struct{}),
	}
}
