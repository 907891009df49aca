package domain

import "fmt"

// DeriveCacheKey est une fonction pure : même (scope, filtre) => même clé,
// couples différents => clés différentes.
//
//	feed:global:{filter}
//	feed:community:{communityID}:{filter}
func DeriveCacheKey(scope FeedScope, filter FeedFilter) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if !filter.AllowedIn(scope.Kind) {
		return "", fmt.Errorf("%w: %q in %s scope", ErrInvalidFilter, filter, scope.Kind)
	}

	if scope.Kind == ScopeCommunity {
		return fmt.Sprintf("feed:community:%s:%s", scope.CommunityID, filter), nil
	}
	return fmt.Sprintf("feed:global:%s", filter), nil
}

func PostKey(postID string) string {
	return "post:" + postID
}

func FollowingKey(userID string) string {
	return "following:" + userID
}
