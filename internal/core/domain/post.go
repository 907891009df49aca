package domain

import (
	"strings"
	"time"
)

// Author est l'instantané du profil joint au post
type Author struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Affiliation string `json:"affiliation"`
}

// AnonymousAuthor remplace l'auteur d'un post anonyme
var AnonymousAuthor = Author{
	DisplayName: "Anonymous User",
	Handle:      "@anonymous",
	Affiliation: "Hidden",
}

// Post tel que stocké dans le cache. Les champs de personnalisation
// (IsUpvoted, IsBookmarked, IsOwn) ne sont jamais sérialisés.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Author       Author    `json:"author"`
	Content      string    `json:"content"`
	ImageURLs    []string  `json:"image_urls,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	CommunityTag string    `json:"community_tag,omitempty"`
	CommunityID  string    `json:"community_id,omitempty"`
	IsOfficial   bool      `json:"is_official"`
	IsAnonymous  bool      `json:"is_anonymous"`
	CreatedAt    time.Time `json:"created_at"`
	Upvotes      int       `json:"upvotes"`
	Comments     int       `json:"comments"`

	IsUpvoted    bool `json:"-"`
	IsBookmarked bool `json:"-"`
	IsOwn        bool `json:"-"`
}

// Clone renvoie une copie indépendante (la personnalisation ne doit pas
// toucher un payload partagé).
func (p *Post) Clone() *Post {
	c := *p
	if p.ImageURLs != nil {
		c.ImageURLs = append([]string(nil), p.ImageURLs...)
	}
	return &c
}

// VisibleAuthor applique le masque d'anonymat. L'auteur garde son ID quand
// c'est lui qui lit.
func (p *Post) VisibleAuthor(requesterID string) Author {
	if !p.IsAnonymous {
		return p.Author
	}
	a := AnonymousAuthor
	if requesterID != "" && requesterID == p.AuthorID {
		a.ID = p.AuthorID
	}
	return a
}

// Partition calcule la (scope, filtre) à laquelle appartient un post stocké.
func Partition(communityID, communityTag string, isOfficial bool) (FeedScope, FeedFilter) {
	if communityID != "" {
		if isOfficial {
			return CommunityScope(communityID), FilterOfficial
		}
		return CommunityScope(communityID), FilterRegular
	}

	switch strings.ToLower(strings.TrimSpace(communityTag)) {
	case strings.ToLower(TagCampusOnly):
		return GlobalScope(), FilterCampusOnly
	case strings.ToLower(TagFollowersOnly):
		return GlobalScope(), FilterFollowersOnly
	default:
		// "Anyone" ou NULL
		return GlobalScope(), FilterAnyone
	}
}

// NewPost : commande de création
type NewPost struct {
	AuthorID     string
	Content      string
	ImageURLs    []string
	VideoURL     string
	CommunityTag string
	CommunityID  string
	IsAnonymous  bool
}
