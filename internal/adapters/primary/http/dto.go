package http

import (
	"time"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// postDTO : vue renvoyée au client. L'identité de l'auteur passe uniquement
// par Author (déjà masqué pour un post anonyme).
type postDTO struct {
	ID           string        `json:"id"`
	Author       domain.Author `json:"author"`
	Content      string        `json:"content"`
	ImageURLs    []string      `json:"image_urls"`
	VideoURL     string        `json:"video_url,omitempty"`
	CommunityTag string        `json:"community_tag,omitempty"`
	CommunityID  string        `json:"community_id,omitempty"`
	IsOfficial   bool          `json:"is_official"`
	IsAnonymous  bool          `json:"is_anonymous"`
	CreatedAt    time.Time     `json:"created_at"`
	Upvotes      int           `json:"upvotes"`
	Comments     int           `json:"comments"`
	IsUpvoted    bool          `json:"is_upvoted"`
	IsBookmarked bool          `json:"is_bookmarked"`
	IsOwn        bool          `json:"is_own"`
}

func toPostDTO(p *domain.Post) postDTO {
	images := p.ImageURLs
	if images == nil {
		images = []string{}
	}
	return postDTO{
		ID:           p.ID,
		Author:       p.Author,
		Content:      p.Content,
		ImageURLs:    images,
		VideoURL:     p.VideoURL,
		CommunityTag: p.CommunityTag,
		CommunityID:  p.CommunityID,
		IsOfficial:   p.IsOfficial,
		IsAnonymous:  p.IsAnonymous,
		CreatedAt:    p.CreatedAt,
		Upvotes:      p.Upvotes,
		Comments:     p.Comments,
		IsUpvoted:    p.IsUpvoted,
		IsBookmarked: p.IsBookmarked,
		IsOwn:        p.IsOwn,
	}
}

func toPostDTOs(posts []*domain.Post) []postDTO {
	out := make([]postDTO, len(posts))
	for i, p := range posts {
		out[i] = toPostDTO(p)
	}
	return out
}
