package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// HandleChange applique la politique d'invalidation :
//   - posts   : invalidation immédiate de la partition (et de post:{id} si update/delete)
//   - likes   : rien, le TTL de 60s borne l'obsolescence des compteurs
//   - follows : les listes restent en TTL, seul following:{follower} est supprimé
func (s *FeedService) HandleChange(ctx context.Context, event domain.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var keys []string
	switch event.Table {
	case domain.TablePosts:
		k, err := postKeys(event)
		if err != nil {
			return err
		}
		keys = k

	case domain.TableLikes:
		row, _ := domain.DecodeRow[domain.LikeRow](firstRow(event))
		if row != nil {
			slog.DebugContext(ctx, "Like changed, relying on TTL", "post_id", row.PostID, "op", event.Operation)
		}
		return nil

	case domain.TableFollows:
		row, err := domain.DecodeRow[domain.FollowRow](firstRow(event))
		if err != nil || row == nil || row.FollowerID == "" {
			return fmt.Errorf("%w: malformed follows row", domain.ErrUnknownEvent)
		}
		keys = []string{domain.FollowingKey(row.FollowerID)}
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.store.Delete(ctx, keys...); err != nil {
		s.metrics.StoreError("delete")
		return fmt.Errorf("invalidate %v: %w", keys, err)
	}
	s.metrics.Invalidated(string(event.Table), len(keys))
	slog.InfoContext(ctx, "🧹 Cache invalidated", "table", event.Table, "op", event.Operation, "keys", keys)
	return nil
}

// postKeys dérive les clés touchées par une ligne de posts. Pour un update,
// l'ancienne ligne peut appartenir à une autre partition.
func postKeys(event domain.ChangeEvent) ([]string, error) {
	row, err := domain.DecodeRow[domain.PostRow](event.Row)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed posts row: %v", domain.ErrUnknownEvent, err)
	}
	old, err := domain.DecodeRow[domain.PostRow](event.OldRow)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed posts old_row: %v", domain.ErrUnknownEvent, err)
	}
	if row == nil && old == nil {
		return nil, fmt.Errorf("%w: posts event without row", domain.ErrUnknownEvent)
	}

	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	for _, r := range []*domain.PostRow{row, old} {
		if r == nil {
			continue
		}
		scope, filter := domain.Partition(r.CommunityID, r.CommunityTag, r.IsOfficial)
		key, err := domain.DeriveCacheKey(scope, filter)
		if err != nil {
			return nil, err
		}
		add(key)
		if event.Operation != domain.OpInsert && r.ID != "" {
			add(domain.PostKey(r.ID))
		}
	}
	return keys, nil
}

// Un delete peut ne porter que l'ancienne ligne
func firstRow(event domain.ChangeEvent) []byte {
	if len(event.Row) > 0 && string(event.Row) != "null" {
		return event.Row
	}
	return event.OldRow
}
