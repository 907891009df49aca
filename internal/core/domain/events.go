package domain

import (
	"encoding/json"
	"fmt"
)

type Table string

const (
	TablePosts   Table = "posts"
	TableLikes   Table = "likes"
	TableFollows Table = "follows"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent est le contrat du Change Notifier :
// { table, operation, row, old_row? }
type ChangeEvent struct {
	Table     Table           `json:"table"`
	Operation Operation       `json:"operation"`
	Row       json.RawMessage `json:"row"`
	OldRow    json.RawMessage `json:"old_row,omitempty"`
}

// PostRow : colonnes de posts utiles à l'invalidation
type PostRow struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	CommunityID  string `json:"community_id,omitempty"`
	CommunityTag string `json:"community_tag,omitempty"`
	IsOfficial   bool   `json:"is_official"`
}

type LikeRow struct {
	PostID string `json:"post_id"`
	UserID string `json:"user_id"`
}

type FollowRow struct {
	FollowerID  string `json:"follower_id"`
	FollowingID string `json:"following_id"`
}

func (e ChangeEvent) Validate() error {
	switch e.Table {
	case TablePosts, TableLikes, TableFollows:
	default:
		return fmt.Errorf("%w: table %q", ErrUnknownEvent, e.Table)
	}
	switch e.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: operation %q", ErrUnknownEvent, e.Operation)
	}
	return nil
}

// NewChangeEvent sérialise la ligne dans l'enveloppe
func NewChangeEvent(table Table, op Operation, row any) (ChangeEvent, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal %s row: %w", table, err)
	}
	return ChangeEvent{Table: table, Operation: op, Row: data}, nil
}

func DecodeRow[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var row T
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return &row, nil
}
