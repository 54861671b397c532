package model

import (
	"time"

	"github.com/google/uuid"
)

// Friendship statuses.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is a friend request or an accepted friendship.
// UserID1 is the requester and UserID2 the recipient. PairKey is the same
// for both orientations of a pair, so its unique index allows at most one
// row per unordered pair.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID1   uuid.UUID `gorm:"type:varchar(36);index:idx_friendship_user1;not null" json:"user_id1"`
	UserID2   uuid.UUID `gorm:"type:varchar(36);index:idx_friendship_user2;not null" json:"user_id2"`
	PairKey   string    `gorm:"uniqueIndex;size:73;not null" json:"-"`
	Status    string    `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PairKey returns the orientation-independent key of a user pair.
func PairKey(a, b uuid.UUID) string {
	sa, sb := a.String(), b.String()
	if sa > sb {
		sa, sb = sb, sa
	}
	return sa + ":" + sb
}
