// Package friend keeps a user's friend and friend-request lists in sync
// between the relationship store and a per-device cache.
//
// The Service performs graph mutations and loads; the Coordinator decides
// per session whether the cached lists are still valid by comparing the
// user's dirty bit; State and StateStore hold the observable lists; Session
// serializes everything for one user.
package friend

import (
	"time"

	"github.com/google/uuid"
)

// Status of a relationship row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

// Direction tells whether a pending request was received or sent by the
// viewing user. Friends have no direction.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Relationship is one stored row. UserID1 is the requester, UserID2 the
// recipient.
type Relationship struct {
	ID      int64
	UserID1 uuid.UUID
	UserID2 uuid.UUID
	Status  Status
}

// Involves reports whether the row links a and b in either orientation.
func (r Relationship) Involves(a, b uuid.UUID) bool {
	return (r.UserID1 == a && r.UserID2 == b) || (r.UserID1 == b && r.UserID2 == a)
}

// Record is a relationship joined with the profile of the other user, as
// returned by the four list queries.
type Record struct {
	Relationship
	OtherID       uuid.UUID
	Username      string
	DisplayedName string
	AvatarURL     string
	IsOnline      bool
	LastOnline    time.Time
	Level         int
	QuestID       int // quest in progress, 0 = none
}

// View is the display-ready form of a friend or request.
type View struct {
	UserID     uuid.UUID `json:"user_id"`
	Name       string    `json:"name"`
	Username   string    `json:"username"` // "@name"
	LastActive string    `json:"last_active"`
	OnQuest    string    `json:"on_quest,omitempty"`
	Initials   string    `json:"initials"`
	Level      int       `json:"level"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
}

// Lists holds accepted friends and pending requests.
type Lists struct {
	Friends  []View `json:"friends"`
	Requests []View `json:"requests"`
}

// Has reports whether userID appears in either list.
func (l Lists) Has(userID uuid.UUID) bool {
	for _, v := range l.Friends {
		if v.UserID == userID {
			return true
		}
	}
	for _, v := range l.Requests {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// HasUsername reports whether a view with the given bare username exists.
func (l Lists) HasUsername(username string) bool {
	handle := "@" + username
	for _, v := range l.Friends {
		if v.Username == handle {
			return true
		}
	}
	for _, v := range l.Requests {
		if v.Username == handle {
			return true
		}
	}
	return false
}

// Meta is the cached sync marker: which user the cache belongs to and the
// dirty bit it was loaded at. uuid.Nil means absent.
type Meta struct {
	UserID   uuid.UUID `json:"user_id"`
	DirtyBit uuid.UUID `json:"dirty_bit"`
}

// Snapshot is the full content of a LocalCache.
type Snapshot struct {
	Meta
	Lists
	SyncedAt time.Time `json:"synced_at"`
}

// UserSummary is a search result.
type UserSummary struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	DisplayedName string    `json:"displayed_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Level         int       `json:"level"`
}
