package friend

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Errors returned by store implementations. The Service maps them to the
// user-facing errors in errors.go.
var (
	ErrNoRows   = errors.New("friend: no matching row")
	ErrConflict = errors.New("friend: row already exists")
)

// RemoteStore is the shared relationship store. Every method talks to the
// backend; implementations return ErrNoRows and ErrConflict where noted
// and plain errors for transport failures.
type RemoteStore interface {
	// The four list queries. Each returns rows joined with the profile of
	// the other user.
	AcceptedAsRequester(ctx context.Context, userID uuid.UUID) ([]Record, error)
	AcceptedAsRecipient(ctx context.Context, userID uuid.UUID) ([]Record, error)
	PendingAsRecipient(ctx context.Context, userID uuid.UUID) ([]Record, error)
	PendingAsRequester(ctx context.Context, userID uuid.UUID) ([]Record, error)

	// FindRelationship returns the row for the unordered pair or ErrNoRows.
	FindRelationship(ctx context.Context, a, b uuid.UUID) (Relationship, error)
	// InsertRequest stores a pending row from -> to, or ErrConflict when
	// the pair already has a row.
	InsertRequest(ctx context.Context, from, to uuid.UUID) error
	// AcceptRequest moves the pair's row from pending to accepted. It
	// reports false when no pending row matched.
	AcceptRequest(ctx context.Context, a, b uuid.UUID) (bool, error)
	// DeleteRelationship removes the pair's row if it has the given status.
	DeleteRelationship(ctx context.Context, a, b uuid.UUID, status Status) (bool, error)

	// BumpDirtyBits gives every listed user a fresh dirty bit in one call.
	BumpDirtyBits(ctx context.Context, userIDs ...uuid.UUID) error
	// DirtyBit returns uuid.Nil when the user has none.
	DirtyBit(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)

	// UserIDByUsername resolves an exact, lower-case username or ErrNoRows.
	UserIDByUsername(ctx context.Context, username string) (uuid.UUID, error)
	SearchUsers(ctx context.Context, partial string, exclude uuid.UUID, limit int) ([]UserSummary, error)
}

// LocalCache is one device's copy of the lists. Replace must be atomic:
// a reader never sees the new meta with the old lists or the reverse.
type LocalCache interface {
	// Meta returns the zero Meta when nothing is cached.
	Meta(ctx context.Context) (Meta, error)
	// Snapshot returns the zero Snapshot when nothing is cached.
	Snapshot(ctx context.Context) (Snapshot, error)
	Replace(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// QuestNamer resolves a quest id to the name shown in View.OnQuest.
type QuestNamer func(questID int) string
