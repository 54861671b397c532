// Package remote implements friend.RemoteStore on the relational database
// through gorm.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	dbadapter "github.com/squestapp/squest/server/db"
	"github.com/squestapp/squest/server/friend"
	"github.com/squestapp/squest/server/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed relationship store.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ friend.RemoteStore = (*Store)(nil)

// recordRow is the scan target of the list queries.
type recordRow struct {
	ID                int64
	UserID1           uuid.UUID
	UserID2           uuid.UUID
	Status            string
	OtherID           uuid.UUID
	Username          string
	DisplayedName     string
	AvatarURL         string
	IsOnline          bool
	LastOnline        time.Time
	Level             int
	QuestIDInProgress int
}

// listRecords returns rows where userID sits in column `self` with the
// given status, joined with the user in column `other`.
func (s *Store) listRecords(ctx context.Context, userID uuid.UUID, self, other string, status friend.Status) ([]friend.Record, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Table("friendships AS f").
		Select("f.id, f.user_id1, f.user_id2, f.status, u.id AS other_id, u.username, u.displayed_name, "+
			"u.avatar_url, u.is_online, u.last_online, u.level, "+
			"COALESCE(d.quest_id_in_progress, 0) AS quest_id_in_progress").
		Joins("JOIN users u ON u.id = f."+other).
		Joins("LEFT JOIN user_data d ON d.user_id = u.id").
		Where("f."+self+" = ? AND f.status = ?", userID, string(status)).
		Order("f.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]friend.Record, len(rows))
	for i, r := range rows {
		out[i] = friend.Record{
			Relationship: friend.Relationship{
				ID:      r.ID,
				UserID1: r.UserID1,
				UserID2: r.UserID2,
				Status:  friend.Status(r.Status),
			},
			OtherID:       r.OtherID,
			Username:      r.Username,
			DisplayedName: r.DisplayedName,
			AvatarURL:     r.AvatarURL,
			IsOnline:      r.IsOnline,
			LastOnline:    r.LastOnline,
			Level:         r.Level,
			QuestID:       r.QuestIDInProgress,
		}
	}
	return out, nil
}

func (s *Store) AcceptedAsRequester(ctx context.Context, userID uuid.UUID) ([]friend.Record, error) {
	return s.listRecords(ctx, userID, "user_id1", "user_id2", friend.StatusAccepted)
}

func (s *Store) AcceptedAsRecipient(ctx context.Context, userID uuid.UUID) ([]friend.Record, error) {
	return s.listRecords(ctx, userID, "user_id2", "user_id1", friend.StatusAccepted)
}

func (s *Store) PendingAsRecipient(ctx context.Context, userID uuid.UUID) ([]friend.Record, error) {
	return s.listRecords(ctx, userID, "user_id2", "user_id1", friend.StatusPending)
}

func (s *Store) PendingAsRequester(ctx context.Context, userID uuid.UUID) ([]friend.Record, error) {
	return s.listRecords(ctx, userID, "user_id1", "user_id2", friend.StatusPending)
}

func toRelationship(f model.Friendship) friend.Relationship {
	return friend.Relationship{
		ID:      f.ID,
		UserID1: f.UserID1,
		UserID2: f.UserID2,
		Status:  friend.Status(f.Status),
	}
}

func (s *Store) FindRelationship(ctx context.Context, a, b uuid.UUID) (friend.Relationship, error) {
	var f model.Friendship
	err := s.db.WithContext(ctx).Where("pair_key = ?", model.PairKey(a, b)).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return friend.Relationship{}, friend.ErrNoRows
	}
	if err != nil {
		return friend.Relationship{}, err
	}
	return toRelationship(f), nil
}

func (s *Store) InsertRequest(ctx context.Context, from, to uuid.UUID) error {
	err := s.db.WithContext(ctx).Create(&model.Friendship{
		UserID1: from,
		UserID2: to,
		PairKey: model.PairKey(from, to),
		Status:  model.FriendshipPending,
	}).Error
	if dbadapter.IsUniqueViolation(err) {
		return friend.ErrConflict
	}
	return err
}

func (s *Store) AcceptRequest(ctx context.Context, a, b uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("pair_key = ? AND status = ?", model.PairKey(a, b), model.FriendshipPending).
		Updates(map[string]interface{}{
			"status":     model.FriendshipAccepted,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) DeleteRelationship(ctx context.Context, a, b uuid.UUID, status friend.Status) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("pair_key = ? AND status = ?", model.PairKey(a, b), string(status)).
		Delete(&model.Friendship{})
	return res.RowsAffected > 0, res.Error
}

// BumpDirtyBits upserts a fresh dirty bit for every user in one
// transaction.
func (s *Store) BumpDirtyBits(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.UserData, 0, len(userIDs))
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, model.UserData{UserID: id, FriendsListDirtyBit: uuid.New(), UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"friends_list_dirty_bit", "updated_at"}),
	}).Create(&rows).Error
}

func (s *Store) DirtyBit(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var rows []model.UserData
	err := s.db.WithContext(ctx).
		Select("user_id", "friends_list_dirty_bit").
		Where("user_id = ?", userID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return uuid.Nil, err
	}
	return rows[0].FriendsListDirtyBit, nil
}

func (s *Store) UserIDByUsername(ctx context.Context, username string) (uuid.UUID, error) {
	var u model.User
	err := s.db.WithContext(ctx).Select("id").
		Where("username = ?", strings.ToLower(username)).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, friend.ErrNoRows
	}
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (s *Store) SearchUsers(ctx context.Context, partial string, exclude uuid.UUID, limit int) ([]friend.UserSummary, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(partial)) + "%"
	var users []model.User
	err := s.db.WithContext(ctx).
		Select("id", "username", "displayed_name", "avatar_url", "level").
		Where("username LIKE ? ESCAPE '!' AND id <> ?", pattern, exclude).
		Order("username").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]friend.UserSummary, len(users))
	for i, u := range users {
		out[i] = friend.UserSummary{
			ID:            u.ID,
			Username:      u.Username,
			DisplayedName: u.DisplayedName,
			AvatarURL:     u.AvatarURL,
			Level:         u.Level,
		}
	}
	return out, nil
}

// AcceptedFriendIDs lists the users with an accepted friendship to userID.
func (s *Store) AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var rows []model.Friendship
	err := s.db.WithContext(ctx).
		Select("user_id1", "user_id2").
		Where("(user_id1 = ? OR user_id2 = ?) AND status = ?", userID, userID, model.FriendshipAccepted).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		if r.UserID1 == userID {
			ids = append(ids, r.UserID2)
		} else {
			ids = append(ids, r.UserID1)
		}
	}
	return ids, nil
}
