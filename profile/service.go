// Package profile edits what friends see of a user: the displayed name
// and the avatar.
package profile

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/apperr"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxAvatarBytes bounds an uploaded avatar.
const MaxAvatarBytes = 5 << 20

var (
	ErrInvalidName     = apperr.InvalidArg("displayed name must be 1 to 50 characters")
	ErrInvalidAvatar   = apperr.InvalidArg("avatar must be a JPEG image up to 5 MB")
	ErrStorageDisabled = apperr.FailedPrecondition("avatar storage is not configured")
	ErrUserNotFound    = apperr.NotFound("user not found")
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// FriendGraph lets the service invalidate the lists of friends, which show
// the displayed name and avatar.
type FriendGraph interface {
	AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	BumpDirtyBits(ctx context.Context, userIDs ...uuid.UUID) error
}

type nameInput struct {
	DisplayedName string `validate:"required,min=1,max=50"`
}

type Service struct {
	db       *gorm.DB
	uploader Uploader
	friends  FriendGraph
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. uploader and friends may be nil; without an
// uploader avatar uploads fail with ErrStorageDisabled.
func NewService(db *gorm.DB, uploader Uploader, friends FriendGraph, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		uploader: uploader,
		friends:  friends,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the user's profile.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetDisplayedName trims and validates name, stores it and returns the
// stored value.
func (s *Service) SetDisplayedName(ctx context.Context, userID uuid.UUID, name string) (string, error) {
	in := nameInput{DisplayedName: strings.TrimSpace(name)}
	if err := s.validate.Struct(in); err != nil {
		return "", ErrInvalidName
	}
	if err := s.update(ctx, userID, "displayed_name", in.DisplayedName); err != nil {
		return "", err
	}
	return in.DisplayedName, nil
}

// AvatarKey is the object key of an avatar uploaded at ts.
func AvatarKey(userID uuid.UUID, ts time.Time) string {
	return fmt.Sprintf("%s/%d.jpg", strings.ToLower(userID.String()), ts.Unix())
}

// UploadAvatar stores a JPEG avatar and saves its public URL on the user.
func (s *Service) UploadAvatar(ctx context.Context, userID uuid.UUID, jpeg []byte) (string, error) {
	if s.uploader == nil {
		return "", ErrStorageDisabled
	}
	if len(jpeg) == 0 || len(jpeg) > MaxAvatarBytes || !bytes.HasPrefix(jpeg, jpegMagic) {
		return "", ErrInvalidAvatar
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return "", err
	}
	url, err := s.uploader.Put(ctx, AvatarKey(userID, s.now()), "image/jpeg", jpeg)
	if err != nil {
		return "", apperr.Unavailable("avatar upload failed", err)
	}
	if err := s.update(ctx, userID, "avatar_url", url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) update(ctx context.Context, userID uuid.UUID, column string, value string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.touchFriends(ctx, userID)
	return nil
}

func (s *Service) touchFriends(ctx context.Context, userID uuid.UUID) {
	if s.friends == nil {
		return
	}
	ids, err := s.friends.AcceptedFriendIDs(ctx, userID)
	if err == nil && len(ids) > 0 {
		err = s.friends.BumpDirtyBits(ctx, ids...)
	}
	if err != nil {
		s.logger.Warn("invalidate friends after profile change failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}
