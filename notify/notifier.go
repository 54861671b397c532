// Package notify pushes friend request alerts to users' phones.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/apperr"
	"github.com/squestapp/squest/server/hook"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	hookName    = "notify"
	pushTimeout = 5 * time.Second
)

const (
	KindFriendRequest  = "friend_request"
	KindFriendAccepted = "friend_accepted"
)

var ErrInvalidToken = apperr.InvalidArg("invalid device token")

type deviceInput struct {
	Token string `validate:"required,hexadecimal,min=64,max=200"`
}

// Notifier keeps device tokens and pushes friend graph events to them.
type Notifier struct {
	db       *gorm.DB
	pusher   Pusher
	validate *validator.Validate
	logger   *zap.Logger
}

func New(db *gorm.DB, pusher Pusher, logger *zap.Logger) *Notifier {
	if pusher == nil {
		pusher = NopPusher{}
	}
	return &Notifier{db: db, pusher: pusher, validate: validator.New(), logger: logger}
}

// RegisterDevice binds token to the user. A token already bound to
// another account moves to this one.
func (n *Notifier) RegisterDevice(ctx context.Context, userID uuid.UUID, deviceToken string) error {
	if err := n.validate.Struct(deviceInput{Token: deviceToken}); err != nil {
		return ErrInvalidToken
	}
	return n.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(&model.Device{UserID: userID, Token: deviceToken}).Error
}

// UnregisterDevices forgets every token of the user, on sign-out.
func (n *Notifier) UnregisterDevices(ctx context.Context, userID uuid.UUID) error {
	return n.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Device{}).Error
}

// Register subscribes to friend request events.
func (n *Notifier) Register(hooks *hook.Center) {
	hooks.Register(hook.FriendRequestSent, 200, hookName, n.onRequestSent)
	hooks.Register(hook.FriendRequestAccepted, 200, hookName, n.onRequestAccepted)
	hooks.Register(hook.UserLogout, 200, hookName, n.onLogout)
}

func (n *Notifier) onRequestSent(ctx context.Context, _ string, data interface{}) (interface{}, error) {
	if ev, ok := data.(hook.FriendEvent); ok {
		n.notify(ctx, ev.Other, ev.Actor, ev.ActorUsername, func(name string) Message {
			return Message{Title: "New friend request", Body: "@" + name + " wants to be your friend", Kind: KindFriendRequest}
		})
	}
	return data, nil
}

func (n *Notifier) onRequestAccepted(ctx context.Context, _ string, data interface{}) (interface{}, error) {
	if ev, ok := data.(hook.FriendEvent); ok {
		n.notify(ctx, ev.Other, ev.Actor, ev.ActorUsername, func(name string) Message {
			return Message{Title: "Friend request accepted", Body: "@" + name + " accepted your friend request", Kind: KindFriendAccepted}
		})
	}
	return data, nil
}

func (n *Notifier) onLogout(ctx context.Context, _ string, data interface{}) (interface{}, error) {
	if ev, ok := data.(hook.UserEvent); ok {
		if err := n.UnregisterDevices(ctx, ev.UserID); err != nil {
			n.logger.Warn("forget devices failed", zap.String("user_id", ev.UserID.String()), zap.Error(err))
		}
	}
	return data, nil
}

// notify pushes to every device of recipient. actorName is resolved from
// the database when empty.
func (n *Notifier) notify(ctx context.Context, recipient, actor uuid.UUID, actorName string, build func(string) Message) {
	var devices []model.Device
	if err := n.db.WithContext(ctx).Where("user_id = ?", recipient).Find(&devices).Error; err != nil {
		n.logger.Warn("load devices failed", zap.String("user_id", recipient.String()), zap.Error(err))
		return
	}
	if len(devices) == 0 {
		return
	}
	if actorName == "" {
		var u model.User
		if err := n.db.WithContext(ctx).Select("username").First(&u, "id = ?", actor).Error; err != nil {
			n.logger.Warn("resolve actor failed", zap.String("user_id", actor.String()), zap.Error(err))
			return
		}
		actorName = u.Username
	}
	msg := build(actorName)

	for _, d := range devices {
		pctx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := n.pusher.Push(pctx, d.Token, msg)
		cancel()
		switch {
		case errors.Is(err, ErrDeadToken):
			n.db.WithContext(ctx).Delete(&model.Device{}, d.ID)
		case err != nil:
			n.logger.Warn("push failed", zap.String("user_id", recipient.String()), zap.Error(err))
		}
	}
}
