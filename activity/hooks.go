package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/hook"
	"github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
)

const hookName = "activity"

// Register records quest, level and friendship events through hooks.
func (svc *Service) Register(hooks *hook.Center) {
	hooks.Register(hook.QuestStarted, 100, hookName, svc.onQuest("Started", model.ActivityQuestStarted))
	hooks.Register(hook.QuestCompleted, 100, hookName, svc.onQuest("Completed", model.ActivityQuestCompleted))
	hooks.Register(hook.QuestCancelled, 100, hookName, svc.onQuest("Abandoned", model.ActivityQuestCancelled))
	hooks.Register(hook.LevelUp, 100, hookName, svc.onLevelUp)
	hooks.Register(hook.FriendRequestAccepted, 100, hookName, svc.onFriended)
}

func (svc *Service) onQuest(verb, kind string) hook.Fn {
	return func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		ev, ok := data.(hook.QuestEvent)
		if !ok {
			return data, nil
		}
		detail := map[string]interface{}{"quest_id": ev.QuestID}
		if kind == model.ActivityQuestCompleted {
			detail["xp"] = ev.XP
			detail["gold"] = ev.Gold
		}
		svc.Log(ctx, Entry{
			TraceID: middleware.TraceIDFrom(ctx),
			UserID:  ev.UserID,
			Kind:    kind,
			Message: verb + " " + ev.QuestName,
			Detail:  detail,
		})
		return data, nil
	}
}

func (svc *Service) onLevelUp(ctx context.Context, _ string, data interface{}) (interface{}, error) {
	if ev, ok := data.(hook.QuestEvent); ok {
		svc.Log(ctx, Entry{
			TraceID: middleware.TraceIDFrom(ctx),
			UserID:  ev.UserID,
			Kind:    model.ActivityLevelUp,
			Message: levelMessage(ev.Level),
			Detail:  map[string]int{"level": ev.Level},
		})
	}
	return data, nil
}

// onFriended logs the new friendship for both users.
func (svc *Service) onFriended(ctx context.Context, _ string, data interface{}) (interface{}, error) {
	ev, ok := data.(hook.FriendEvent)
	if !ok {
		return data, nil
	}
	names, err := svc.usernames(ctx, ev.Actor, ev.Other)
	if err != nil {
		svc.logger.Warn("resolve usernames for activity failed", zap.Error(err))
	}
	trace := middleware.TraceIDFrom(ctx)
	for _, pair := range [][2]uuid.UUID{{ev.Actor, ev.Other}, {ev.Other, ev.Actor}} {
		svc.Log(ctx, Entry{
			TraceID: trace,
			UserID:  pair[0],
			Kind:    model.ActivityFriended,
			Message: "Became friends with @" + names[pair[1]],
			Detail:  map[string]string{"user_id": pair[1].String()},
		})
	}
	return data, nil
}

func (svc *Service) usernames(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]string, error) {
	var users []model.User
	err := svc.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error
	out := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, err
}
