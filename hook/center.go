package hook

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrInterrupt stops the handler chain of a Trigger.
var ErrInterrupt = errors.New("hook interrupted")

// Fn is a hook handler. It returns the (possibly replaced) payload.
type Fn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type entry struct {
	priority int
	name     string
	fn       Fn
}

// Center dispatches domain events (friend graph changes, quest progress)
// to the activity log, push notifications and ranking.
type Center struct {
	mu    sync.RWMutex
	hooks map[string][]entry
}

func NewCenter() *Center {
	return &Center{hooks: make(map[string][]entry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities
// run in registration order.
func (c *Center) Register(event string, priority int, name string, fn Fn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.hooks[event], entry{priority: priority, name: name, fn: fn})
	slices.SortStableFunc(entries, func(a, b entry) int { return a.priority - b.priority })
	c.hooks[event] = entries
}

// Unregister removes the named handlers from every event.
func (c *Center) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for event, entries := range c.hooks {
		c.hooks[event] = slices.DeleteFunc(entries, func(e entry) bool { return e.name == name })
	}
}

// Trigger runs the handlers for event in priority order, threading data
// through them. ErrInterrupt stops the chain and is returned; other
// handler errors are skipped so one failing listener cannot block the rest.
func (c *Center) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	if c == nil {
		return data, nil
	}
	c.mu.RLock()
	entries := slices.Clone(c.hooks[event])
	c.mu.RUnlock()

	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err == nil {
			data = out
		}
	}
	return data, nil
}

// Event names.
const (
	FriendRequestSent     = "friend_request_sent"
	FriendRequestAccepted = "friend_request_accepted"
	FriendRequestDenied   = "friend_request_denied"
	FriendRemoved         = "friend_removed"
	QuestStarted          = "quest_started"
	QuestCompleted        = "quest_completed"
	QuestCancelled        = "quest_cancelled"
	LevelUp               = "level_up"
	UserLogin             = "user_login"
	UserLogout            = "user_logout"
)

// FriendEvent is the payload of the friend_* events. Actor performed the
// mutation on the pair (Actor, Other).
type FriendEvent struct {
	Actor         uuid.UUID
	Other         uuid.UUID
	ActorUsername string
	OtherUsername string
}

// QuestEvent is the payload of the quest_* and level_up events.
type QuestEvent struct {
	UserID    uuid.UUID
	QuestID   int
	QuestName string
	XP        int
	Gold      int
	Level     int
}

// UserEvent is the payload of user_login and user_logout.
type UserEvent struct {
	UserID uuid.UUID
}
