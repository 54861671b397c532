package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_NoHandlers(t *testing.T) {
	c := NewCenter()
	out, err := c.Trigger(context.Background(), FriendRequestSent, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestTrigger_NilCenter(t *testing.T) {
	var c *Center
	out, err := c.Trigger(context.Background(), QuestStarted, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestTrigger_FriendEventPayload(t *testing.T) {
	c := NewCenter()
	actor, other := uuid.New(), uuid.New()
	var got FriendEvent
	c.Register(FriendRequestAccepted, 0, "activity", func(_ context.Context, event string, data interface{}) (interface{}, error) {
		assert.Equal(t, FriendRequestAccepted, event)
		got = data.(FriendEvent)
		return data, nil
	})
	_, err := c.Trigger(context.Background(), FriendRequestAccepted, FriendEvent{Actor: actor, Other: other})
	require.NoError(t, err)
	assert.Equal(t, actor, got.Actor)
	assert.Equal(t, other, got.Other)
}

func TestTrigger_PriorityThenRegistrationOrder(t *testing.T) {
	c := NewCenter()
	var order []string
	add := func(prio int, name string) {
		c.Register("ev", prio, name, func(_ context.Context, _ string, d interface{}) (interface{}, error) {
			order = append(order, name)
			return d, nil
		})
	}
	add(10, "push")
	add(1, "activity")
	add(5, "ranking")
	add(1, "audit")

	_, _ = c.Trigger(context.Background(), "ev", nil)
	assert.Equal(t, []string{"activity", "audit", "ranking", "push"}, order)
}

func TestTrigger_DataThreadsThrough(t *testing.T) {
	c := NewCenter()
	c.Register("ev", 0, "double", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d.(int) * 2, nil
	})
	c.Register("ev", 1, "addTen", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d.(int) + 10, nil
	})
	out, err := c.Trigger(context.Background(), "ev", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out)
}

func TestTrigger_Interrupt(t *testing.T) {
	c := NewCenter()
	secondCalled := false
	c.Register("ev", 0, "stop", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, ErrInterrupt
	})
	c.Register("ev", 1, "late", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		secondCalled = true
		return d, nil
	})
	_, err := c.Trigger(context.Background(), "ev", nil)
	assert.ErrorIs(t, err, ErrInterrupt)
	assert.False(t, secondCalled)
}

func TestTrigger_FailingHandlerKeepsPayload(t *testing.T) {
	c := NewCenter()
	c.Register("ev", 0, "broken", func(_ context.Context, _ string, _ interface{}) (interface{}, error) {
		return nil, errors.New("push gateway down")
	})
	var seen interface{}
	c.Register("ev", 1, "next", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		seen = d
		return d, nil
	})
	out, err := c.Trigger(context.Background(), "ev", "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", seen)
	assert.Equal(t, "payload", out)
}

func TestUnregister_RemovesNameEverywhere(t *testing.T) {
	c := NewCenter()
	var a, b, other bool
	c.Register(QuestStarted, 0, "notify", func(_ context.Context, _ string, d interface{}) (interface{}, error) { a = true; return d, nil })
	c.Register(QuestCompleted, 0, "notify", func(_ context.Context, _ string, d interface{}) (interface{}, error) { b = true; return d, nil })
	c.Register(QuestCompleted, 1, "activity", func(_ context.Context, _ string, d interface{}) (interface{}, error) { other = true; return d, nil })

	c.Unregister("notify")
	_, _ = c.Trigger(context.Background(), QuestStarted, nil)
	_, _ = c.Trigger(context.Background(), QuestCompleted, nil)
	assert.False(t, a)
	assert.False(t, b)
	assert.True(t, other)
}
