package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/config"
	"github.com/squestapp/squest/server/hook"
	"github.com/squestapp/squest/server/model"
	"github.com/squestapp/squest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	token string
	msg   Message
}

type fakePusher struct {
	mu   sync.Mutex
	sent []sent
	errs map[string]error
}

func (f *fakePusher) Push(_ context.Context, deviceToken string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[deviceToken]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{token: deviceToken, msg: msg})
	return nil
}

func tok(c string) string { return strings.Repeat(c, 64) }

func TestRegisterDevice(t *testing.T) {
	db := testutil.SetupTestDB(t)
	n := New(db, nil, testutil.Logger())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, n.RegisterDevice(ctx, a, tok("a")))
	require.NoError(t, n.RegisterDevice(ctx, a, tok("a")))
	// The same phone signs in as someone else.
	require.NoError(t, n.RegisterDevice(ctx, b, tok("a")))

	var devices []model.Device
	require.NoError(t, db.Find(&devices).Error)
	require.Len(t, devices, 1)
	assert.Equal(t, b, devices[0].UserID)

	for _, bad := range []string{"", "not-hex", tok("a")[:10], tok("z")} {
		assert.ErrorIs(t, n.RegisterDevice(ctx, a, bad), ErrInvalidToken, bad)
	}
}

func TestFriendRequestPush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	alice := testutil.CreateUser(t, db, "alice", "Alice")
	bob := testutil.CreateUser(t, db, "bob", "Bob")
	p := &fakePusher{}
	n := New(db, p, testutil.Logger())
	hooks := hook.NewCenter()
	n.Register(hooks)
	ctx := context.Background()
	require.NoError(t, n.RegisterDevice(ctx, bob.ID, tok("b")))
	require.NoError(t, n.RegisterDevice(ctx, alice.ID, tok("a")))

	_, err := hooks.Trigger(ctx, hook.FriendRequestSent, hook.FriendEvent{Actor: alice.ID, Other: bob.ID, OtherUsername: "bob"})
	require.NoError(t, err)
	require.Len(t, p.sent, 1)
	assert.Equal(t, tok("b"), p.sent[0].token)
	assert.Equal(t, "@alice wants to be your friend", p.sent[0].msg.Body)
	assert.Equal(t, KindFriendRequest, p.sent[0].msg.Kind)

	_, err = hooks.Trigger(ctx, hook.FriendRequestAccepted, hook.FriendEvent{Actor: bob.ID, Other: alice.ID})
	require.NoError(t, err)
	require.Len(t, p.sent, 2)
	assert.Equal(t, tok("a"), p.sent[1].token)
	assert.Equal(t, "@bob accepted your friend request", p.sent[1].msg.Body)
}

func TestDeadTokenForgotten(t *testing.T) {
	db := testutil.SetupTestDB(t)
	alice := testutil.CreateUser(t, db, "alice", "Alice")
	bob := testutil.CreateUser(t, db, "bob", "Bob")
	p := &fakePusher{errs: map[string]error{
		tok("d"): ErrDeadToken,
		tok("e"): errors.New("timeout"),
	}}
	n := New(db, p, testutil.Logger())
	hooks := hook.NewCenter()
	n.Register(hooks)
	ctx := context.Background()
	for _, c := range []string{"d", "e", "f"} {
		require.NoError(t, n.RegisterDevice(ctx, bob.ID, tok(c)))
	}

	_, err := hooks.Trigger(ctx, hook.FriendRequestSent, hook.FriendEvent{Actor: alice.ID, Other: bob.ID, ActorUsername: "alice"})
	require.NoError(t, err)
	require.Len(t, p.sent, 1)
	assert.Equal(t, tok("f"), p.sent[0].token)

	var tokens []string
	require.NoError(t, db.Model(&model.Device{}).Order("token").Pluck("token", &tokens).Error)
	assert.Equal(t, []string{tok("e"), tok("f")}, tokens)
}

func TestLogoutForgetsDevices(t *testing.T) {
	db := testutil.SetupTestDB(t)
	n := New(db, nil, testutil.Logger())
	hooks := hook.NewCenter()
	n.Register(hooks)
	ctx := context.Background()
	uid, other := uuid.New(), uuid.New()
	require.NoError(t, n.RegisterDevice(ctx, uid, tok("1")))
	require.NoError(t, n.RegisterDevice(ctx, other, tok("2")))

	_, err := hooks.Trigger(ctx, hook.UserLogout, hook.UserEvent{UserID: uid})
	require.NoError(t, err)

	var n2 int64
	db.Model(&model.Device{}).Count(&n2)
	assert.Equal(t, int64(1), n2)
}

func TestNewPusher_Disabled(t *testing.T) {
	p, err := NewPusher(config.PushConfig{})
	require.NoError(t, err)
	assert.IsType(t, NopPusher{}, p)
	assert.NoError(t, p.Push(context.Background(), tok("a"), Message{}))

	_, err = NewPusher(config.PushConfig{KeyPath: "/nonexistent/key.p8"})
	assert.Error(t, err)
}
