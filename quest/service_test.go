package quest_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/friend/remote"
	"github.com/squestapp/squest/server/hook"
	"github.com/squestapp/squest/server/model"
	"github.com/squestapp/squest/server/quest"
	"github.com/squestapp/squest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	store  *remote.Store
	svc    *quest.Service
	board  *quest.Leaderboard
	events []hook.QuestEvent
	names  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	f := &fixture{db: db, store: remote.New(db)}
	hooks := hook.NewCenter()
	for _, ev := range []string{hook.QuestStarted, hook.QuestCompleted, hook.QuestCancelled, hook.LevelUp} {
		hooks.Register(ev, 0, "recorder", func(_ context.Context, event string, data interface{}) (interface{}, error) {
			f.names = append(f.names, event)
			f.events = append(f.events, data.(hook.QuestEvent))
			return data, nil
		})
	}
	f.board = quest.NewLeaderboard(db, c, testutil.Logger())
	f.svc = quest.NewService(db, quest.DefaultCatalog(), f.store, f.board, hooks, testutil.Logger())
	return f
}

func (f *fixture) befriend(t *testing.T, a, b uuid.UUID) {
	t.Helper()
	require.NoError(t, f.store.InsertRequest(context.Background(), a, b))
	ok, err := f.store.AcceptRequest(context.Background(), b, a)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStartCompleteFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "me", "Me")

	b, err := f.svc.Board(ctx, me.ID)
	require.NoError(t, err)
	assert.Zero(t, b.InProgress)
	assert.Len(t, b.Quests, 7)

	require.NoError(t, f.svc.Start(ctx, me.ID, 4))
	b, err = f.svc.Board(ctx, me.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, b.InProgress)
	assert.NotNil(t, b.StartedAt)
	assert.Equal(t, 4, b.Quests[0].ID)

	err = f.svc.Start(ctx, me.ID, 1)
	assert.ErrorIs(t, err, quest.ErrQuestInProgress)

	r, err := f.svc.Complete(ctx, me.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 200, r.XP)
	assert.Equal(t, 40, r.Gold)
	assert.Equal(t, int64(200), r.TotalXP)
	assert.Equal(t, 2, r.Level)
	assert.True(t, r.LeveledUp)

	var u model.User
	require.NoError(t, f.db.First(&u, "id = ?", me.ID).Error)
	assert.Equal(t, int64(200), u.XP)
	assert.Equal(t, int64(40), u.Gold)
	assert.Equal(t, 2, u.Level)

	b, err = f.svc.Board(ctx, me.ID)
	require.NoError(t, err)
	assert.Zero(t, b.InProgress)

	logs, err := f.svc.History(ctx, me.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.QuestCompleted, logs[0].Outcome)
	assert.Equal(t, 200, logs[0].XPAwarded)
	assert.NotNil(t, logs[0].FinishedAt)

	assert.Equal(t, []string{hook.QuestStarted, hook.QuestCompleted, hook.LevelUp}, f.names)
	assert.Equal(t, "Digital Detox", f.events[1].QuestName)
	assert.Equal(t, 2, f.events[2].Level)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "me", "Me")

	assert.ErrorIs(t, f.svc.Cancel(ctx, me.ID, 2), quest.ErrNotInProgress)
	require.NoError(t, f.svc.Start(ctx, me.ID, 2))
	assert.ErrorIs(t, f.svc.Cancel(ctx, me.ID, 3), quest.ErrNotInProgress)
	require.NoError(t, f.svc.Cancel(ctx, me.ID, 2))

	var u model.User
	require.NoError(t, f.db.First(&u, "id = ?", me.ID).Error)
	assert.Zero(t, u.XP)

	logs, err := f.svc.History(ctx, me.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.QuestCancelled, logs[0].Outcome)

	// A new quest can start afterwards.
	require.NoError(t, f.svc.Start(ctx, me.ID, 3))
}

func TestCompleteRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "me", "Me")

	_, err := f.svc.Complete(ctx, me.ID, 1)
	assert.ErrorIs(t, err, quest.ErrNotInProgress)
	_, err = f.svc.Complete(ctx, me.ID, 42)
	assert.ErrorIs(t, err, quest.ErrUnknownQuest)
	assert.ErrorIs(t, f.svc.Start(ctx, me.ID, 42), quest.ErrUnknownQuest)
}

func TestStartWithoutUserDataRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, f.db.Create(&model.User{ID: id, Username: "bare", PasswordHash: "x"}).Error)

	require.NoError(t, f.svc.Start(ctx, id, 1))
	var d model.UserData
	require.NoError(t, f.db.First(&d, "user_id = ?", id).Error)
	assert.Equal(t, 1, d.QuestIDInProgress)
	assert.NotEqual(t, uuid.Nil, d.FriendsListDirtyBit)
}

func TestQuestChangesInvalidateFriendsLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "me", "Me")
	pal := testutil.CreateUser(t, f.db, "pal", "Pal")
	stranger := testutil.CreateUser(t, f.db, "stranger", "Stranger")
	f.befriend(t, me.ID, pal.ID)

	bit := func(id uuid.UUID) uuid.UUID {
		b, err := f.store.DirtyBit(ctx, id)
		require.NoError(t, err)
		return b
	}
	palBefore, strangerBefore := bit(pal.ID), bit(stranger.ID)

	require.NoError(t, f.svc.Start(ctx, me.ID, 5))
	assert.NotEqual(t, palBefore, bit(pal.ID))
	assert.Equal(t, strangerBefore, bit(stranger.ID))

	recs, err := f.store.AcceptedAsRecipient(ctx, pal.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].QuestID)

	palBefore = bit(pal.ID)
	_, err = f.svc.Complete(ctx, me.ID, 5)
	require.NoError(t, err)
	assert.NotEqual(t, palBefore, bit(pal.ID))
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, name := range []string{"ann", "ben", "cat"} {
		u := testutil.CreateUser(t, f.db, name, name)
		require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", u.ID).Update("xp", (i+1)*100).Error)
	}

	// Empty sorted set falls back to the database.
	top, err := f.board.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "cat", top[0].Username)
	assert.Equal(t, 1, top[0].Rank)

	n, err := f.board.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	top, err = f.board.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"cat", "ben", "ann"}, []string{top[0].Username, top[1].Username, top[2].Username})
	assert.Equal(t, int64(300), top[0].XP)
	assert.Equal(t, 3, top[2].Rank)

	// Completing a quest moves the user up without a refresh.
	ann := top[2].UserID
	require.NoError(t, f.svc.Start(ctx, ann, 6))
	_, err = f.svc.Complete(ctx, ann, 6)
	require.NoError(t, err)
	top, err = f.board.Top(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ann", top[0].Username)
	assert.Equal(t, int64(1100), top[0].XP)
}
