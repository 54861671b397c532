package friend

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	remote *fakeRemote
	local  *memCache
	state  *StateStore
	me     uuid.UUID
	bob    uuid.UUID
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	r := newFakeRemote()
	me := r.addUser("me", "Me Myself")
	bob := r.addUser("bob", "Bob Builder")
	r.rels[pairKey(me, bob)] = &Relationship{ID: 1, UserID1: me, UserID2: bob, Status: StatusAccepted}
	return &syncFixture{
		remote: r,
		local:  &memCache{},
		state:  NewStateStore(me, nil, testLogger()),
		me:     me,
		bob:    bob,
	}
}

func (f *syncFixture) coordinator(policy FailPolicy) *Coordinator {
	return NewCoordinator(newTestService(f.remote), f.local, f.state, policy, testLogger())
}

func TestReconcile_EmptyCacheReloads(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, f.remote.bit(f.me), res.DirtyBit)

	snap := f.local.current()
	assert.Equal(t, f.me, snap.UserID)
	assert.Equal(t, f.remote.bit(f.me), snap.DirtyBit)
	require.Len(t, snap.Friends, 1)
	assert.Equal(t, "@bob", snap.Friends[0].Username)

	st := f.state.Current()
	assert.True(t, st.Loaded)
	assert.False(t, st.FromCache)
	assert.Equal(t, 1, st.FriendsCount)
}

func TestReconcile_MatchingBitIsIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)
	ctx := context.Background()

	_, err := c.Reconcile(ctx, f.me, true)
	require.NoError(t, err)
	loads := f.remote.listCalls()
	replaces := f.local.replaces

	for i := 0; i < 3; i++ {
		res, err := c.Reconcile(ctx, f.me, false)
		require.NoError(t, err)
		assert.False(t, res.Reloaded)
	}
	assert.Equal(t, loads, f.remote.listCalls())
	assert.Equal(t, replaces, f.local.replaces)
}

func TestReconcile_FirstRunWithMatchingBitUsesCacheOnly(t *testing.T) {
	f := newSyncFixture(t)
	f.local.snap = Snapshot{
		Meta:  Meta{UserID: f.me, DirtyBit: f.remote.bit(f.me)},
		Lists: Lists{Friends: []View{{UserID: f.bob, Username: "@bob"}}},
	}
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.False(t, res.Reloaded)
	assert.True(t, res.FromCache)
	assert.Zero(t, f.remote.listCalls())

	st := f.state.Current()
	assert.True(t, st.FromCache)
	assert.Equal(t, 1, st.FriendsCount)
}

func TestReconcile_ChangedBitReloads(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)
	ctx := context.Background()
	_, err := c.Reconcile(ctx, f.me, true)
	require.NoError(t, err)

	carol := f.remote.addUser("carol", "Carol")
	f.remote.rels[pairKey(carol, f.me)] = &Relationship{ID: 2, UserID1: carol, UserID2: f.me, Status: StatusPending}
	require.NoError(t, f.remote.BumpDirtyBits(ctx, f.me))

	res, err := c.Reconcile(ctx, f.me, false)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, f.remote.bit(f.me), f.local.current().DirtyBit)
	require.Len(t, f.state.Current().Requests, 1)
	assert.Equal(t, DirectionIncoming, f.state.Current().Requests[0].Direction)
}

func TestReconcile_FailedReloadLeavesCacheUntouched(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)
	ctx := context.Background()
	_, err := c.Reconcile(ctx, f.me, true)
	require.NoError(t, err)
	before := f.local.current()

	require.NoError(t, f.remote.BumpDirtyBits(ctx, f.me))
	f.remote.setErr("PendingAsRecipient", errors.New("connection reset"))

	_, err = c.Reconcile(ctx, f.me, false)
	require.Error(t, err)
	assert.Equal(t, before, f.local.current())
	assert.True(t, f.state.Current().Stale)
	assert.Equal(t, 1, f.state.Current().FriendsCount)
}

func TestReconcile_FailClosedKeepsCache(t *testing.T) {
	f := newSyncFixture(t)
	f.local.snap = Snapshot{
		Meta:  Meta{UserID: f.me, DirtyBit: uuid.New()},
		Lists: Lists{Friends: []View{{UserID: f.bob, Username: "@bob"}}},
	}
	f.remote.setErr("DirtyBit", errors.New("timeout"))
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.FromCache)
	assert.False(t, res.Reloaded)
	assert.Zero(t, f.remote.listCalls())

	st := f.state.Current()
	assert.True(t, st.Stale)
	assert.Equal(t, 1, st.FriendsCount)
}

func TestReconcile_FailClosedWithoutCache(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.setErr("DirtyBit", errors.New("timeout"))
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.FromCache)
	assert.Zero(t, f.remote.listCalls())
	assert.True(t, f.state.Current().Stale)
}

func TestReconcile_FailOpenReloads(t *testing.T) {
	f := newSyncFixture(t)
	f.local.snap = Snapshot{Meta: Meta{UserID: f.me, DirtyBit: uuid.New()}}
	f.remote.setErr("DirtyBit", errors.New("timeout"))
	c := f.coordinator(FailOpen)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, uuid.Nil, res.DirtyBit)
	assert.Equal(t, uuid.Nil, f.local.current().DirtyBit)
	assert.Equal(t, 1, f.state.Current().FriendsCount)

	// The Nil bit forces a reload on the next reconcile too.
	f.remote.setErr("DirtyBit", nil)
	res, err = c.Reconcile(context.Background(), f.me, false)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
}

func TestReconcile_OtherUsersCacheIsIgnored(t *testing.T) {
	f := newSyncFixture(t)
	f.local.snap = Snapshot{
		Meta:  Meta{UserID: f.bob, DirtyBit: f.remote.bit(f.me)},
		Lists: Lists{Friends: []View{{UserID: uuid.New(), Username: "@stranger"}}},
	}
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, f.me, f.local.current().UserID)
	assert.Equal(t, "@bob", f.state.Current().Friends[0].Username)
}

func TestReconcile_MetaReadErrorReloads(t *testing.T) {
	f := newSyncFixture(t)
	f.local.metaErr = errors.New("disk I/O error")
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, false)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
}

func TestReconcile_ReplaceFailureStillShowsLists(t *testing.T) {
	f := newSyncFixture(t)
	f.local.replaceErr = errors.New("disk full")
	c := f.coordinator(FailClosed)

	res, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, uuid.Nil, res.DirtyBit)
	assert.Equal(t, 1, f.state.Current().FriendsCount)
}

func TestReconcile_NotAuthenticated(t *testing.T) {
	f := newSyncFixture(t)
	_, err := f.coordinator(FailClosed).Reconcile(context.Background(), uuid.Nil, true)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, f.remote.callCount("DirtyBit"))
}

func TestRefresh_ReadsBitBeforeLists(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)

	res, err := c.Refresh(context.Background(), f.me)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, 1, f.remote.callCount("DirtyBit"))
	assert.Equal(t, f.remote.bit(f.me), f.local.current().DirtyBit)
}

func TestRefresh_BitFailureStoresNil(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.setErr("DirtyBit", errors.New("timeout"))
	c := f.coordinator(FailClosed)

	res, err := c.Refresh(context.Background(), f.me)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, res.DirtyBit)
	assert.Equal(t, 1, f.state.Current().FriendsCount)
}

func TestCoordinatorClear(t *testing.T) {
	f := newSyncFixture(t)
	c := f.coordinator(FailClosed)
	_, err := c.Reconcile(context.Background(), f.me, true)
	require.NoError(t, err)

	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, uuid.Nil, f.local.current().UserID)
	assert.False(t, f.state.Current().Loaded)
}

func TestParseFailPolicy(t *testing.T) {
	p, err := ParseFailPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	p, err = ParseFailPolicy("fail-open")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	_, err = ParseFailPolicy("sometimes")
	assert.Error(t, err)
}
