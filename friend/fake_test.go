package friend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/testutil"
	"go.uber.org/zap"
)

type fakeUser struct {
	id          uuid.UUID
	username    string
	displayName string
	online      bool
	lastOnline  time.Time
	level       int
	questID     int
}

// fakeRemote is an in-memory RemoteStore with failure injection.
type fakeRemote struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*fakeUser
	rels   map[string]*Relationship
	bits   map[uuid.UUID]uuid.UUID
	nextID int64

	errs  map[string]error // method -> error to return
	calls map[string]int
	// hang makes the next n calls of a method wait for ctx to expire;
	// commit decides whether the hanging call applies its change first.
	hang   map[string]int
	commit bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		users: make(map[uuid.UUID]*fakeUser),
		rels:  make(map[string]*Relationship),
		bits:  make(map[uuid.UUID]uuid.UUID),
		errs:  make(map[string]error),
		calls: make(map[string]int),
		hang:  make(map[string]int),
	}
}

func pairKey(a, b uuid.UUID) string {
	sa, sb := a.String(), b.String()
	if sa > sb {
		sa, sb = sb, sa
	}
	return sa + ":" + sb
}

func (f *fakeRemote) addUser(username, displayName string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.users[id] = &fakeUser{id: id, username: username, displayName: displayName, level: 1,
		lastOnline: time.Now().Add(-2 * time.Hour)}
	f.bits[id] = uuid.New()
	return id
}

func (f *fakeRemote) setErr(method string, err error) {
	f.mu.Lock()
	f.errs[method] = err
	f.mu.Unlock()
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) bit(id uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits[id]
}

func (f *fakeRemote) relCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rels)
}

// enter records the call and reports an injected error or hang.
func (f *fakeRemote) enter(ctx context.Context, method string) (hang bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err := f.errs[method]; err != nil {
		return false, err
	}
	if f.hang[method] > 0 {
		f.hang[method]--
		return true, nil
	}
	return false, nil
}

func (f *fakeRemote) list(ctx context.Context, method string, me uuid.UUID, meIsRequester bool, status Status) ([]Record, error) {
	if _, err := f.enter(ctx, method); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.rels {
		if r.Status != status {
			continue
		}
		var other uuid.UUID
		switch {
		case meIsRequester && r.UserID1 == me:
			other = r.UserID2
		case !meIsRequester && r.UserID2 == me:
			other = r.UserID1
		default:
			continue
		}
		u := f.users[other]
		out = append(out, Record{
			Relationship:  *r,
			OtherID:       other,
			Username:      u.username,
			DisplayedName: u.displayName,
			IsOnline:      u.online,
			LastOnline:    u.lastOnline,
			Level:         u.level,
			QuestID:       u.questID,
		})
	}
	return out, nil
}

func (f *fakeRemote) AcceptedAsRequester(ctx context.Context, id uuid.UUID) ([]Record, error) {
	return f.list(ctx, "AcceptedAsRequester", id, true, StatusAccepted)
}

func (f *fakeRemote) AcceptedAsRecipient(ctx context.Context, id uuid.UUID) ([]Record, error) {
	return f.list(ctx, "AcceptedAsRecipient", id, false, StatusAccepted)
}

func (f *fakeRemote) PendingAsRecipient(ctx context.Context, id uuid.UUID) ([]Record, error) {
	return f.list(ctx, "PendingAsRecipient", id, false, StatusPending)
}

func (f *fakeRemote) PendingAsRequester(ctx context.Context, id uuid.UUID) ([]Record, error) {
	return f.list(ctx, "PendingAsRequester", id, true, StatusPending)
}

func (f *fakeRemote) listCalls() int {
	return f.callCount("AcceptedAsRequester") + f.callCount("AcceptedAsRecipient") +
		f.callCount("PendingAsRecipient") + f.callCount("PendingAsRequester")
}

func (f *fakeRemote) FindRelationship(ctx context.Context, a, b uuid.UUID) (Relationship, error) {
	if _, err := f.enter(ctx, "FindRelationship"); err != nil {
		return Relationship{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rels[pairKey(a, b)]
	if !ok {
		return Relationship{}, ErrNoRows
	}
	return *r, nil
}

func (f *fakeRemote) InsertRequest(ctx context.Context, from, to uuid.UUID) error {
	hang, err := f.enter(ctx, "InsertRequest")
	if err != nil {
		return err
	}
	if hang && !f.commit {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	key := pairKey(from, to)
	if _, ok := f.rels[key]; ok {
		f.mu.Unlock()
		return ErrConflict
	}
	f.nextID++
	f.rels[key] = &Relationship{ID: f.nextID, UserID1: from, UserID2: to, Status: StatusPending}
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeRemote) AcceptRequest(ctx context.Context, a, b uuid.UUID) (bool, error) {
	hang, err := f.enter(ctx, "AcceptRequest")
	if err != nil {
		return false, err
	}
	if hang && !f.commit {
		<-ctx.Done()
		return false, ctx.Err()
	}
	f.mu.Lock()
	r, ok := f.rels[pairKey(a, b)]
	changed := ok && r.Status == StatusPending
	if changed {
		r.Status = StatusAccepted
	}
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return changed, nil
}

func (f *fakeRemote) DeleteRelationship(ctx context.Context, a, b uuid.UUID, status Status) (bool, error) {
	hang, err := f.enter(ctx, "DeleteRelationship")
	if err != nil {
		return false, err
	}
	if hang && !f.commit {
		<-ctx.Done()
		return false, ctx.Err()
	}
	f.mu.Lock()
	key := pairKey(a, b)
	r, ok := f.rels[key]
	deleted := ok && r.Status == status
	if deleted {
		delete(f.rels, key)
	}
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return deleted, nil
}

func (f *fakeRemote) BumpDirtyBits(ctx context.Context, ids ...uuid.UUID) error {
	if _, err := f.enter(ctx, "BumpDirtyBits"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.bits[id] = uuid.New()
	}
	return nil
}

func (f *fakeRemote) DirtyBit(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	if _, err := f.enter(ctx, "DirtyBit"); err != nil {
		return uuid.Nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits[id], nil
}

func (f *fakeRemote) UserIDByUsername(ctx context.Context, name string) (uuid.UUID, error) {
	if _, err := f.enter(ctx, "UserIDByUsername"); err != nil {
		return uuid.Nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.username == name {
			return u.id, nil
		}
	}
	return uuid.Nil, ErrNoRows
}

func (f *fakeRemote) SearchUsers(ctx context.Context, partial string, exclude uuid.UUID, limit int) ([]UserSummary, error) {
	if _, err := f.enter(ctx, "SearchUsers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []UserSummary
	for _, u := range f.users {
		if u.id != exclude && strings.Contains(u.username, partial) && len(out) < limit {
			out = append(out, UserSummary{ID: u.id, Username: u.username, DisplayedName: u.displayName})
		}
	}
	return out, nil
}

// memCache is an in-memory LocalCache with failure injection.
type memCache struct {
	mu         sync.Mutex
	snap       Snapshot
	replaceErr error
	metaErr    error
	replaces   int
}

func (m *memCache) Meta(context.Context) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metaErr != nil {
		return Meta{}, m.metaErr
	}
	return m.snap.Meta, nil
}

func (m *memCache) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memCache) Replace(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaces++
	m.snap = s
	return nil
}

func (m *memCache) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{}
	return nil
}

func (m *memCache) current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func testLogger() *zap.Logger {
	return testutil.Logger()
}

func newTestService(remote RemoteStore) *Service {
	return NewService(remote, Options{
		QueryTimeout:    time.Second,
		MutationTimeout: 50 * time.Millisecond,
		MutationRetries: 2,
	}, nil, testLogger())
}
