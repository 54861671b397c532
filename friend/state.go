package friend

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Filter selects which list the client displays.
type Filter string

const (
	FilterFriends  Filter = "friends"
	FilterRequests Filter = "requests"
)

// Valid reports whether f is a known filter.
func (f Filter) Valid() bool {
	return f == FilterFriends || f == FilterRequests
}

// State is an immutable value describing what the friends screen shows.
// Only Reduce produces new States; slices are never modified in place.
type State struct {
	UserID        uuid.UUID `json:"user_id"`
	Friends       []View    `json:"friends"`
	Requests      []View    `json:"requests"`
	FriendsCount  int       `json:"friends_count"`
	RequestsCount int       `json:"requests_count"`
	Filter        Filter    `json:"filter"`
	// Animating is the user whose request row is being confirmed or denied.
	Animating uuid.UUID `json:"animating"`
	Loaded    bool      `json:"loaded"`
	FromCache bool      `json:"from_cache"`
	// Stale is set when the lists could not be verified against the store.
	Stale   bool   `json:"stale"`
	Version uint64 `json:"version"`
}

// NewState returns the empty state for a user.
func NewState(userID uuid.UUID) State {
	return State{
		UserID:   userID,
		Friends:  []View{},
		Requests: []View{},
		Filter:   FilterFriends,
	}
}

// Displayed returns the list selected by the filter.
func (s State) Displayed() []View {
	if s.Filter == FilterRequests {
		return s.Requests
	}
	return s.Friends
}

// Action is a state transition.
type Action interface {
	apply(State) State
}

// Reduce applies a to s and returns the next state.
func Reduce(s State, a Action) State {
	next := a.apply(s)
	next.Version = s.Version + 1
	return next
}

// Loaded replaces both lists.
type Loaded struct {
	Lists     Lists
	FromCache bool
	Stale     bool
}

func (a Loaded) apply(s State) State {
	s.Friends = cloneViews(a.Lists.Friends)
	s.Requests = cloneViews(a.Lists.Requests)
	s.FriendsCount = len(s.Friends)
	s.RequestsCount = len(s.Requests)
	s.Loaded = true
	s.FromCache = a.FromCache
	s.Stale = a.Stale
	s.Animating = uuid.Nil
	return s
}

// LoadFailed keeps the current lists and marks them unverified.
type LoadFailed struct{}

func (LoadFailed) apply(s State) State {
	s.Stale = true
	s.Animating = uuid.Nil
	return s
}

// FilterSelected switches the displayed list. Unknown filters are ignored.
type FilterSelected struct {
	Filter Filter
}

func (a FilterSelected) apply(s State) State {
	if a.Filter.Valid() {
		s.Filter = a.Filter
	}
	return s
}

// AnimationStarted marks a request row as being acted upon.
type AnimationStarted struct {
	UserID uuid.UUID
}

func (a AnimationStarted) apply(s State) State {
	s.Animating = a.UserID
	return s
}

// AnimationEnded clears the row animation.
type AnimationEnded struct{}

func (AnimationEnded) apply(s State) State {
	s.Animating = uuid.Nil
	return s
}

// Cleared resets to the empty state, as on sign-out.
type Cleared struct{}

func (Cleared) apply(s State) State {
	return NewState(s.UserID)
}

func cloneViews(v []View) []View {
	if v == nil {
		return []View{}
	}
	return slices.Clone(v)
}

// Publisher sends serialized states to other processes.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// StateChannel is the pub/sub channel carrying a user's states.
func StateChannel(userID uuid.UUID) string {
	return "friends:" + userID.String()
}

// StateStore holds the current State and notifies subscribers of every
// new one. Subscribers with a full buffer miss intermediate states; the
// Version field lets them notice.
type StateStore struct {
	mu     sync.Mutex
	cur    State
	subs   map[int]chan State
	nextID int
	pub    Publisher
	logger *zap.Logger
}

// NewStateStore creates a store for userID. pub may be nil.
func NewStateStore(userID uuid.UUID, pub Publisher, logger *zap.Logger) *StateStore {
	return &StateStore{
		cur:    NewState(userID),
		subs:   make(map[int]chan State),
		pub:    pub,
		logger: logger,
	}
}

func (st *StateStore) Current() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur
}

// Dispatch reduces a into the current state, fans it out and returns it.
func (st *StateStore) Dispatch(a Action) State {
	st.mu.Lock()
	next := Reduce(st.cur, a)
	st.cur = next
	for _, ch := range st.subs {
		select {
		case ch <- next:
		default:
		}
	}
	st.mu.Unlock()

	st.publish(next)
	return next
}

func (st *StateStore) publish(s State) {
	if st.pub == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		st.logger.Error("marshal friend state", zap.Error(err))
		return
	}
	if err := st.pub.Publish(context.Background(), StateChannel(s.UserID), string(payload)); err != nil {
		st.logger.Warn("publish friend state failed",
			zap.String("user_id", s.UserID.String()), zap.Error(err))
	}
}

// Subscribe returns a channel receiving every new state, primed with the
// current one, and a func that unsubscribes and closes it.
func (st *StateStore) Subscribe(buf int) (<-chan State, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan State, buf)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.subs[id] = ch
	ch <- st.cur
	st.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, id)
			st.mu.Unlock()
			close(ch)
		})
	}
}
