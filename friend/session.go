package friend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/scheduler"
	"go.uber.org/zap"
)

// Delayer schedules named one-shot tasks. Scheduling a name again replaces
// the pending task.
type Delayer interface {
	AddDelay(name string, delay time.Duration, fn scheduler.TaskFn)
	Remove(name string)
}

// Session is one signed-in user's friend screen: the state, the device
// cache behind it and the operations on it. Its methods run one at a time.
type Session struct {
	mu     sync.Mutex
	userID uuid.UUID
	svc    *Service
	coord  *Coordinator
	state  *StateStore
	logger *zap.Logger

	delayer      Delayer
	refreshDelay time.Duration
	refreshTTL   time.Duration
	started      bool
}

// SessionConfig holds the collaborators shared by all sessions.
type SessionConfig struct {
	Service *Service
	Policy  FailPolicy
	// Delayer and RefreshDelay postpone the refresh after confirm, deny and
	// unfriend. Without a Delayer or with a zero delay the refresh runs
	// before the operation returns.
	Delayer      Delayer
	RefreshDelay time.Duration
	// RefreshTimeout bounds a delayed refresh. Defaults to 10s.
	RefreshTimeout time.Duration
	Publisher      Publisher
	Logger         *zap.Logger
}

func NewSession(userID uuid.UUID, local LocalCache, cfg SessionConfig) *Session {
	logger := cfg.Logger.With(zap.String("user_id", userID.String()))
	state := NewStateStore(userID, cfg.Publisher, logger)
	ttl := cfg.RefreshTimeout
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Session{
		userID:       userID,
		svc:          cfg.Service,
		coord:        NewCoordinator(cfg.Service, local, state, cfg.Policy, logger),
		state:        state,
		logger:       logger,
		delayer:      cfg.Delayer,
		refreshDelay: cfg.RefreshDelay,
		refreshTTL:   ttl,
	}
}

func (s *Session) UserID() uuid.UUID { return s.userID }

// State returns the current state.
func (s *Session) State() State { return s.state.Current() }

// Subscribe follows state changes. See StateStore.Subscribe.
func (s *Session) Subscribe(buf int) (<-chan State, func()) {
	return s.state.Subscribe(buf)
}

// Reconcile checks the device cache against the store. The first call of
// a session counts as the first run unless firstRun forces it.
func (s *Session) Reconcile(ctx context.Context, firstRun bool) (ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := firstRun || !s.started
	res, err := s.coord.Reconcile(ctx, s.userID, first)
	if err == nil {
		s.started = true
	}
	return res, err
}

// SendRequest sends a friend request and reloads the sender's lists.
func (s *Session) SendRequest(ctx context.Context, username string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.state.Current()
	var known *Lists
	if cur.Loaded {
		known = &Lists{Friends: cur.Friends, Requests: cur.Requests}
	}
	to, err := s.svc.SendRequest(ctx, s.userID, username, known)
	if err != nil {
		return uuid.Nil, err
	}
	s.refreshLocked(ctx)
	return to, nil
}

// ConfirmRequest accepts the request from other.
func (s *Session) ConfirmRequest(ctx context.Context, other uuid.UUID) error {
	return s.respond(ctx, other, s.svc.ConfirmRequest)
}

// DenyRequest declines (or withdraws) the request involving other.
func (s *Session) DenyRequest(ctx context.Context, other uuid.UUID) error {
	return s.respond(ctx, other, s.svc.DenyRequest)
}

// Unfriend removes other from the friends list.
func (s *Session) Unfriend(ctx context.Context, other uuid.UUID) error {
	return s.respond(ctx, other, s.svc.Unfriend)
}

func (s *Session) respond(ctx context.Context, other uuid.UUID, op func(context.Context, uuid.UUID, uuid.UUID) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Dispatch(AnimationStarted{UserID: other})
	if err := op(ctx, s.userID, other); err != nil {
		s.state.Dispatch(AnimationEnded{})
		return err
	}
	s.scheduleRefreshLocked(ctx)
	return nil
}

// SelectFilter switches the displayed list.
func (s *Session) SelectFilter(f Filter) State {
	return s.state.Dispatch(FilterSelected{Filter: f})
}

func (s *Session) refreshTaskName() string {
	return "friend_refresh:" + s.userID.String()
}

func (s *Session) scheduleRefreshLocked(ctx context.Context) {
	if s.delayer == nil || s.refreshDelay <= 0 {
		s.refreshLocked(ctx)
		return
	}
	s.delayer.AddDelay(s.refreshTaskName(), s.refreshDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTTL)
		defer cancel()
		s.Refresh(ctx)
	})
}

// Refresh reloads the lists from the store and rewrites the cache.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) {
	if _, err := s.coord.Refresh(ctx, s.userID); err != nil {
		s.logger.Warn("friend refresh failed", zap.Error(err))
	}
}

// Close cancels a pending refresh. With clearCache the device cache and
// state are wiped, as on sign-out.
func (s *Session) Close(ctx context.Context, clearCache bool) error {
	if s.delayer != nil {
		s.delayer.Remove(s.refreshTaskName())
	}
	if !clearCache {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Clear(ctx)
}

// LocalCacheFactory opens the device cache for a user.
type LocalCacheFactory func(userID uuid.UUID) (LocalCache, error)

// Registry holds the live sessions, one per user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	cfg      SessionConfig
	open     LocalCacheFactory
	logger   *zap.Logger
}

func NewRegistry(cfg SessionConfig, open LocalCacheFactory) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		cfg:      cfg,
		open:     open,
		logger:   cfg.Logger,
	}
}

// Get returns the user's session, or nil.
func (r *Registry) Get(userID uuid.UUID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// GetOrCreate returns the user's session, opening it on first use.
func (r *Registry) GetOrCreate(userID uuid.UUID) (*Session, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	if s := r.Get(userID); s != nil {
		return s, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s, nil
	}
	local, err := r.open(userID)
	if err != nil {
		return nil, err
	}
	s := NewSession(userID, local, r.cfg)
	r.sessions[userID] = s
	r.logger.Info("friend session opened", zap.String("user_id", userID.String()))
	return s, nil
}

// Remove closes and forgets the user's session. With clearCache the
// device cache is wiped too.
func (r *Registry) Remove(ctx context.Context, userID uuid.UUID, clearCache bool) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		if !clearCache {
			return nil
		}
		local, err := r.open(userID)
		if err != nil {
			return err
		}
		return local.Clear(ctx)
	}
	r.logger.Info("friend session closed", zap.String("user_id", userID.String()))
	return s.Close(ctx, clearCache)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of the live sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
