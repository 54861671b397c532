package friend

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/hook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes backend calls made by the Service.
type Options struct {
	QueryTimeout    time.Duration // per load/lookup; 0 = caller's deadline only
	MutationTimeout time.Duration // per mutation attempt; 0 = no retry on timeout
	MutationRetries int
	SearchLimit     int
}

const maxSearchLimit = 50

// Service performs friend-graph reads and mutations against the remote
// store. It keeps no per-user state.
type Service struct {
	remote    RemoteStore
	opts      Options
	hooks     *hook.Center
	questName QuestNamer
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(remote RemoteStore, opts Options, hooks *hook.Center, logger *zap.Logger) *Service {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	return &Service{
		remote: remote,
		opts:   opts,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
	}
}

// SetQuestNamer makes views show the name of a friend's quest in progress.
func (s *Service) SetQuestNamer(fn QuestNamer) {
	s.questName = fn
}

func (s *Service) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.QueryTimeout)
	}
	return ctx, func() {}
}

// LoadAll runs the four list queries concurrently and maps the rows to
// views. Any failed query fails the whole load.
func (s *Service) LoadAll(ctx context.Context, userID uuid.UUID) (Lists, error) {
	if userID == uuid.Nil {
		return Lists{}, ErrNotAuthenticated
	}
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var asRequester, asRecipient, incoming, outgoing []Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		asRequester, err = s.remote.AcceptedAsRequester(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		asRecipient, err = s.remote.AcceptedAsRecipient(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		incoming, err = s.remote.PendingAsRecipient(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		outgoing, err = s.remote.PendingAsRequester(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Lists{}, transportError("load friends", err)
	}

	now := s.now()
	return Lists{
		Friends:  s.views(userID, now, asRequester, asRecipient),
		Requests: s.views(userID, now, incoming, outgoing),
	}, nil
}

// LoadOrEmpty is LoadAll that logs failures and returns empty lists.
func (s *Service) LoadOrEmpty(ctx context.Context, userID uuid.UUID) Lists {
	lists, err := s.LoadAll(ctx, userID)
	if err != nil {
		s.logger.Warn("load friends failed, showing empty lists",
			zap.String("user_id", userID.String()), zap.Error(err))
		return Lists{Friends: []View{}, Requests: []View{}}
	}
	return lists
}

// views concatenates the record groups in order, dropping repeated users.
func (s *Service) views(me uuid.UUID, now time.Time, groups ...[]Record) []View {
	out := []View{}
	seen := make(map[uuid.UUID]struct{})
	for _, g := range groups {
		for _, rec := range g {
			if rec.OtherID == me {
				continue
			}
			if _, dup := seen[rec.OtherID]; dup {
				continue
			}
			seen[rec.OtherID] = struct{}{}
			out = append(out, NewView(rec, me, now, s.questName))
		}
	}
	return out
}

// DirtyBit fetches the user's current dirty bit.
func (s *Service) DirtyBit(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	bit, err := s.remote.DirtyBit(ctx, userID)
	if err != nil {
		return uuid.Nil, transportError("fetch dirty bit", err)
	}
	return bit, nil
}

// NormalizeUsername trims whitespace and a leading "@" and lower-cases.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(name)
}

// SendRequest creates a pending request from `from` to the user named
// toUsername. known, when non-nil, is the sender's current lists and lets
// obvious duplicates fail without a round trip.
func (s *Service) SendRequest(ctx context.Context, from uuid.UUID, toUsername string, known *Lists) (uuid.UUID, error) {
	if from == uuid.Nil {
		return uuid.Nil, ErrNotAuthenticated
	}
	name := NormalizeUsername(toUsername)
	if name == "" {
		return uuid.Nil, ErrEmptyUsername
	}
	if known != nil && known.HasUsername(name) {
		return uuid.Nil, ErrDuplicateRelationship
	}

	to, err := s.lookupUser(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	if to == from {
		return uuid.Nil, ErrSelfRequest
	}

	qctx, cancel := s.queryCtx(ctx)
	_, err = s.remote.FindRelationship(qctx, from, to)
	cancel()
	switch {
	case err == nil:
		return uuid.Nil, ErrDuplicateRelationship
	case !errors.Is(err, ErrNoRows):
		return uuid.Nil, transportError("check relationship", err)
	}

	err = s.mutate(ctx, "insert request", func(mctx context.Context, attempt int) error {
		err := s.remote.InsertRequest(mctx, from, to)
		if errors.Is(err, ErrConflict) && attempt > 0 && s.ownsPending(ctx, from, to) {
			// An earlier attempt committed before timing out.
			return nil
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		return uuid.Nil, ErrDuplicateRelationship
	}
	if err != nil {
		return uuid.Nil, transportError("send request", err)
	}

	s.bump(ctx, "send request", from, to)
	s.fire(ctx, hook.FriendRequestSent, hook.FriendEvent{Actor: from, Other: to, OtherUsername: name})
	return to, nil
}

func (s *Service) lookupUser(ctx context.Context, name string) (uuid.UUID, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	id, err := s.remote.UserIDByUsername(qctx, name)
	if errors.Is(err, ErrNoRows) {
		return uuid.Nil, ErrUserNotFound
	}
	if err != nil {
		return uuid.Nil, transportError("look up user", err)
	}
	return id, nil
}

func (s *Service) ownsPending(ctx context.Context, from, to uuid.UUID) bool {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rel, err := s.remote.FindRelationship(qctx, from, to)
	return err == nil && rel.Status == StatusPending && rel.UserID1 == from && rel.UserID2 == to
}

// ConfirmRequest accepts the pending request `other` sent to `responder`.
// Confirming an already accepted pair succeeds without changes.
func (s *Service) ConfirmRequest(ctx context.Context, responder, other uuid.UUID) error {
	if responder == uuid.Nil {
		return ErrNotAuthenticated
	}
	rel, err := s.find(ctx, responder, other)
	if err != nil {
		return err
	}
	if rel.Status == StatusAccepted {
		return nil
	}
	if rel.UserID2 != responder {
		return ErrNotRecipient
	}

	var changed bool
	err = s.mutate(ctx, "accept request", func(mctx context.Context, _ int) error {
		var err error
		changed, err = s.remote.AcceptRequest(mctx, responder, other)
		return err
	})
	if err != nil {
		return transportError("confirm request", err)
	}
	if !changed {
		// Either a timed-out attempt committed or the request was
		// withdrawn meanwhile.
		rel, err := s.find(ctx, responder, other)
		if err != nil {
			return err
		}
		if rel.Status != StatusAccepted {
			return ErrRelationshipNotFound
		}
	}

	s.bump(ctx, "confirm request", responder, other)
	s.fire(ctx, hook.FriendRequestAccepted, hook.FriendEvent{Actor: responder, Other: other})
	return nil
}

// DenyRequest deletes the pending request between responder and other.
// Either side may deny: the recipient declines, the requester withdraws.
func (s *Service) DenyRequest(ctx context.Context, responder, other uuid.UUID) error {
	if responder == uuid.Nil {
		return ErrNotAuthenticated
	}
	rel, err := s.find(ctx, responder, other)
	if err != nil {
		return err
	}
	if rel.Status != StatusPending {
		return ErrAlreadyFriends
	}
	if err := s.remove(ctx, "deny request", responder, other, StatusPending); err != nil {
		if errors.Is(err, ErrNoRows) {
			return ErrRelationshipNotFound
		}
		return err
	}
	s.fire(ctx, hook.FriendRequestDenied, hook.FriendEvent{Actor: responder, Other: other})
	return nil
}

// Unfriend deletes the accepted friendship between user and other.
func (s *Service) Unfriend(ctx context.Context, user, other uuid.UUID) error {
	if user == uuid.Nil {
		return ErrNotAuthenticated
	}
	if err := s.remove(ctx, "unfriend", user, other, StatusAccepted); err != nil {
		if errors.Is(err, ErrNoRows) {
			return ErrNotFriends
		}
		return err
	}
	s.fire(ctx, hook.FriendRemoved, hook.FriendEvent{Actor: user, Other: other})
	return nil
}

func (s *Service) remove(ctx context.Context, op string, a, b uuid.UUID, status Status) error {
	var deleted bool
	err := s.mutate(ctx, op, func(mctx context.Context, attempt int) error {
		var err error
		deleted, err = s.remote.DeleteRelationship(mctx, a, b, status)
		if err == nil && !deleted && attempt > 0 {
			// A timed-out attempt may already have deleted it.
			deleted = true
		}
		return err
	})
	if err != nil {
		return transportError(op, err)
	}
	if !deleted {
		return ErrNoRows
	}
	s.bump(ctx, op, a, b)
	return nil
}

func (s *Service) find(ctx context.Context, a, b uuid.UUID) (Relationship, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rel, err := s.remote.FindRelationship(qctx, a, b)
	if errors.Is(err, ErrNoRows) {
		return Relationship{}, ErrRelationshipNotFound
	}
	if err != nil {
		return Relationship{}, transportError("find relationship", err)
	}
	return rel, nil
}

// mutate runs fn with a per-attempt timeout, retrying attempts that timed
// out while the caller's context is still live.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.MutationRetries; attempt++ {
		mctx, cancel := ctx, context.CancelFunc(func() {})
		if s.opts.MutationTimeout > 0 {
			mctx, cancel = context.WithTimeout(ctx, s.opts.MutationTimeout)
		}
		err = fn(mctx, attempt)
		cancel()
		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("friend mutation timed out",
			zap.String("op", op), zap.Int("attempt", attempt+1))
	}
	return err
}

// bump refreshes both users' dirty bits. The graph change is already
// committed, so a failure is logged and not returned.
func (s *Service) bump(ctx context.Context, op string, a, b uuid.UUID) {
	err := s.mutate(ctx, "bump dirty bits", func(mctx context.Context, _ int) error {
		return s.remote.BumpDirtyBits(mctx, a, b)
	})
	if err != nil {
		s.logger.Error("dirty bit bump failed",
			zap.String("op", op),
			zap.String("user_a", a.String()),
			zap.String("user_b", b.String()),
			zap.Error(err))
	}
}

func (s *Service) fire(ctx context.Context, event string, ev hook.FriendEvent) {
	if _, err := s.hooks.Trigger(ctx, event, ev); err != nil {
		s.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}

// SearchUsers finds users whose username contains partial, excluding the
// caller. limit <= 0 uses the configured default.
func (s *Service) SearchUsers(ctx context.Context, caller uuid.UUID, partial string, limit int) ([]UserSummary, error) {
	if caller == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	q := NormalizeUsername(partial)
	if q == "" {
		return []UserSummary{}, nil
	}
	if limit <= 0 {
		limit = s.opts.SearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	users, err := s.remote.SearchUsers(qctx, q, caller, limit)
	if err != nil {
		return nil, transportError("search users", err)
	}
	return users, nil
}
