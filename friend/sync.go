package friend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailPolicy decides what Reconcile does when the remote dirty bit cannot
// be fetched.
type FailPolicy string

const (
	// FailClosed keeps the cached lists and marks them stale.
	FailClosed FailPolicy = "fail-closed"
	// FailOpen treats the cache as stale and reloads.
	FailOpen FailPolicy = "fail-open"
)

func ParseFailPolicy(s string) (FailPolicy, error) {
	switch FailPolicy(s) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	}
	return "", fmt.Errorf("unknown fail policy %q", s)
}

// ReconcileResult reports what Reconcile did.
type ReconcileResult struct {
	Reloaded  bool      // lists were fetched from the store
	FromCache bool      // state was populated from the local cache
	Stale     bool      // the cache could not be verified
	DirtyBit  uuid.UUID // bit now stored in the local cache
}

// Coordinator keeps one device cache consistent with the store using the
// user's dirty bit.
type Coordinator struct {
	svc    *Service
	local  LocalCache
	state  *StateStore
	policy FailPolicy
	logger *zap.Logger
}

func NewCoordinator(svc *Service, local LocalCache, state *StateStore, policy FailPolicy, logger *zap.Logger) *Coordinator {
	return &Coordinator{svc: svc, local: local, state: state, policy: policy, logger: logger}
}

// Reconcile reloads the lists when the cached dirty bit differs from the
// remote one (or either is absent). Otherwise the cache is trusted, and on
// the first run of a session the state is filled from it.
func (c *Coordinator) Reconcile(ctx context.Context, userID uuid.UUID, firstRun bool) (ReconcileResult, error) {
	if userID == uuid.Nil {
		return ReconcileResult{}, ErrNotAuthenticated
	}
	log := c.logger.With(zap.String("user_id", userID.String()))

	cached := uuid.Nil
	meta, err := c.local.Meta(ctx)
	if err != nil {
		log.Warn("read local sync meta failed", zap.Error(err))
	} else if meta.UserID == userID {
		cached = meta.DirtyBit
	}

	remote, err := c.svc.DirtyBit(ctx, userID)
	if err != nil {
		log.Warn("fetch dirty bit failed", zap.String("policy", string(c.policy)), zap.Error(err))
		if c.policy != FailOpen {
			res := ReconcileResult{Stale: true, DirtyBit: cached}
			if firstRun && cached != uuid.Nil {
				if c.loadCache(ctx, userID, true) {
					res.FromCache = true
					return res, nil
				}
			}
			c.state.Dispatch(LoadFailed{})
			return res, nil
		}
		remote = uuid.Nil
	}

	if cached != uuid.Nil && cached == remote {
		res := ReconcileResult{DirtyBit: cached}
		if firstRun || !c.state.Current().Loaded {
			if c.loadCache(ctx, userID, false) {
				res.FromCache = true
				return res, nil
			}
			// Cache meta without readable lists: fall through to reload.
		} else {
			return res, nil
		}
	}
	return c.reload(ctx, userID, remote)
}

// Refresh reloads unconditionally, as after a local mutation.
func (c *Coordinator) Refresh(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	if userID == uuid.Nil {
		return ReconcileResult{}, ErrNotAuthenticated
	}
	bit, err := c.svc.DirtyBit(ctx, userID)
	if err != nil {
		// Store Nil so the next Reconcile reloads again.
		c.logger.Warn("fetch dirty bit before refresh failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		bit = uuid.Nil
	}
	return c.reload(ctx, userID, bit)
}

// reload fetches the lists and overwrites the cache. bit must have been
// read before the lists so a concurrent change bumps past it.
func (c *Coordinator) reload(ctx context.Context, userID, bit uuid.UUID) (ReconcileResult, error) {
	lists, err := c.svc.LoadAll(ctx, userID)
	if err != nil {
		c.state.Dispatch(LoadFailed{})
		return ReconcileResult{Stale: true}, err
	}
	snap := Snapshot{
		Meta:     Meta{UserID: userID, DirtyBit: bit},
		Lists:    lists,
		SyncedAt: time.Now(),
	}
	res := ReconcileResult{Reloaded: true, DirtyBit: bit}
	if err := c.local.Replace(ctx, snap); err != nil {
		c.logger.Error("write local friend cache failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		res.DirtyBit = uuid.Nil
	}
	c.state.Dispatch(Loaded{Lists: lists})
	return res, nil
}

func (c *Coordinator) loadCache(ctx context.Context, userID uuid.UUID, stale bool) bool {
	snap, err := c.local.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("read local friend cache failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return false
	}
	if snap.UserID != userID {
		return false
	}
	c.state.Dispatch(Loaded{Lists: snap.Lists, FromCache: true, Stale: stale})
	return true
}

// Clear wipes the device cache and the state, as on sign-out.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.state.Dispatch(Cleared{})
	return c.local.Clear(ctx)
}
