// Package activity keeps each user's activity log: quests started and
// finished, levels reached and friendships made.
package activity

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
	// recentLen is how many entries per user are kept in the cache list.
	recentLen = 50
)

// Entry is one activity to record.
type Entry struct {
	TraceID string
	UserID  uuid.UUID
	Kind    string
	Message string
	Detail  interface{}
}

// Service writes activities to the database asynchronously in batches and
// keeps the newest ones per user in a cache list for cheap reads.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	ch     chan *model.Activity
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a Service and starts its writer. c may be nil.
func New(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		cache:  c,
		ch:     make(chan *model.Activity, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

func recentKey(userID uuid.UUID) string {
	return "activity:" + userID.String()
}

// Log enqueues an entry. A full queue drops it.
func (svc *Service) Log(ctx context.Context, e Entry) {
	rec := &model.Activity{
		TraceID:   e.TraceID,
		UserID:    e.UserID,
		Kind:      e.Kind,
		Message:   e.Message,
		CreatedAt: time.Now(),
	}
	if e.Detail != nil {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			svc.logger.Warn("activity detail not serializable", zap.String("kind", e.Kind), zap.Error(err))
		} else {
			rec.Detail = datatypes.JSON(detail)
		}
	}

	if svc.cache != nil {
		svc.remember(ctx, rec)
	}

	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("activity queue full, dropping entry",
			zap.String("user_id", e.UserID.String()), zap.String("kind", e.Kind))
	}
}

func (svc *Service) remember(ctx context.Context, rec *model.Activity) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := recentKey(rec.UserID)
	if err := svc.cache.LPush(ctx, key, string(payload)); err != nil {
		svc.logger.Debug("cache recent activity failed", zap.Error(err))
		return
	}
	_ = svc.cache.LTrim(ctx, key, 0, recentLen-1)
}

// List returns the user's newest activities first. Requests within the
// cached window are served from the cache.
func (svc *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]model.Activity, error) {
	if limit <= 0 || limit > recentLen {
		limit = recentLen
	}
	if svc.cache != nil {
		items, err := svc.cache.LRange(ctx, recentKey(userID), 0, int64(limit-1))
		if err == nil && len(items) > 0 {
			out := make([]model.Activity, 0, len(items))
			for _, it := range items {
				var a model.Activity
				if json.Unmarshal([]byte(it), &a) == nil {
					out = append(out, a)
				}
			}
			return out, nil
		}
	}

	var out []model.Activity
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Stop flushes queued entries and waits for the writer to exit.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.Activity, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("activity batch write failed",
				zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func levelMessage(level int) string {
	return "Reached level " + strconv.Itoa(level)
}
