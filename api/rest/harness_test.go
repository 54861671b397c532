package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/activity"
	"github.com/squestapp/squest/server/api/rest"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/config"
	"github.com/squestapp/squest/server/friend"
	"github.com/squestapp/squest/server/friend/kvcache"
	"github.com/squestapp/squest/server/friend/remote"
	"github.com/squestapp/squest/server/hook"
	mw "github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/notify"
	"github.com/squestapp/squest/server/profile"
	"github.com/squestapp/squest/server/quest"
	"github.com/squestapp/squest/server/scheduler"
	"github.com/squestapp/squest/server/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSec = config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

// server wires every handler the way main does, on in-memory backends.
type server struct {
	db     *gorm.DB
	cache  cache.Cache
	store  *remote.Store
	reg    *friend.Registry
	hooks  *hook.Center
	board  *quest.Leaderboard
	sched  *scheduler.Scheduler
	acts   *activity.Service
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := testutil.Logger()
	store := remote.New(db)
	hooks := hook.NewCenter()
	catalog := quest.DefaultCatalog()

	friends := friend.NewService(store, friend.Options{QueryTimeout: 2 * time.Second}, hooks, logger)
	friends.SetQuestNamer(catalog.Name)
	reg := friend.NewRegistry(friend.SessionConfig{
		Service: friends,
		Policy:  friend.FailClosed,
		Logger:  logger,
	}, func(id uuid.UUID) (friend.LocalCache, error) {
		return kvcache.ForUser(c, id), nil
	})

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	board := quest.NewLeaderboard(db, c, logger)
	quests := quest.NewService(db, catalog, store, board, hooks, logger)
	acts := activity.New(db, c, logger)
	t.Cleanup(func() { acts.Stop(context.Background()) })
	acts.Register(hooks)
	notifier := notify.New(db, nil, logger)
	notifier.Register(hooks)

	authH := rest.NewAuthHandler(db, c, testSec, store.Presence(), reg, hooks, logger)
	friendH := rest.NewFriendHandler(reg, friends, logger)
	questH := rest.NewQuestHandler(quests)
	actH := rest.NewActivityHandler(acts)
	profH := rest.NewProfileHandler(profile.NewService(db, nil, store, logger), notifier)
	rankH := rest.NewRankingHandler(board)
	adminH := rest.NewAdminHandler(db, reg, board, sched, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api")
	auth := mw.Auth(testSec, c)

	api.POST("/auth/register", authH.Register)
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", auth, authH.Logout)
	api.POST("/auth/refresh", auth, authH.Refresh)

	fr := api.Group("/friends", auth)
	fr.GET("", friendH.List)
	fr.GET("/search", friendH.Search)
	fr.POST("/requests", friendH.SendRequest)
	fr.POST("/requests/:user_id/confirm", friendH.Confirm)
	fr.POST("/requests/:user_id/deny", friendH.Deny)
	fr.DELETE("/:user_id", friendH.Unfriend)
	fr.PUT("/filter", friendH.SetFilter)

	qs := api.Group("/quests", auth)
	qs.GET("", questH.Board)
	qs.GET("/history", questH.History)
	qs.POST("/:id/start", questH.Start)
	qs.POST("/:id/complete", questH.Complete)
	qs.POST("/:id/cancel", questH.Cancel)

	api.GET("/activity", auth, actH.List)
	api.GET("/profile", auth, profH.Get)
	api.PUT("/profile", auth, profH.Update)
	api.POST("/profile/avatar", auth, profH.UploadAvatar)
	api.POST("/devices", auth, profH.RegisterDevice)
	api.GET("/ranking/xp", rankH.TopXP)

	admin := api.Group("/admin", mw.IPWhitelist([]string{"127.0.0.1"}))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.POST("/ranking/refresh", adminH.RefreshRanking)

	return &server{db: db, cache: c, store: store, reg: reg, hooks: hooks, board: board,
		sched: sched, acts: acts, router: r}
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "127.0.0.1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type authResp struct {
	Token string `json:"token"`
	User  struct {
		ID            uuid.UUID `json:"id"`
		Username      string    `json:"username"`
		DisplayedName string    `json:"displayed_name"`
	} `json:"user"`
}

// register creates a user through the API and returns its token and id.
func (s *server) register(t *testing.T, username string) (string, uuid.UUID) {
	t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp authResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.User.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type stateResp struct {
	State friend.State `json:"state"`
}
