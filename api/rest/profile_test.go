package rest_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/squestapp/squest/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile(t *testing.T) {
	s := newServer(t)
	token, uid := s.register(t, "pat")

	w := s.do(http.MethodPut, "/api/profile", token, map[string]string{"displayed_name": "  Pat Q  "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"displayed_name":"Pat Q"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[model.User](t, w)
	assert.Equal(t, uid, u.ID)
	assert.Equal(t, "Pat Q", u.DisplayedName)
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(http.MethodPut, "/api/profile", token, map[string]string{"displayed_name": strings.Repeat("x", 51)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAvatar_StorageDisabled(t *testing.T) {
	s := newServer(t)
	token, _ := s.register(t, "pat")

	req := httptest.NewRequest(http.MethodPost, "/api/profile/avatar", bytes.NewReader([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "image/jpeg")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestRegisterDevice(t *testing.T) {
	s := newServer(t)
	token, uid := s.register(t, "pat")

	w := s.do(http.MethodPost, "/api/devices", token, map[string]string{"token": strings.Repeat("ab", 32)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d model.Device
	require.NoError(t, s.db.First(&d).Error)
	assert.Equal(t, uid, d.UserID)

	w = s.do(http.MethodPost, "/api/devices", token, map[string]string{"token": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Logging out forgets the phone.
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/auth/logout", token, nil).Code)
	var n int64
	s.db.Model(&model.Device{}).Count(&n)
	assert.Zero(t, n)
}
