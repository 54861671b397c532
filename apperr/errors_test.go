package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_MessageAndCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable("remote store unavailable", cause)
	assert.Equal(t, "remote store unavailable: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
}

func TestAppError_IsMatchesWrappedSentinel(t *testing.T) {
	sentinel := NotFound("user not found")
	wrapped := fmt.Errorf("send request: %w", sentinel)
	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, NotFound("other"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("x")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(AlreadyExists("x")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Unauthenticated("x")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Unavailable("x", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestMessageOf_HidesUnknown(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("sql: secret detail")))
	assert.Equal(t, "bad", MessageOf(InvalidArg("bad")))
}
