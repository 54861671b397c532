package friend

import (
	"github.com/squestapp/squest/server/apperr"
)

var (
	ErrNotAuthenticated      = apperr.Unauthenticated("not signed in")
	ErrUserNotFound          = apperr.NotFound("user not found")
	ErrRelationshipNotFound  = apperr.NotFound("friend request not found")
	ErrNotFriends            = apperr.NotFound("not friends")
	ErrDuplicateRelationship = apperr.AlreadyExists("already friends or request pending")
	ErrSelfRequest           = apperr.InvalidArg("cannot send a friend request to yourself")
	ErrEmptyUsername         = apperr.InvalidArg("username is required")
	ErrNotRecipient          = apperr.Forbidden("only the recipient can accept a friend request")
	ErrAlreadyFriends        = apperr.FailedPrecondition("already friends")
)

// transportError wraps a failed backend call.
func transportError(op string, cause error) error {
	return apperr.Unavailable("friend: "+op+" failed", cause)
}

// IsTransport reports whether err is a backend failure rather than a
// rejected operation.
func IsTransport(err error) bool {
	return apperr.CodeOf(err) == apperr.CodeUnavailable
}
