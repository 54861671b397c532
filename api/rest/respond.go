package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/apperr"
)

// respondError writes err as {"error", "code"} with the status its code
// maps to. Errors without a code are logged by middleware.Logger and
// answered with a generic message.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.MessageOf(err),
		"code":  apperr.CodeOf(err),
	})
}

// bindError answers a request whose body failed binding or validation.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		c.JSON(http.StatusBadRequest, gin.H{
			"error": strings.ToLower(fe.Field()) + " is invalid (" + fe.Tag() + ")",
			"code":  apperr.CodeInvalidArgument,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": apperr.CodeInvalidArgument})
}

// uuidParam parses the named path parameter, answering 400 when invalid.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": apperr.CodeInvalidArgument})
		return uuid.Nil, false
	}
	return id, true
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
