package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/domain/apperr"
)

// ActorHeader carries the authenticated user id. Authentication itself is
// done upstream by the gateway.
const ActorHeader = "X-Actor-ID"

const actorContextKey = "actor_id"

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// requireActor rejects requests without an actor header
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + ActorHeader + " header",
			})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func actorOf(c *gin.Context) string {
	return c.GetString(actorContextKey)
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorizedApprover:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindStaleState, apperr.KindAlreadyUsed:
		return http.StatusConflict
	case apperr.KindBudgetExceeded, apperr.KindPreApprovalRequired,
		apperr.KindCategoryLimitExceeded:
		return http.StatusUnprocessableEntity
	case apperr.KindCollaboratorFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status of its kind. Unclassified errors
// are logged and hidden behind a generic message.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if kind == "" {
		h.logger.Error("Request failed", "op", op, "error", err)
		msg = op + " failed"
	} else if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "kind", kind, "error", err)
	} else {
		h.logger.Warn("Request rejected", "op", op, "kind", kind, "error", err)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Kind:    string(kind),
	})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Kind:    string(apperr.KindValidation),
	})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// requestID parses the :id path parameter
func requestID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid request id "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}

// bindOptionalJSON binds a JSON body when one is present
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}
