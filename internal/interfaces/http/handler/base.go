package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/infrastructure/logger"
	"github.com/erp/marketsync/internal/infrastructure/scheduler"
	"github.com/erp/marketsync/internal/interfaces/http/dto"
	"github.com/erp/marketsync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Accepted sends a 202 response for work that continues in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// ValidationError sends a 400 response for a binding error
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// HandleError converts domain, application and marketplace errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	code, message := classifyError(err)
	if code == dto.ErrCodeInternal {
		logger.L(c.Request.Context()).Error("Request failed", zap.Error(err))
		message = "An unexpected error occurred"
	}

	var remote *integration.RemoteError
	if errors.As(err, &remote) && remote.RateLimit != nil {
		if wait := retryAfter(remote.RateLimit, time.Now()); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}

	_ = c.Error(err)
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// classifyError maps err to an API error code and a client safe message
func classifyError(err error) (string, string) {
	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		return dto.NormalizeErrorCode(domainErr.Code), domainErr.Message
	case errors.Is(err, integration.ErrSyncRunNotFound),
		errors.Is(err, integration.ErrSyncRecordNotFound):
		return dto.ErrCodeNotFound, err.Error()
	case errors.Is(err, integration.ErrSyncRunTerminal):
		return dto.ErrCodeSyncRunFinished, err.Error()
	case errors.Is(err, integration.ErrUnknownAccount):
		return dto.ErrCodeUnknownAccount, err.Error()
	case errors.Is(err, integration.ErrInvalidSyncMode),
		errors.Is(err, integration.ErrInvalidStrategy),
		errors.Is(err, integration.ErrInvalidNaturalKey),
		errors.Is(err, integration.ErrInvalidAccountID),
		errors.Is(err, integration.ErrInvalidPageSize),
		errors.Is(err, integration.ErrSelectiveWithoutKeys):
		return dto.ErrCodeInvalidInput, err.Error()
	case errors.Is(err, scheduler.ErrJobQueueFull):
		return dto.ErrCodeQueueFull, "Sync capacity exhausted, retry later"
	case errors.Is(err, integration.ErrAuthentication):
		return dto.ErrCodeMarketplaceAuth, err.Error()
	case errors.Is(err, integration.ErrRateLimitExceeded),
		errors.Is(err, integration.ErrRateLimitExhausted):
		return dto.ErrCodeMarketplaceRateLimited, err.Error()
	case errors.Is(err, integration.ErrValidation):
		return dto.ErrCodeMarketplaceRejected, err.Error()
	case errors.Is(err, integration.ErrProtocolViolation),
		errors.Is(err, integration.ErrTransientNetwork):
		return dto.ErrCodeMarketplaceUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeTimeout, "Request timed out"
	case errors.Is(err, context.Canceled):
		return dto.ErrCodeCanceled, "Request canceled"
	default:
		return dto.ErrCodeInternal, err.Error()
	}
}

// retryAfter returns the server suggested wait carried by a rate limit response
func retryAfter(info *integration.RateLimitInfo, now time.Time) time.Duration {
	if info.RetryAfter > 0 {
		return info.RetryAfter
	}
	if !info.ResetAt.IsZero() {
		return info.ResetAt.Sub(now)
	}
	return 0
}
