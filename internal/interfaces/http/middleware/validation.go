package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/trade"
	"github.com/erp/marketsync/internal/interfaces/http/dto"
)

// Custom validation tags
const (
	TagSyncMode         = "sync_mode"
	TagConflictStrategy = "conflict_strategy"
	TagOrderStatus      = "order_status"
	TagSyncRunStatus    = "sync_run_status"
)

// SetupValidator configures the gin validator with JSON field names and the
// domain specific tags.
func SetupValidator() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}

	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})

	rules := map[string]validator.Func{
		TagSyncMode: func(fl validator.FieldLevel) bool {
			_, err := integration.ParseSyncMode(fl.Field().String())
			return err == nil
		},
		TagConflictStrategy: func(fl validator.FieldLevel) bool {
			_, err := integration.ParseConflictStrategy(fl.Field().String())
			return err == nil
		},
		TagOrderStatus: func(fl validator.FieldLevel) bool {
			_, err := trade.ParseOrderStatus(fl.Field().String())
			return err == nil
		},
		TagSyncRunStatus: func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || integration.SyncRunStatus(s).IsValid()
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// FormatValidationErrors formats binding errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return dto.NewErrorResponseWithRequestID(dto.ErrCodeInvalidJSON, "Malformed request body: "+err.Error(), requestID)
	}

	details := make([]dto.ValidationDetail, 0, len(validationErrors))
	for _, e := range validationErrors {
		details = append(details, dto.ValidationDetail{
			Field:   e.Field(),
			Message: getValidationMessage(e),
		})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 response for a binding error
func HandleValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

// getValidationMessage returns a human-readable validation message
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		if e.Type().Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		if e.Type().Kind() == reflect.Slice {
			return "Must contain at least " + e.Param() + " items"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Type().Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		if e.Type().Kind() == reflect.Slice {
			return "Must contain at most " + e.Param() + " items"
		}
		return "Must be at most " + e.Param()
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case TagSyncMode:
		return "Must be one of: full incremental selective"
	case TagConflictStrategy:
		return "Must be one of: " + strings.Join(integration.ConflictStrategyNames(), " ")
	case TagOrderStatus:
		return "Unknown order status"
	case TagSyncRunStatus:
		return "Must be one of: running completed failed partial"
	default:
		return "Invalid value"
	}
}
