package grouping

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes beyond the segmentation run codes.
const (
	ErrorCodeInvalidIDFormat  = "INVALID_ID_FORMAT"
	ErrorCodeCustomerNotFound = "CUSTOMER_NOT_FOUND"
)

// RespondWithError sends a standardized JSON error response.
func RespondWithError(c *gin.Context, httpStatus int, appErrorCode string, message string, details interface{}) {
	c.JSON(httpStatus, APIError{
		Code:    appErrorCode,
		Message: message,
		Details: details,
	})
}

// respondWithRunError maps a service error onto its HTTP status and code.
func respondWithRunError(c *gin.Context, err error) {
	if isNotFound(err) {
		RespondWithError(c, http.StatusNotFound, ErrorCodeCustomerNotFound, err.Error(), nil)
		return
	}
	RespondWithError(c, statusFor(err), segmentation.Kind(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, segmentation.ErrInsufficientData), errors.Is(err, segmentation.ErrFeatureImputation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, segmentation.ErrModelNotTrained):
		return http.StatusConflict
	case errors.Is(err, segmentation.ErrUpstreamData):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
