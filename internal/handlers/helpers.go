package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campuspay/internal/services"
)

// errorResponse maps a service error to its HTTP status and client message.
// Persistence and unexpected errors get a generic message; the cause is only
// logged.
func errorResponse(err error) (int, gin.H) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, gin.H{"error": ve.Error(), "fields": ve.Fields}
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"error": "invalid input"}
	case errors.Is(err, services.ErrDuplicateEmail):
		return http.StatusBadRequest, gin.H{"error": "User already exists"}
	case errors.Is(err, services.ErrOTPNotRequested):
		return http.StatusBadRequest, gin.H{"error": "OTP not requested"}
	case errors.Is(err, services.ErrOTPExpired):
		return http.StatusBadRequest, gin.H{"error": "OTP expired, please request a new one"}
	case errors.Is(err, services.ErrOTPMismatch):
		return http.StatusBadRequest, gin.H{"error": "Invalid OTP"}
	case errors.Is(err, services.ErrOTPNotVerified):
		return http.StatusBadRequest, gin.H{"error": "OTP not verified"}
	case errors.Is(err, services.ErrTooManyAttempts):
		return http.StatusBadRequest, gin.H{"error": "too many attempts, please request a new OTP"}
	case errors.Is(err, services.ErrNotFound):
		return http.StatusBadRequest, gin.H{"error": "User not found"}
	case errors.Is(err, services.ErrInvalidCredential):
		return http.StatusBadRequest, gin.H{"error": "Invalid password"}
	case errors.Is(err, services.ErrDeliveryFailure):
		return http.StatusServiceUnavailable, gin.H{"error": "could not deliver OTP, try again later"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal server error"}
	}
}

func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
		_ = c.Error(err)
	} else {
		log.Info(op+" rejected", zap.Error(err))
	}
	c.JSON(status, body)
}
