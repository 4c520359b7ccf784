package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campuspay/internal/middleware"
	"campuspay/internal/models"
	"campuspay/internal/services"
)

type AuthHandler struct {
	auth services.AuthService
	log  *zap.Logger
}

func NewAuthHandler(auth services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log.Named("http")}
}

// @Summary      Request signup OTP
// @Description  Sends a six digit code to the email. Rejected if the email is already registered.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.OTPRequest  true  "Email"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /request-otp [post]
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req models.OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	if err := h.auth.RequestOTP(c.Request.Context(), req.Email); err != nil {
		respondError(c, h.log, "request-otp", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent to email"})
}

// @Summary      Verify signup OTP
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.OTPVerifyRequest  true  "Email and code"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Router       /verify-otp [post]
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req models.OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and OTP required"})
		return
	}
	if err := h.auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP); err != nil {
		respondError(c, h.log, "verify-otp", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP verified successfully", "verified": true})
}

// @Summary      Complete signup
// @Description  Creates the account for an email whose OTP was verified.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.SignupRequest  true  "Profile and password"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /complete-signup [post]
func (h *AuthHandler) CompleteSignup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.CompleteSignup(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, "complete-signup", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Signup successful", "user": user})
}

// @Summary      Login
// @Description  Checks the password and returns the profile with an access token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Credentials"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]string
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		respondError(c, h.log, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user": res.User, "token": res.Token})
}

// @Summary      Current user
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.auth.Profile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		respondError(c, h.log, "me", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// @Summary  Health check
// @Tags     System
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /healthz [get]
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
