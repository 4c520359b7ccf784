package routes

import (
	"github.com/gin-gonic/gin"

	"campuspay/internal/handlers"
	"campuspay/internal/middleware"
)

// SetupRoutes mounts the auth API at the root and again under /api.
func SetupRoutes(
	r *gin.Engine,
	authHandler *handlers.AuthHandler,
	jwt *middleware.JWTManager,
	otpLimiter *middleware.IPRateLimiter,
) *gin.Engine {
	r.GET("/healthz", handlers.Health)

	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		// ---- public
		otp := g.Group("")
		if otpLimiter != nil {
			otp.Use(otpLimiter.Handler())
		}
		otp.POST("/request-otp", authHandler.RequestOTP)
		otp.POST("/verify-otp", authHandler.VerifyOTP)

		g.POST("/complete-signup", authHandler.CompleteSignup)
		g.POST("/login", authHandler.Login)

		// ---- protected
		g.GET("/me", middleware.AuthMiddleware(jwt), authHandler.Me)
	}
	return r
}
