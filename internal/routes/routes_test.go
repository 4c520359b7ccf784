package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuspay/internal/handlers"
	"campuspay/internal/middleware"
	"campuspay/internal/repositories"
	"campuspay/internal/services"
)

type captureSender struct{ last string }

func (s *captureSender) SendOTP(_ context.Context, _, code string) error {
	s.last = code
	return nil
}

func newApp(t *testing.T) (*gin.Engine, *captureSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	sender := &captureSender{}
	otp := services.NewOTPService(repositories.NewMemoryOTPRepository(), sender, services.OTPOptions{}, log)
	creds := services.NewCredentialService(repositories.NewMemoryUserRepository())
	jwt := middleware.NewJWTManager("test-secret", time.Hour)
	auth := services.NewAuthService(otp, creds, jwt, services.NewSignupNotifiers(time.Second, 0, log), log)

	r := gin.New()
	SetupRoutes(r, handlers.NewAuthHandler(auth, log), jwt, middleware.NewIPRateLimiter(600, 100, log))
	return r, sender
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSignupFlowOverHTTP(t *testing.T) {
	r, sender := newApp(t)

	w := post(r, "/api/request-otp", `{"email":"flow@college.edu"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = post(r, "/verify-otp", `{"email":"flow@college.edu","otp":"`+sender.last+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = post(r, "/api/complete-signup", `{"name":"Flow","email":"flow@college.edu","mobile":"9876543210","password":"secret1","role":"TEACHER"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = post(r, "/login", `{"email":"flow@college.edu","password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flow@college.edu")

	w = post(r, "/request-otp", `{"email":"flow@college.edu"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMeRequiresToken(t *testing.T) {
	r, _ := newApp(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
