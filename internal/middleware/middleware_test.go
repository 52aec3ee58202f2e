package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"codex-bridge/internal/auth"
)

type staticVerifier struct{}

func (staticVerifier) VerifyToken(token string) (string, bool) {
	if token == "device-token" {
		return "dev-1", true
	}
	return "", false
}

func newRouter(a *auth.Authorizer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/general", RequireGeneral(a), func(c *gin.Context) {
		result, _ := ResultFromContext(c)
		c.JSON(http.StatusOK, gin.H{"deviceId": result.DeviceID})
	})
	r.GET("/management", RequireManagement(a), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func perform(r *gin.Engine, path, remoteAddr, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireGeneral(t *testing.T) {
	a := &auth.Authorizer{RemoteEnabled: true, ManagementToken: "mgmt", Devices: staticVerifier{}}
	r := newRouter(a)

	if rec := perform(r, "/general", "127.0.0.1:1000", ""); rec.Code != http.StatusOK {
		t.Fatalf("loopback = %d", rec.Code)
	}
	if rec := perform(r, "/general", "10.0.0.9:1000", "device-token"); rec.Code != http.StatusOK {
		t.Fatalf("device token = %d", rec.Code)
	}
	if rec := perform(r, "/general", "10.0.0.9:1000", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rec.Code)
	}
}

func TestRequireManagement(t *testing.T) {
	a := &auth.Authorizer{RemoteEnabled: true, ManagementToken: "mgmt", Devices: staticVerifier{}}
	r := newRouter(a)

	if rec := perform(r, "/management", "127.0.0.1:1000", ""); rec.Code != http.StatusOK {
		t.Fatalf("loopback = %d", rec.Code)
	}
	if rec := perform(r, "/management", "10.0.0.9:1000", "mgmt"); rec.Code != http.StatusOK {
		t.Fatalf("management token = %d", rec.Code)
	}
	if rec := perform(r, "/management", "10.0.0.9:1000", "device-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("device token must not reach management: %d", rec.Code)
	}
	if rec := perform(r, "/management", "10.0.0.9:1000", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous remote = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatalf("third request in the window should be rejected")
	}
	if !rl.Allow("b") {
		t.Fatalf("keys are independent")
	}

	now = base.Add(2 * time.Minute)
	if !rl.Allow("a") {
		t.Fatalf("a new window should open after the period")
	}
}
