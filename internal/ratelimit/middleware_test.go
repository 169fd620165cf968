package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
)

func newMiddlewareRouter(t *testing.T, rc *admission.RequestContext, defaultRPM int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	router := gin.New()
	router.POST("/x",
		func(c *gin.Context) { admission.SetContext(c, rc); c.Next() },
		Middleware(NewLimiter(rdb), defaultRPM),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)
	return router
}

func hit(router *gin.Engine) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	return rec
}

func TestMiddlewareHeadersAndRejection(t *testing.T) {
	rpm := 2
	rc := &admission.RequestContext{
		Account: &models.Account{ID: 1, RateLimitRPM: &rpm},
		Key:     &models.APIKey{ID: 1},
	}
	router := newMiddlewareRouter(t, rc, 60)

	for i := 0; i < 2; i++ {
		rec := hit(router)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d rejected: %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec := hit(router)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining header = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("429 must carry Retry-After and reset headers")
	}
	body := gjson.Parse(rec.Body.String())
	if body.Get("error.type").String() != "rate_limit_error" {
		t.Fatalf("unexpected error type: %s", rec.Body.String())
	}
	if body.Get("error.code").String() != "rate_limit_exceeded" {
		t.Fatalf("unexpected error code: %s", rec.Body.String())
	}
}

func TestMiddlewareSkipsEnterpriseAndAnonymous(t *testing.T) {
	enterprise := &admission.RequestContext{
		Account: &models.Account{ID: 2, Tier: models.TierEnterprise},
		Key:     &models.APIKey{ID: 2},
	}
	router := newMiddlewareRouter(t, enterprise, 1)
	for i := 0; i < 5; i++ {
		if rec := hit(router); rec.Code != http.StatusOK {
			t.Fatalf("enterprise accounts must never be limited, got %d", rec.Code)
		}
	}

	anonymous := &admission.RequestContext{}
	router = newMiddlewareRouter(t, anonymous, 1)
	for i := 0; i < 5; i++ {
		if rec := hit(router); rec.Code != http.StatusOK {
			t.Fatalf("anonymous requests must never be limited, got %d", rec.Code)
		}
	}
}

func TestMiddlewareFallsBackToDefaultRPM(t *testing.T) {
	rc := &admission.RequestContext{
		Account: &models.Account{ID: 3},
		Key:     &models.APIKey{ID: 3},
	}
	router := newMiddlewareRouter(t, rc, 1)

	if rec := hit(router); rec.Code != http.StatusOK {
		t.Fatalf("first request must pass, got %d", rec.Code)
	}
	if rec := hit(router); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("default rpm must apply when the account has none, got %d", rec.Code)
	}
}
