package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(origins))
	router.PUT("/projects/p1/comments/c1", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func preflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodOptions, "/projects/p1/comments/c1", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsAuthorizationHeader(t *testing.T) {
	recorder := preflight(newCORSRouter(nil), "https://app.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodPut) {
		t.Fatalf("expected PUT to be allowed")
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSMiddlewareHonoursOriginPatterns(t *testing.T) {
	router := newCORSRouter([]string{"localhost:5173", "*.example.com"})

	allowed := preflight(router, "https://board.example.com")
	if allowed.Header().Get("Access-Control-Allow-Origin") != "https://board.example.com" {
		t.Fatalf("expected matching origin to be echoed, got %q", allowed.Header().Get("Access-Control-Allow-Origin"))
	}

	denied := preflight(router, "https://evil.test")
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for unknown origin, got %d", denied.Code)
	}
}

func TestOriginMatcher(t *testing.T) {
	match := originMatcher([]string{"localhost:5173"})
	if !match("http://localhost:5173") {
		t.Fatalf("expected localhost:5173 to match")
	}
	if match("http://localhost:3000") {
		t.Fatalf("did not expect localhost:3000 to match")
	}
	if match("::not a url") {
		t.Fatalf("did not expect garbage origin to match")
	}
}
