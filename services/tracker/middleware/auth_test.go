// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(keys ...*Key) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := NewAuth(nil)
	router.GET("/protected", auth.Require(keys...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func request(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidKey(t *testing.T) {
	router := newRouter(NewKeyFromString("secret-key"))
	w := request(router, "Bearer secret-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_CaseInsensitiveScheme(t *testing.T) {
	router := newRouter(NewKeyFromString("secret-key"))
	w := request(router, "bearer secret-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_WrongKey(t *testing.T) {
	router := newRouter(NewKeyFromString("secret-key"))
	w := request(router, "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MissingHeader(t *testing.T) {
	router := newRouter(NewKeyFromString("secret-key"))
	w := request(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_EmptyKeyRejectsEverything(t *testing.T) {
	router := newRouter(NewKeyFromString(""))
	w := request(router, "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = request(router, "Bearer anything")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MultipleKeys(t *testing.T) {
	router := newRouter(NewKeyFromString("alpha"), NewKeyFromString("beta"))
	assert.Equal(t, http.StatusOK, request(router, "Bearer alpha").Code)
	assert.Equal(t, http.StatusOK, request(router, "Bearer beta").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "Bearer gamma").Code)
}

func TestAuth_RateLimitsFailedAttempts(t *testing.T) {
	router := newRouter(NewKeyFromString("secret-key"))

	for i := 0; i < failedAuthLimit; i++ {
		w := request(router, "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Budget exhausted: even the right key is refused now.
	w := request(router, "Bearer secret-key")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestFailLimiter_WindowExpiry(t *testing.T) {
	l := newFailLimiter()
	start := time.Now()

	for i := 0; i < failedAuthLimit; i++ {
		l.record("10.0.0.1", start)
	}
	assert.True(t, l.blocked("10.0.0.1", start))
	assert.False(t, l.blocked("10.0.0.2", start))

	// Outside the window the budget resets.
	assert.False(t, l.blocked("10.0.0.1", start.Add(failedAuthWindow+time.Minute)))
}

func TestKey_Matches(t *testing.T) {
	k := NewKeyFromString("secret")
	assert.True(t, k.Matches("secret"))
	assert.False(t, k.Matches("Secret"))
	assert.False(t, k.Matches(""))
	assert.True(t, NewKeyFromString("").Empty())
}
