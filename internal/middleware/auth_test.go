package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/tomevault/tomevault/internal/config"
)

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.AuthConfig{Tokens: []config.TokenConfig{
		{Token: "tok-archivist", UserID: "user-1", UserType: "archivist"},
	}}

	r := gin.New()
	r.Use(Identify(cfg))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetString(ContextUserID),
			"user_type": c.GetString(ContextUserType),
		})
	})
	protected := r.Group("", RequireAuth())
	protected.POST("/tomes", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	return r
}

func TestIdentifyValidToken(t *testing.T) {
	r := authRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok-archivist")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")
	assert.Contains(t, w.Body.String(), "archivist")
}

func TestIdentifyUnknownTokenIsAnonymous(t *testing.T) {
	r := authRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	r := authRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tomes", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/tomes", nil)
	req.Header.Set("Authorization", "Bearer tok-archivist")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}
