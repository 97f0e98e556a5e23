package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, actor.ID+"/"+string(actor.Role))
	})
	return r
}

func get(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware("secret"))
	token, err := utils.GenerateAccessToken("pat-1", models.RolePatient, "secret", time.Minute)
	require.NoError(t, err)

	w := get(r, "/whoami", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pat-1/patient", w.Body.String())

	w = get(r, "/whoami?access_token="+token, nil)
	assert.Equal(t, "pat-1/patient", w.Body.String())

	w = get(r, "/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/whoami", http.Header{"Authorization": {"Token " + token}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/whoami", http.Header{"Authorization": {"Bearer garbage"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleAuthMiddleware(t *testing.T) {
	setRole := func(role models.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(userIDKey, "u-1")
			c.Set(userRoleKey, role)
		}
	}

	r := newRouter(setRole(models.RoleDoctor), RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin))
	assert.Equal(t, http.StatusOK, get(r, "/whoami", nil).Code)

	r = newRouter(setRole(models.RolePatient), RoleAuthMiddleware(models.RoleDoctor))
	assert.Equal(t, http.StatusForbidden, get(r, "/whoami", nil).Code)

	r = newRouter(RoleAuthMiddleware(models.RoleDoctor))
	assert.Equal(t, http.StatusInternalServerError, get(r, "/whoami", nil).Code)
}

func TestActorFromContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := ActorFromContext(c)
	assert.False(t, ok)

	c.Set(userIDKey, "doc-1")
	c.Set(userRoleKey, models.RoleDoctor)
	actor, ok := ActorFromContext(c)
	require.True(t, ok)
	assert.Equal(t, lifecycle.Actor{ID: "doc-1", Role: models.RoleDoctor}, actor)
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := newRouter(RequestID(logger), Logger(logger))

	w := get(r, "/whoami", http.Header{RequestIDHeader: {"my-custom-id"}})
	assert.Equal(t, "my-custom-id", w.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"my-custom-id"`)
	assert.Contains(t, buf.String(), `"route":"/whoami"`)

	w = get(r, "/whoami", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Recovery(zerolog.New(&buf)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := get(r, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}
