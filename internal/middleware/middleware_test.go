package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/service"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type stubVerifier struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (s *stubVerifier) Verify(token string) (*models.JWTClaims, error) {
	s.seen = token
	return s.claims, s.err
}

func serve(r *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := &stubVerifier{claims: &models.JWTClaims{UserID: "user-1", Role: models.RoleUser}}

	r := gin.New()
	r.Use(JWT(verifier))
	r.GET("/me", func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})

	w := serve(r, http.MethodGet, "/me", "Bearer abc.def")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
	assert.Equal(t, "abc.def", verifier.seen)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "Bearer ").Code)

	verifier.err = appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	w = serve(r, http.MethodGet, "/me", "Bearer expired")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, body["error"]["code"])
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := &stubVerifier{err: appErrors.ErrUnauthorized}

	r := gin.New()
	r.Use(OptionalJWT(verifier))
	r.GET("/open", func(c *gin.Context) {
		_, exists := c.Get(ContextUserKey)
		c.JSON(http.StatusOK, gin.H{"authenticated": exists})
	})

	w := serve(r, http.MethodGet, "/open", "Bearer broken")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func TestSelfOrAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		claims *models.JWTClaims
		path   string
		want   int
	}{
		{name: "owner", claims: &models.JWTClaims{UserID: "user-1", Role: models.RoleUser}, path: "/budgets/user-1", want: http.StatusOK},
		{name: "other user", claims: &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}, path: "/budgets/user-1", want: http.StatusForbidden},
		{name: "admin", claims: &models.JWTClaims{UserID: "root", Role: models.RoleAdmin}, path: "/budgets/user-1", want: http.StatusOK},
		{name: "guest with matching id", claims: &models.JWTClaims{UserID: "user-1", Role: models.RoleGuest}, path: "/budgets/user-1", want: http.StatusForbidden},
		{name: "anonymous", path: "/budgets/user-1", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(withClaims(tc.claims))
			r.GET("/budgets/:userId", SelfOrAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
			assert.Equal(t, tc.want, serve(r, http.MethodGet, tc.path, "").Code)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withClaims(&models.JWTClaims{UserID: "user-1", Role: models.RoleUser}))
	r.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/members", RequireRoles(models.RoleAdmin, models.RoleUser), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/members", "").Code)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("request_id", "req-42")
		c.Next()
	})
	r.Use(WithResponseMeta())
	r.GET("/", func(c *gin.Context) {
		SetMeta(c, "count", 3)
		time.Sleep(2 * time.Millisecond)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	w := serve(r, http.MethodGet, "/", "")
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "req-42", meta["request_id"])
	assert.EqualValues(t, 3, meta["count"])
	assert.GreaterOrEqual(t, meta[processingTimeMS].(float64), float64(1))
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/applications/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(r, http.MethodGet, "/applications/app-1", "")

	snapshot := metrics.Snapshot()
	assert.EqualValues(t, 1, snapshot.RequestsTotal)
}

func TestMetricsMiddlewareWithoutService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", "").Code)
}

type recordingObserver struct {
	routes   []string
	statuses []int
}

func (o *recordingObserver) ObserveHTTPRequest(_ string, route string, status int, _ time.Duration) {
	o.routes = append(o.routes, route)
	o.statuses = append(o.statuses, status)
}

func TestMetricsMiddlewareUsesRouteTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/budgets/:userId", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/budgets/user-1", "")
	serve(r, http.MethodGet, "/nowhere/user-1", "")

	assert.Equal(t, []string{"/budgets/:userId", unmatchedRoute}, observer.routes)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}
