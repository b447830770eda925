package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/marketsync/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func routeSet(engine *gin.Engine) map[string]bool {
	set := make(map[string]bool)
	for _, r := range engine.Routes() {
		set[r.Method+" "+r.Path] = true
	}
	return set
}

func TestRouter(t *testing.T) {
	t.Run("defaults to v1", func(t *testing.T) {
		r := NewRouter(gin.New())
		assert.Equal(t, "v1", r.apiVersion)
		assert.Empty(t, r.registrars)
	})

	t.Run("mounts registrars under the version prefix", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("test", "/test")
		g.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

		NewRouter(engine, WithAPIVersion("v2")).Register(g).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pong", w.Body.String())
	})
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("orders", "/orders")
		assert.Equal(t, "orders", g.Name())
		assert.Equal(t, "/orders", g.Prefix())
	})

	t.Run("applies middleware to its routes and subgroups", func(t *testing.T) {
		engine := gin.New()
		var hits int
		g := NewDomainGroup("outer", "/outer").Use(func(c *gin.Context) {
			hits++
			c.Next()
		})
		g.DELETE("/item", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		g.Group("inner", "/inner").PUT("/item", func(c *gin.Context) { c.Status(http.StatusAccepted) })
		g.RegisterRoutes(engine.Group("/api"))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/outer/item", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/outer/inner/item", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 2, hits)
	})
}

func TestAPIRoutes(t *testing.T) {
	engine := gin.New()
	syncHandler := handler.NewSyncHandler(nil)
	orderHandler := handler.NewOrderHandler(nil)
	systemHandler := handler.NewSystemHandler("marketsync", "test")

	NewRouter(engine).Register(
		SyncRoutes(syncHandler),
		OrderRoutes(orderHandler),
		NotificationRoutes(orderHandler),
		SystemRoutes(systemHandler),
	).Setup()
	RegisterProbes(engine, systemHandler)

	routes := routeSet(engine)
	for _, want := range []string{
		"POST /api/v1/sync/runs",
		"GET /api/v1/sync/runs",
		"GET /api/v1/sync/runs/:run_id",
		"POST /api/v1/sync/runs/:run_id/cancel",
		"GET /api/v1/sync/catalog",
		"POST /api/v1/sync/push",
		"POST /api/v1/orders/pull",
		"GET /api/v1/orders/:order_id",
		"POST /api/v1/orders/:order_id/acknowledge",
		"PUT /api/v1/orders/:order_id/status",
		"POST /api/v1/orders/:order_id/storno",
		"DELETE /api/v1/orders/:order_id/lines/:line_id",
		"POST /api/v1/notifications/orders",
		"GET /api/v1/system/info",
		"GET /api/v1/system/ping",
		"GET /health",
		"GET /ping",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
