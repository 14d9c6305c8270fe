package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter monta as rotas do serviço.
func NewRouter(handler *Handler, auth *Auth) *gin.Engine {
	r := gin.Default()

	// Basic route to check health
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Flash Sale API is running!")
	})
	r.GET("/health", handler.HealthCheck)

	v1 := r.Group("/api/v1")

	user := v1.Group("/user")
	user.POST("/signup", auth.Signup)
	user.POST("/signin", auth.Signin)

	product := v1.Group("/product")
	product.POST("/checkout/:id", auth.Middleware(), handler.Checkout)

	admin := v1.Group("/admin")
	admin.POST("/seed-catalog", handler.SeedCatalog)
	admin.POST("/rehydrate", handler.Rehydrate)

	v1.GET("/dashboard", handler.Dashboard)

	return r
}
