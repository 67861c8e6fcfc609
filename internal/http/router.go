package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"main-stack/internal/metrics"
	"main-stack/internal/service"
)

// RouterDeps agrupa lo necesario para montar el router.
type RouterDeps struct {
	Logger         *zap.Logger
	Users          *UserHandler
	Products       *ProductHandler
	Tokens         *service.TokenService
	Metrics        *metrics.HTTP
	AuthRateLimit  gin.HandlerFunc
	MetricsHandler http.Handler
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(deps.Logger), gin.Recovery(), jsonContentTypeMiddleware())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Resource not found"})
	})
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	api := r.Group("/api")

	auth := api.Group("/auth")
	if deps.AuthRateLimit != nil {
		auth.Use(deps.AuthRateLimit)
	}
	auth.POST("/register", deps.Users.Register)
	auth.POST("/login", deps.Users.Login)
	auth.POST("/request-password-reset", deps.Users.RequestPasswordReset)
	auth.POST("/verify-password-reset", deps.Users.VerifyPasswordReset)
	auth.POST("/reset-password", deps.Users.ResetPassword)
	auth.POST("/refresh", deps.Users.RefreshToken)
	auth.POST("/logout", deps.Users.Logout)

	requireAuth := JWTAuthMiddleware(deps.Tokens)
	product := api.Group("/product")
	product.POST("/create", requireAuth, deps.Products.Create)
	product.PUT("/:id/update", requireAuth, deps.Products.Update)
	product.DELETE("/:id", requireAuth, deps.Products.Delete)
	product.GET("", deps.Products.List)
	product.GET("/", deps.Products.List)
	product.GET("/:id", deps.Products.Get)
	product.GET("/product/:name", deps.Products.GetByName)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
