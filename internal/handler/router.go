package handler

import (
	"net/http"

	"bankledger/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRouter wires middleware and routes. registry backs /metrics.
func SetupRouter(h *Handler, issuer *auth.TokenIssuer, registry *prometheus.Registry, log zerolog.Logger) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())
	r.Use(NewHTTPMetrics(registry).Middleware())

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/signup", h.Signup)
			authGroup.POST("/login", h.Login)
		}

		account := api.Group("/account", auth.Middleware(issuer))
		{
			account.GET("", h.GetAccount)
			account.GET("/entries", h.ListEntries)
			account.POST("/deposit", h.Deposit)
			account.POST("/withdraw", h.Withdraw)
			account.PUT("/profile", h.UpdateProfile)
			account.GET("/verify", h.VerifyAccount)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}
