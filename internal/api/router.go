package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouterConfig holds the settings of the HTTP surface.
type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	// GenerateRate and GenerateBurst limit generate calls per client IP.
	GenerateRate  float64
	GenerateBurst int
	// Assets serves every request no API route matches.
	Assets http.Handler
}

// NewRouter wires the middleware chain and the API routes.
func NewRouter(h *Handler, log *zap.Logger, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chefai"
	}

	r := gin.New()
	// Ingredient names may contain '/', which the shell sends as %2F.
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(
		Recovery(log),
		RequestID(),
		otelgin.Middleware(cfg.ServiceName),
		Metrics(),
		Logger(log),
	)

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := r.Group("/api/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("/:id", h.GetSession)
	sessions.POST("/:id/ingredients", h.AddIngredient)
	sessions.DELETE("/:id/ingredients/:name", h.RemoveIngredient)
	sessions.PUT("/:id/plan", h.SelectPlan)
	sessions.POST("/:id/plan/upgrade", h.Upgrade)
	sessions.DELETE("/:id/upsell", h.CloseUpsell)
	sessions.POST("/:id/generate", RateLimit(cfg.GenerateRate, cfg.GenerateBurst), h.Generate)
	sessions.GET("/:id/recipes/:recipe_id/image", h.RecipeImage)
	sessions.PUT("/:id/selected", h.SelectRecipe)
	sessions.DELETE("/:id/selected", h.CloseRecipe)

	if cfg.Assets != nil {
		r.NoRoute(gin.WrapH(cfg.Assets))
	}
	return r
}
