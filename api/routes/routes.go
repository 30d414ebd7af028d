package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vectordocs/api/handlers"
	"github.com/feichai0017/vectordocs/api/middleware"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.CORS(), middleware.RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API 版本组
	v1 := r.Group("/api/v1", middleware.RequireUser())

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.GET("/:id", h.Document.GetStatus)
		docs.DELETE("/:id", h.Document.Delete)
	}

	v1.POST("/search", h.Search.Search)
	v1.POST("/answers", h.Answer.Stream)
}
