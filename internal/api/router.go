package api

import (
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
)

// NewRouter mounts the API under /api and, when cfg.StaticDir exists, serves
// the web UI from it for every other path.
func NewRouter(cfg config.ServerConfig, h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	headers := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 || slices.Contains(cfg.CORSOrigins, "*") {
		headers.AllowAllOrigins = true
	} else {
		headers.AllowOrigins = cfg.CORSOrigins
	}
	headers.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	headers.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	r.Use(cors.New(headers))

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)

		chat := api.Group("/chat", limitBody(cfg.MaxBodyBytes))
		{
			chat.POST("", h.Chat)
			chat.GET("/history", h.History)
			chat.GET("/:conversationId", h.Detail)
			chat.DELETE("/:conversationId", h.Delete)
		}
	}

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
		} else {
			logger.Info("Static directory not found, not serving web UI", zap.String("dir", cfg.StaticDir))
		}
	}

	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request handled", fields...)
	}
}
