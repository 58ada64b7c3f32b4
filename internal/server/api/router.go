package api

import (
	"wharf/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, keys KeyStore, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on the upload entry points only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Public surface: health plus the share links upload responses hand out
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/file-view/:slug", handler.HandleFileView)
	e.GET("/api/file-download/:slug", handler.HandleFileDownload)

	// Everything else needs an admin token or an API key
	auth := e.Group("", Auth(keys, cfg.AdminToken))

	// Presign flow
	auth.POST("/api/s3/presign", handler.HandlePresign, RequireFile, uploadLimiter.Middleware())
	auth.POST("/api/s3/commit", handler.HandleCommit, RequireFile)

	// Direct flow
	auth.PUT("/api/upload-direct/:filename", handler.HandleDirectUpload, RequireFile, uploadLimiter.Middleware())

	// Records
	auth.GET("/api/files", handler.HandleListFiles)
	auth.GET("/api/files/:id", handler.HandleGetFile)
	auth.DELETE("/api/files/:id", handler.HandleDeleteFile)

	// Mount browsing
	auth.GET("/api/fs/list", handler.HandleBrowse, RequireMount)

	// Admin only
	auth.GET("/api/stats", handler.HandleStats, RequireAdmin)

	return e
}
