package api

import (
	"github.com/gin-gonic/gin"
	"github.com/atlasdns/atlas/internal/api/handlers"
	"github.com/atlasdns/atlas/internal/api/middleware"
	"github.com/atlasdns/atlas/internal/config"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/atlasdns/atlas/internal/api/docs" // swagger docs
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	// Swagger UI at /swagger/*
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/config", h.GetConfig)
	api.PUT("/config", h.PutConfig)
	api.POST("/config/reload", h.ReloadConfig)

	api.GET("/filtering/whitelist", h.GetWhitelist)
	api.POST("/filtering/whitelist", h.AddWhitelist)
	api.DELETE("/filtering/whitelist", h.RemoveWhitelist)

	api.GET("/filtering/blacklist", h.GetBlacklist)
	api.POST("/filtering/blacklist", h.AddBlacklist)
	api.DELETE("/filtering/blacklist", h.RemoveBlacklist)

	api.GET("/filtering/stats", h.FilteringStats)
	api.PUT("/filtering/enabled", h.SetFilteringEnabled)
	api.GET("/filtering/blocklists", h.GetBlocklists)
	api.PUT("/filtering/blocklists/:name/enabled", h.SetBlocklistEnabled)
	api.POST("/filtering/blocklists/:name/refresh", h.RefreshBlocklist)

	// Custom DNS endpoints
	api.GET("/custom-dns", h.ListCustomDNS)
	api.POST("/custom-dns/hosts", h.AddHost)
	api.PUT("/custom-dns/hosts/:name", h.UpdateHost)
	api.DELETE("/custom-dns/hosts/:name", h.DeleteHost)
	api.POST("/custom-dns/cnames", h.AddCNAME)
	api.PUT("/custom-dns/cnames/:alias", h.UpdateCNAME)
	api.DELETE("/custom-dns/cnames/:alias", h.DeleteCNAME)

	// Zone endpoints
	api.GET("/zones", h.ListZones)
	api.POST("/zones", h.CreateZone)
	api.GET("/zones/:name", h.GetZone)
	api.PUT("/zones/:name", h.UpdateZone)
	api.DELETE("/zones/:name", h.DeleteZone)

	// Cluster (primary/secondary config sync) endpoints
	api.GET("/cluster/status", h.GetClusterStatus)
	api.GET("/cluster/config", h.GetClusterConfig)
	api.PUT("/cluster/config", h.PutClusterConfig)
	api.GET("/cluster/export", h.GetClusterExport)
	api.POST("/cluster/sync", h.PostClusterSync)
}
