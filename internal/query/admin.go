package query

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	httperr "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

// Admin exposes the operational endpoints: per-module cache TTL overrides
// and logical cache purges.
type Admin struct {
	config storage.CacheConfigStore
	cache  *cache.Service
}

// NewAdmin creates the admin surface.
func NewAdmin(config storage.CacheConfigStore, cacheSvc *cache.Service) *Admin {
	return &Admin{config: config, cache: cacheSvc}
}

// RegisterRoutes registers the admin API routes on the given router.
func (a *Admin) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/admin/cache-config", a.HandleListCacheConfig)
	r.PUT("/v1/admin/cache-config", a.HandleSetCacheConfig)
	r.POST("/v1/admin/cache/purge", a.HandlePurge)
}

// HandleListCacheConfig handles GET /v1/admin/cache-config
func (a *Admin) HandleListCacheConfig(c *gin.Context) {
	overrides, err := a.config.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list cache config",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// HandleSetCacheConfig handles PUT /v1/admin/cache-config
func (a *Admin) HandleSetCacheConfig(c *gin.Context) {
	var body struct {
		Module     string `json:"module" binding:"required"`
		TTLSeconds int64  `json:"ttl_seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}
	if body.TTLSeconds <= 0 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "ttl_seconds must be positive",
		})
		return
	}

	if err := a.config.SetTTL(c.Request.Context(), body.Module, body.TTLSeconds); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to update cache config",
			Details:   err.Error(),
		})
		return
	}

	// The new TTL applies to artifacts written from now on; purge so stale
	// long-TTL artifacts do not outlive the new policy.
	if err := a.cache.Invalidate(c.Request.Context(), body.Module, ""); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Config updated but purge failed",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"module":      body.Module,
		"ttl_seconds": body.TTLSeconds,
	})
}

// HandlePurge handles POST /v1/admin/cache/purge
func (a *Admin) HandlePurge(c *gin.Context) {
	var body struct {
		Category   string `json:"category" binding:"required"`
		Identifier string `json:"identifier"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	if err := a.cache.Invalidate(c.Request.Context(), body.Category, body.Identifier); err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to purge cache",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category":   body.Category,
		"identifier": body.Identifier,
		"purged":     true,
	})
}
