package query

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/pulsewire-io/pulsewire/internal/core/errors"
)

// RegisterRoutes registers the public read API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/tags/trending", s.HandleTrending)
	r.GET("/v1/tags/related", s.HandleRelatedTags)
	r.GET("/v1/geo/:scope/:ref_id", s.HandleGeoBreakdown)
	r.GET("/v1/sources/rank", s.HandleSourceRank)
	r.GET("/v1/sources/top", s.HandleTopSources)
}

// HandleTrending handles GET /v1/tags/trending?window=24h&limit=20
func (s *Service) HandleTrending(c *gin.Context) {
	var query struct {
		Window string `form:"window,default=24h"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badQuery(c, "Invalid query parameters", err)
		return
	}

	payload, err := s.Trending(c.Request.Context(), query.Window, query.Limit)
	if err != nil {
		s.writeError(c, err, "Failed to query trending tags")
		return
	}
	writeJSON(c, payload)
}

// HandleRelatedTags handles GET /v1/tags/related?slug=bitcoin&limit=20.
// The tag may also be passed as q=bitcoin.
func (s *Service) HandleRelatedTags(c *gin.Context) {
	var query struct {
		Slug  string `form:"slug"`
		Q     string `form:"q"`
		Limit int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badQuery(c, "Invalid query parameters", err)
		return
	}
	slug := query.Slug
	if slug == "" {
		slug = query.Q
	}
	if slug == "" {
		badQuery(c, "Invalid query parameters", errors.New("slug or q is required"))
		return
	}

	payload, err := s.RelatedTags(c.Request.Context(), slug, query.Limit)
	if err != nil {
		s.writeError(c, err, "Failed to query related tags")
		return
	}
	writeJSON(c, payload)
}

// HandleGeoBreakdown handles GET /v1/geo/:scope/:ref_id?window=24h
func (s *Service) HandleGeoBreakdown(c *gin.Context) {
	var uri struct {
		Scope string `uri:"scope" binding:"required"`
		RefID int64  `uri:"ref_id"`
	}
	var query struct {
		Window string `form:"window,default=24h"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		badQuery(c, "Invalid path parameters", err)
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badQuery(c, "Invalid query parameters", err)
		return
	}

	payload, err := s.GeoBreakdown(c.Request.Context(), uri.Scope, uri.RefID, query.Window)
	if err != nil {
		s.writeError(c, err, "Failed to query geo breakdown")
		return
	}
	writeJSON(c, payload)
}

// HandleSourceRank handles GET /v1/sources/rank?domain=example.com
func (s *Service) HandleSourceRank(c *gin.Context) {
	var query struct {
		Domain string `form:"domain" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badQuery(c, "Invalid query parameters", err)
		return
	}

	payload, err := s.SourceRank(c.Request.Context(), query.Domain)
	if err != nil {
		s.writeError(c, err, "Failed to query source rank")
		return
	}
	writeJSON(c, payload)
}

// HandleTopSources handles GET /v1/sources/top?limit=20
func (s *Service) HandleTopSources(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badQuery(c, "Invalid query parameters", err)
		return
	}

	payload, err := s.TopSources(c.Request.Context(), query.Limit)
	if err != nil {
		s.writeError(c, err, "Failed to query top sources")
		return
	}
	writeJSON(c, payload)
}

// writeError maps service errors onto the API error taxonomy. Unknown
// tags/domains are not errors — the service answers them with empty payloads
// — so the mapping covers bad parameters, first-ever misses that blew the
// compute budget (503, a retry will likely succeed), and storage failures.
func (s *Service) writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   message,
			Details:   err.Error(),
		})
	case errors.Is(err, httperr.ErrStaleUnavailable):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotYetAvailable,
			Message:   "Result not yet available, retry shortly",
			Details:   err.Error(),
		})
	case errors.Is(err, httperr.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageUnavailable,
			Message:   message,
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   message,
			Details:   err.Error(),
		})
	}
}

func badQuery(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQueryError,
		Message:   message,
		Details:   err.Error(),
	})
}

func writeJSON(c *gin.Context, payload []byte) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}
