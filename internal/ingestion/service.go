// Package ingestion is the write side: it validates interaction events and
// appends them to the event store. Rollups never update inline — the
// recompute cycle picks new events up on its next pass.
package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/pulsewire-io/pulsewire/internal/storage"
)

type Service struct {
	store            storage.EventStore
	maxBodySizeBytes int
}

func NewService(store storage.EventStore, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.GET("/v1/events", s.ListEventsHandler)
}
