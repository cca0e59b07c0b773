package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PresenceHandler exposes the presence store's read side over HTTP. All
// mutations go through the bus; this surface serves dashboards and debugging.
type PresenceHandler struct {
	participants ports.ParticipantStore
	hosts        ports.HostStore
}

func NewPresenceHandler(participants ports.ParticipantStore, hosts ports.HostStore) *PresenceHandler {
	return &PresenceHandler{
		participants: participants,
		hosts:        hosts,
	}
}

func (h *PresenceHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/streams/:id/viewers", h.GetViewers)
		api.GET("/streams/:id/streamers", h.GetStreamers)
		api.GET("/streams/:id/raised-hands", h.GetRaisedHands)
		api.GET("/streams/:id/count", h.GetCount)
		api.GET("/streams/:id/host", h.GetHost)
	}
}

func (h *PresenceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *PresenceHandler) GetViewers(c *gin.Context) {
	stream := domain.StreamID(c.Param("id"))

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}

	viewers, err := h.participants.GetViewersPage(c.Request.Context(), stream, page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"viewers": viewers, "page": page})
}

func (h *PresenceHandler) GetStreamers(c *gin.Context) {
	stream := domain.StreamID(c.Param("id"))

	streamers, err := h.participants.GetStreamers(c.Request.Context(), stream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"streamers": streamers})
}

func (h *PresenceHandler) GetRaisedHands(c *gin.Context) {
	stream := domain.StreamID(c.Param("id"))

	raised, err := h.participants.GetRaisedHands(c.Request.Context(), stream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"raisedHands": raised})
}

func (h *PresenceHandler) GetCount(c *gin.Context) {
	stream := domain.StreamID(c.Param("id"))

	count, err := h.participants.Count(c.Request.Context(), stream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *PresenceHandler) GetHost(c *gin.Context) {
	stream := domain.StreamID(c.Param("id"))

	hostID, err := h.hosts.HostID(c.Request.Context(), stream)
	if err != nil {
		if errors.Is(err, domain.ErrNoHost) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream has no host"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	host, err := h.hosts.HostInfo(c.Request.Context(), hostID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"host": host})
}
