package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lodgevision/signage/internal/syncgroup"
)

// SyncGroupHandler exposes sync group CRUD and playback-control verbs.
type SyncGroupHandler struct {
	coordinator *syncgroup.Coordinator
}

// NewSyncGroupHandler creates the handler.
func NewSyncGroupHandler(coordinator *syncgroup.Coordinator) *SyncGroupHandler {
	return &SyncGroupHandler{coordinator: coordinator}
}

type createGroupRequest struct {
	Name       string   `json:"name"`
	DisplayIDs []string `json:"display_ids"`
}

type updateGroupRequest struct {
	Name       *string  `json:"name"`
	DisplayIDs []string `json:"display_ids"`
}

type startPlaybackRequest struct {
	ContentID     string  `json:"content_id"`
	StartPosition float64 `json:"start_position"`
}

type seekPlaybackRequest struct {
	Position float64 `json:"position"`
}

func (h *SyncGroupHandler) Create(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	g, err := h.coordinator.Create(c.Request.Context(), req.Name, req.DisplayIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, g)
}

func (h *SyncGroupHandler) List(c *gin.Context) {
	respondOK(c, h.coordinator.List())
}

func (h *SyncGroupHandler) Get(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.coordinator.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) Update(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req updateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	g, err := h.coordinator.Update(c.Request.Context(), id, syncgroup.UpdateParams{
		Name:       req.Name,
		DisplayIDs: req.DisplayIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) Delete(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	deleted := h.coordinator.Delete(c.Request.Context(), id)
	respondOK(c, gin.H{"deleted": deleted})
}

func (h *SyncGroupHandler) StartPlayback(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req startPlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	g, err := h.coordinator.StartPlayback(c.Request.Context(), id, req.ContentID, req.StartPosition)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) PausePlayback(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.coordinator.PausePlayback(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) ResumePlayback(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.coordinator.ResumePlayback(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) SeekPlayback(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req seekPlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	g, err := h.coordinator.SeekPlayback(c.Request.Context(), id, req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) StopPlayback(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.coordinator.StopPlayback(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func (h *SyncGroupHandler) ElectConductor(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.coordinator.ElectConductor(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, g)
}

func groupID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid group id")
		return uuid.Nil, false
	}
	return id, true
}
