package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/lodgevision/signage/internal/gateway"
	"github.com/lodgevision/signage/internal/resolver"
)

// DisplayHandler exposes the display-facing REST surface: current
// source resolution, pairing confirmation and remote control.
type DisplayHandler struct {
	resolver *resolver.Resolver
	gateway  *gateway.Service
}

// NewDisplayHandler creates the handler.
func NewDisplayHandler(res *resolver.Resolver, gw *gateway.Service) *DisplayHandler {
	return &DisplayHandler{resolver: res, gateway: gw}
}

// CurrentSource resolves the active content source for a display. The
// resolve itself updates the display's last-seen timestamp.
func (h *DisplayHandler) CurrentSource(c *gin.Context) {
	src, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, src)
}

type confirmPairingRequest struct {
	Code      string `json:"code"`
	DisplayID string `json:"display_id"`
}

// ConfirmPairing consumes a pairing code on behalf of an admin.
func (h *DisplayHandler) ConfirmPairing(c *gin.Context) {
	var req confirmPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.DisplayID == "" {
		respondValidation(c, "code and display_id are required")
		return
	}
	if err := h.gateway.ConfirmPairing(c.Request.Context(), req.Code, req.DisplayID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"display_id": req.DisplayID})
}

type displayCommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// Command pushes a generic remote-control verb to one display.
func (h *DisplayHandler) Command(c *gin.Context) {
	var req displayCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		respondValidation(c, "command is required")
		return
	}
	h.gateway.SendDisplayCommand(c.Param("id"), gateway.DisplayCommandPayload{
		Command: req.Command,
		Payload: req.Payload,
	})
	respondOK(c, gin.H{"sent": true})
}

type quickPlayRequest struct {
	URL         string `json:"url"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Loop        bool   `json:"loop"`
}

// QuickPlay pushes an ad-hoc URL to one display, bypassing the resolver.
func (h *DisplayHandler) QuickPlay(c *gin.Context) {
	var req quickPlayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		respondValidation(c, "url is required")
		return
	}
	h.gateway.QuickPlay(c.Param("id"), gateway.QuickPlayPayload{
		URL:         req.URL,
		Source:      req.Source,
		ContentType: req.ContentType,
		Loop:        req.Loop,
	})
	respondOK(c, gin.H{"sent": true})
}
