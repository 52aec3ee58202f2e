package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"codex-bridge/internal/devices"
	"codex-bridge/internal/hub"
	"codex-bridge/internal/pairing"
)

// pollAfterMs is the short-poll interval suggested to claiming clients.
const pollAfterMs = 800

type ConnectionsHandler struct {
	Pairing *pairing.Service
	Devices *devices.Store
	Hub     *hub.Hub

	// PublicBaseURL, when set, is embedded in the pairing deep link so a
	// companion app can reach the server.
	PublicBaseURL string
}

type createPairingRequest struct {
	ExpiresInSeconds int `json:"expiresInSeconds"`
}

type claimRequest struct {
	PairingCode string `json:"pairingCode"`
	DeviceName  string `json:"deviceName"`
	Platform    string `json:"platform"`
	DeviceModel string `json:"deviceModel"`
	AppVersion  string `json:"appVersion"`
}

type respondRequest struct {
	Decision string `json:"decision"`
}

func (h *ConnectionsHandler) CreatePairing(c *gin.Context) {
	// The body is optional; absent or malformed input falls back to the
	// configured default TTL.
	var req createPairingRequest
	_ = c.ShouldBindJSON(&req)

	code := h.Pairing.CreateCode(time.Duration(req.ExpiresInSeconds) * time.Second)
	response := gin.H{
		"pairingCode": code.Value,
		"expiresAt":   code.ExpiresAt,
	}
	if h.PublicBaseURL != "" {
		query := url.Values{}
		query.Set("baseUrl", h.PublicBaseURL)
		query.Set("pairingCode", code.Value)
		response["pairingUrl"] = "codex-bridge://pair?" + query.Encode()
	}
	c.JSON(http.StatusOK, response)
}

func (h *ConnectionsHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.Pairing.Claim(pairing.ClaimRequest{
		PairingCode: req.PairingCode,
		DeviceName:  req.DeviceName,
		Platform:    req.Platform,
		DeviceModel: req.DeviceModel,
		AppVersion:  req.AppVersion,
	}, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if notification, ok := h.Pairing.PendingRequest(result.RequestID); ok {
		h.Hub.NotifyPairingRequested(notification)
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId":   result.RequestID,
		"pollAfterMs": pollAfterMs,
		"expiresAt":   result.ExpiresAt,
	})
}

func (h *ConnectionsHandler) Poll(c *gin.Context) {
	result := h.Pairing.Poll(c.Param("requestId"))

	response := gin.H{
		"status":         result.Status,
		"tokenDelivered": result.TokenDelivered,
	}
	if result.DeviceID != "" {
		response["deviceId"] = result.DeviceID
	}
	if result.DeviceToken != "" {
		response["deviceToken"] = result.DeviceToken
	}
	if result.Message != "" {
		response["message"] = result.Message
	}
	c.JSON(http.StatusOK, response)
}

func (h *ConnectionsHandler) Respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var decision pairing.Decision
	switch req.Decision {
	case "approve":
		decision = pairing.DecisionApprove
	case "decline":
		decision = pairing.DecisionDecline
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve or decline"})
		return
	}

	result := h.Pairing.Respond(c.Param("requestId"), decision)
	if result.Status == pairing.StatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pairing request not found"})
		return
	}

	response := gin.H{"status": result.Status}
	if result.DeviceID != "" {
		response["deviceId"] = result.DeviceID
	}
	c.JSON(http.StatusOK, response)
}

func (h *ConnectionsHandler) ListDevices(c *gin.Context) {
	list := h.Devices.List()
	out := make([]gin.H, 0, len(list))
	for _, d := range list {
		out = append(out, gin.H{
			"deviceId":    d.DeviceID,
			"name":        d.Name,
			"platform":    d.Platform,
			"deviceModel": d.DeviceModel,
			"createdAt":   d.CreatedAt,
			"lastSeenAt":  d.LastSeenAt,
			"revokedAt":   d.RevokedAt,
			"online":      h.Hub.DeviceOnline(d.DeviceID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (h *ConnectionsHandler) RevokeDevice(c *gin.Context) {
	deviceID := c.Param("id")
	if !h.Devices.Revoke(deviceID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	h.Hub.CloseDevice(deviceID)
	c.Status(http.StatusNoContent)
}
