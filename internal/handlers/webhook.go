package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"linkvault/internal/monitor"
)

// ChangeDetectionWebhook ingests a change notification and records one
// content_diff check per archived link of the notified URL.
func ChangeDetectionWebhook(c *gin.Context, mon *monitor.Monitor) {
	if c.ContentType() != "application/json" {
		slog.Warn("Rejected webhook with wrong content type", "content_type", c.ContentType())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Type must be application/json"})
		return
	}

	var payload monitor.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		slog.Error("Invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		slog.Error("Webhook payload missing fields", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: source_url, watch_uuid"})
		return
	}

	entries, err := mon.IngestWebhook(c.Request.Context(), payload)
	if err != nil {
		slog.Error("Failed to process change notification", "url", payload.SourceURL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if len(entries) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"status":              "ok",
			"message":             "No links found for this URL",
			"affected_shortcodes": 0,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"message":             "Notification processed successfully",
		"affected_shortcodes": len(entries),
		"results":             entries,
	})
}
