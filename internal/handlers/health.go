package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"linkvault/internal/monitoring"
	"linkvault/internal/proxy"
)

// Capabilities reports which optional integrations are configured.
type Capabilities struct {
	Proxy           bool `json:"proxy"`
	ChangeDetection bool `json:"change_detection"`
	Mirror          bool `json:"mirror"`
	Queue           bool `json:"queue"`
}

// HealthCheckHandler checks the health of the application. proxyHealth and
// browsers may be nil.
func HealthCheckHandler(db *gorm.DB, caps Capabilities, proxyHealth *proxy.HealthChecker, browsers *monitoring.BrowserTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
			return
		}
		body := gin.H{"status": "healthy", "capabilities": caps}
		if proxyHealth != nil {
			body["proxy"] = proxyHealth.GetStatus()
		}
		if browsers != nil {
			stats := browsers.Stats()
			body["browsers"] = stats
			if stats.LeakDetected {
				body["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
