// Package handlers is the HTTP surface: archive creation, snapshot and
// integrity queries, and the change-notification webhook.
package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"linkvault/internal/changedetection"
	"linkvault/internal/monitor"
	"linkvault/internal/monitoring"
	"linkvault/internal/proxy"
	"linkvault/internal/service"
	"linkvault/internal/storage"
)

// Deps are the components the routes are served from. Queue, Mirror,
// ProxyHealth and Browsers are optional.
type Deps struct {
	DB           *gorm.DB
	Service      *service.Service
	Monitor      *monitor.Monitor
	Queue        service.ArchiveEnqueuer
	Mirror       *storage.Mirror
	ProxyHealth  *proxy.HealthChecker
	Browsers     *monitoring.BrowserTracker
	Capabilities Capabilities
}

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, d Deps) {
	r.GET("/healthz", HealthCheckHandler(d.DB, d.Capabilities, d.ProxyHealth, d.Browsers))

	api := r.Group("/api/v1")
	api.POST("/archive", func(c *gin.Context) { ApiArchive(c, d.Service, d.Queue) })
	api.GET("/snapshots/latest", func(c *gin.Context) { ApiLatestSnapshot(c, d.Service) })
	api.GET("/links/:shortcode/checks", func(c *gin.Context) { ApiLinkChecks(c, d.Service) })

	r.POST(changedetection.WebhookPath, func(c *gin.Context) { ChangeDetectionWebhook(c, d.Monitor) })

	r.GET("/archive/:shortcode", func(c *gin.Context) { ServeSnapshotFile(c, d.Service, d.Mirror) })
	r.GET("/archive/:shortcode/:file", func(c *gin.Context) { ServeSnapshotFile(c, d.Service, d.Mirror) })
}
