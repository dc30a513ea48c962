package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"linkvault/internal/models"
	"linkvault/internal/pipeline"
	"linkvault/internal/service"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

type archiveResponse struct {
	Shortcode  string         `json:"shortcode"`
	URL        string         `json:"url"`
	ArchiveURL string         `json:"archive_url"`
	Status     string         `json:"status"`
	Outcome    string         `json:"outcome,omitempty"`
	Method     string         `json:"method,omitempty"`
	StorageKey string         `json:"storage_key,omitempty"`
	Duplicate  bool           `json:"duplicate,omitempty"`
	Checksum   string         `json:"checksum,omitempty"`
	SizeBytes  int64          `json:"size_bytes,omitempty"`
	Trust      map[string]any `json:"trust,omitempty"`
	Proxy      map[string]any `json:"proxy,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrSizeLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrLinkNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAllBackendsFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ApiArchive creates a link. With a queue the capture runs in the
// background unless ?wait=true asks for it inline.
func ApiArchive(c *gin.Context, svc *service.Service, queue service.ArchiveEnqueuer) {
	var req utils.ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if queue != nil && c.Query("wait") != "true" {
		link, err := svc.EnqueueArchive(c.Request.Context(), req, c.ClientIP(), queue)
		if err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error(), "outcome": pipeline.OutcomeOf(err)})
			return
		}
		c.JSON(http.StatusAccepted, archiveResponse{
			Shortcode:  link.Shortcode,
			URL:        link.URL,
			ArchiveURL: archiveURL(c, link.Shortcode),
			Status:     link.Status,
			Method:     link.Method,
		})
		return
	}

	link, res, err := svc.CreateArchive(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		slog.Info("Archive request not fulfilled", "url", req.URL, "outcome", res.Outcome, "error", err)
		body := gin.H{"error": err.Error(), "outcome": res.Outcome}
		if link != nil {
			body["shortcode"] = link.Shortcode
		}
		c.JSON(errorStatus(err), body)
		return
	}

	resp := archiveResponse{
		Shortcode:  link.Shortcode,
		URL:        link.URL,
		ArchiveURL: archiveURL(c, link.Shortcode),
		Status:     models.LinkArchived,
		Outcome:    string(res.Outcome),
		Method:     res.Method,
		StorageKey: res.Snapshot.StorageKey,
		Duplicate:  res.Snapshot.WasDuplicate,
		Checksum:   res.Checksum,
		SizeBytes:  res.SizeBytes,
		Trust:      res.Trust.Metadata,
		Proxy:      res.Proxy,
		Warnings:   res.Warnings,
	}
	c.JSON(http.StatusCreated, resp)
}

// ApiLatestSnapshot describes the newest snapshot of ?url=.
func ApiLatestSnapshot(c *gin.Context, svc *service.Service) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}

	snap, err := svc.GetLatestSnapshot(url)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "No snapshot found for this URL"})
		return
	}
	files, err := svc.Store().Files(*snap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":         url,
		"storage_key": snap.StorageKey,
		"timestamp":   snap.Timestamp.Format(time.RFC3339),
		"files":       files,
		"filename":    utils.ArchiveFilename(snap.Timestamp, url, ".html"),
	})
}

// ApiLinkChecks lists the newest integrity checks of a link, filtered by
// ?type= and capped by ?limit=.
func ApiLinkChecks(c *gin.Context, svc *service.Service) {
	checkType := c.Query("type")
	if checkType != "" && checkType != models.CheckLiveness && checkType != models.CheckContentDiff {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be liveness or content_diff"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	checks, err := svc.ListIntegrityChecks(c.Request.Context(), c.Param("shortcode"), checkType, limit)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	type checkView struct {
		ID                 uint           `json:"id"`
		CheckType          string         `json:"check_type"`
		Status             string         `json:"status"`
		Similarity         *float64       `json:"similarity"`
		Source             string         `json:"source"`
		CheckedAt          time.Time      `json:"checked_at"`
		RecaptureSuggested bool           `json:"recapture_suggested"`
		Details            map[string]any `json:"details"`
	}
	views := make([]checkView, 0, len(checks))
	for _, ch := range checks {
		views = append(views, checkView{
			ID:                 ch.ID,
			CheckType:          ch.CheckType,
			Status:             ch.Status,
			Similarity:         ch.Similarity,
			Source:             ch.Source,
			CheckedAt:          ch.CheckedAt,
			RecaptureSuggested: ch.RecaptureSuggested,
			Details:            ch.Details,
		})
	}
	c.JSON(http.StatusOK, gin.H{"shortcode": c.Param("shortcode"), "checks": views})
}

// archiveURL is the public address of a link's snapshot on the host that
// served c.
func archiveURL(c *gin.Context, shortcode string) string {
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
	}
	return scheme + "://" + c.Request.Host + "/archive/" + shortcode
}
