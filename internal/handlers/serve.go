package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"linkvault/internal/models"
	"linkvault/internal/service"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

// ServeSnapshotFile streams one file of a link's snapshot. When the local
// copy is gone the file is read back from the mirror.
func ServeSnapshotFile(c *gin.Context, svc *service.Service, mirror *storage.Mirror) {
	link, err := svc.LinkByShortcode(c.Request.Context(), c.Param("shortcode"))
	if err != nil || link.Status != models.LinkArchived || link.StorageKey == "" {
		c.Status(http.StatusNotFound)
		return
	}

	name := c.Param("file")
	if name == "" {
		name = storage.PrimaryFile
	}
	if name != path.Base(name) || strings.HasPrefix(name, ".") {
		c.Status(http.StatusBadRequest)
		return
	}

	var r io.ReadCloser
	if snap, err := svc.Store().Open(link.URL, link.StorageKey); err == nil {
		f, err := os.Open(filepath.Join(snap.Dir, name))
		switch {
		case err == nil:
			r = f
		case !os.IsNotExist(err):
			slog.Error("Failed to open snapshot file", "storage_key", link.StorageKey, "file", name, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
	}
	if r == nil && mirror != nil {
		if mr, err := mirror.Open(link.StorageKey, name); err == nil {
			slog.Info("Serving snapshot file from mirror", "storage_key", link.StorageKey, "file", name)
			r = mr
		}
	}
	if r == nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer r.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Type", ct)
	c.Header("ETag", fmt.Sprintf("\"%s\"", link.Checksum))
	if c.Query("download") != "" {
		capturedAt := link.CreatedAt
		if link.ArchivedAt != nil {
			capturedAt = *link.ArchivedAt
		}
		filename := utils.ArchiveFilename(capturedAt, link.URL, filepath.Ext(name))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	}
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, r); err != nil {
		slog.Error("Error streaming snapshot file", "storage_key", link.StorageKey, "file", name, "error", err)
	}
}
