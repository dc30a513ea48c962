package utils

import (
	"strings"
	"sync"

	"gorm.io/gorm"

	"linkvault/internal/models"
)

// DBLogWriter mirrors a capture log onto the link record as it is written so
// operators can read why a capture failed while it is still running.
type DBLogWriter struct {
	db     *gorm.DB
	linkID uint
	buffer strings.Builder
	mutex  sync.Mutex
}

func NewDBLogWriter(db *gorm.DB, linkID uint) *DBLogWriter {
	return &DBLogWriter{
		db:     db,
		linkID: linkID,
	}
}

func (w *DBLogWriter) Write(p []byte) (n int, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	n, err = w.buffer.Write(p)
	if err != nil {
		return n, err
	}

	if w.db != nil && w.linkID != 0 {
		w.db.Model(&models.Link{}).Where("id = ?", w.linkID).Update("capture_log", w.buffer.String())
	}

	return n, nil
}

func (w *DBLogWriter) String() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.buffer.String()
}
