package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan tiers
const (
	PlanFree         = "free"
	PlanProfessional = "professional"
	PlanSovereign    = "sovereign"
)

// Integrity check types
const (
	CheckLiveness    = "liveness"
	CheckContentDiff = "content_diff"
)

// Integrity check statuses
const (
	StatusOK           = "ok"
	StatusBroken       = "broken"
	StatusMinorChanges = "minor_changes"
	StatusMajorChanges = "major_changes"
)

// Integrity check sources
const (
	SourceScheduled = "scheduled"
	SourceWebhook   = "webhook"
)

// Link statuses
const (
	LinkPending  = "pending"
	LinkArchived = "archived"
	LinkRejected = "rejected"
	LinkFailed   = "failed"
)

// Account is the owner of archived links. Only the plan tier matters here;
// billing and authentication live elsewhere.
type Account struct {
	gorm.Model
	Email string `gorm:"uniqueIndex"`
	Plan  string `gorm:"default:free"`
	Links []Link
}

// Link is one archived identifier for a URL. Several links may point at the
// same URL and therefore share the URL's snapshots on disk.
type Link struct {
	gorm.Model
	Shortcode  string `gorm:"uniqueIndex"`
	URL        string `gorm:"index"`
	AccountID  uint   `gorm:"index"`
	Account    Account
	Method     string // singlefile, browser, both
	Status     string `gorm:"default:pending"`
	ArchivedAt *time.Time
	StorageKey string
	Checksum   string
	SizeBytes  int64

	ProxyIP       string
	ProxyCountry  string
	ProxyProvider string

	TrustTimestamp *time.Time
	TrustTier      string
	TrustSource    string
	TrustMetadata  datatypes.JSONMap

	CaptureLog string `gorm:"type:text"`

	IntegrityChecks []IntegrityCheck
}

// IntegrityCheck is one point observation of a link's live URL. Rows are
// only ever inserted.
type IntegrityCheck struct {
	ID                 uint      `gorm:"primarykey"`
	CreatedAt          time.Time
	LinkID             uint      `gorm:"index:idx_check_link_type"`
	CheckType          string    `gorm:"index:idx_check_link_type"`
	Status             string
	Similarity         *float64
	Details            datatypes.JSONMap
	Source             string
	CheckedAt          time.Time `gorm:"index"`
	RecaptureSuggested bool
}

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &Link{}, &IntegrityCheck{})
}
