// Package plans holds the per-tier quota and monitoring cadence table.
package plans

import (
	"math"
	"time"

	"linkvault/internal/models"
)

// Unlimited is the sentinel used for tiers without a ceiling, so quota
// comparisons never need a separate "no limit" branch.
const Unlimited = math.MaxInt64

const mb = 1024 * 1024

// Trust tiers
const (
	TrustBasic      = "basic"
	TrustEnhanced   = "enhanced"
	TrustLegalGrade = "legal_grade"
)

// Profile is the quota and cadence configuration of one plan tier.
type Profile struct {
	Tier                 string
	MonthlyCreationLimit int64
	MonthlyRedirectLimit int64
	MaxSnapshotBytes     int64
	MinIdentifierLength  int
	// CustomIdentifiers allows links to request their own shortcode.
	CustomIdentifiers bool
	LivenessCadence   time.Duration
	// ContentDiffCadence is zero when the tier has no content-diff monitoring.
	ContentDiffCadence time.Duration
	TrustTier          string
}

var profiles = map[string]Profile{
	models.PlanFree: {
		Tier:                 models.PlanFree,
		MonthlyCreationLimit: 5,
		MonthlyRedirectLimit: 25,
		MaxSnapshotBytes:     5 * mb,
		MinIdentifierLength:  8,
		LivenessCadence:      24 * time.Hour,
		TrustTier:            TrustBasic,
	},
	models.PlanProfessional: {
		Tier:                 models.PlanProfessional,
		MonthlyCreationLimit: 100,
		MonthlyRedirectLimit: 1000,
		MaxSnapshotBytes:     50 * mb,
		MinIdentifierLength:  6,
		CustomIdentifiers:    true,
		LivenessCadence:      5 * time.Minute,
		ContentDiffCadence:   time.Hour,
		TrustTier:            TrustEnhanced,
	},
	models.PlanSovereign: {
		Tier:                 models.PlanSovereign,
		MonthlyCreationLimit: Unlimited,
		MonthlyRedirectLimit: Unlimited,
		MaxSnapshotBytes:     Unlimited,
		MinIdentifierLength:  4,
		CustomIdentifiers:    true,
		LivenessCadence:      time.Minute,
		ContentDiffCadence:   5 * time.Minute,
		TrustTier:            TrustLegalGrade,
	},
}

// Tiers lists the known tiers from lowest to highest.
func Tiers() []string {
	return []string{models.PlanFree, models.PlanProfessional, models.PlanSovereign}
}

// For returns the profile of a tier. Unknown tiers resolve to free.
func For(tier string) Profile {
	if p, ok := profiles[tier]; ok {
		return p
	}
	return profiles[models.PlanFree]
}

// SizeUnlimited reports whether snapshots of this tier are never size-checked.
func (p Profile) SizeUnlimited() bool {
	return p.MaxSnapshotBytes == Unlimited
}

// Cadence returns how often a check type runs for this tier. The boolean is
// false when the tier has no monitoring of that type.
func (p Profile) Cadence(checkType string) (time.Duration, bool) {
	switch checkType {
	case models.CheckLiveness:
		return p.LivenessCadence, p.LivenessCadence > 0
	case models.CheckContentDiff:
		return p.ContentDiffCadence, p.ContentDiffCadence > 0
	}
	return 0, false
}

// HasContentMonitoring reports whether the tier gets content-diff checks.
func (p Profile) HasContentMonitoring() bool {
	return p.ContentDiffCadence > 0
}

// IsHighest reports whether the tier is the top tier.
func (p Profile) IsHighest() bool {
	return p.Tier == models.PlanSovereign
}

// TrustTierFor returns the trust tier snapshots of tier are recorded with.
func TrustTierFor(tier string) string {
	return For(tier).TrustTier
}
