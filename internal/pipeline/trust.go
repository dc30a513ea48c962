package pipeline

import (
	"time"

	"linkvault/internal/models"
	"linkvault/internal/plans"
)

// Trust sources
const (
	SourceServer          = "server"
	SourceServerCertified = "server_certified"
	SourceCommercialTSA   = "commercial_tsa"
)

// Trust is the provenance record attached to a snapshot. It is derived from
// the plan tier at capture time and never changes afterwards.
type Trust struct {
	Timestamp time.Time
	Tier      string
	Source    string
	Metadata  map[string]any
}

// GenerateTrust builds the trust record for a capture made now on tier.
// Unknown tiers get the basic record.
func GenerateTrust(tier string, now time.Time, checksum string) Trust {
	t := Trust{
		Timestamp: now.UTC(),
		Tier:      plans.TrustTierFor(tier),
		Source:    SourceServer,
	}
	switch tier {
	case models.PlanProfessional:
		t.Source = SourceServerCertified
	case models.PlanSovereign:
		t.Source = SourceCommercialTSA
	}

	t.Metadata = map[string]any{
		"type":      t.Tier,
		"source":    t.Source,
		"timestamp": t.Timestamp.Format(time.RFC3339),
	}
	if checksum != "" {
		t.Metadata["checksum_sha256"] = checksum
	}
	switch t.Source {
	case SourceServerCertified:
		t.Metadata["note"] = "TSA integration coming soon"
	case SourceCommercialTSA:
		t.Metadata["note"] = "Commercial TSA integration coming soon"
	}
	return t
}
