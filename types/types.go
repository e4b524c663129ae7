package types

import (
	"fmt"
	"time"
)

// SourceState reflects the disclosure lifecycle of a CVE record.
type SourceState string

const (
	StatePublished SourceState = "PUBLISHED"
	StateRejected  SourceState = "REJECTED"
	StateReserved  SourceState = "RESERVED"
	StateUnknown   SourceState = "UNKNOWN"
)

// ParseSourceState maps a raw state string to a SourceState.
// Unrecognized or empty values fall back to StateUnknown so that
// malformed metadata never drops an otherwise valid record.
func ParseSourceState(s string) SourceState {
	switch SourceState(s) {
	case StatePublished, StateRejected, StateReserved:
		return SourceState(s)
	}
	return StateUnknown
}

// SeverityLabel is the qualitative rating attached to a CVSS base score.
type SeverityLabel string

const (
	SeverityNone     SeverityLabel = "NONE"
	SeverityLow      SeverityLabel = "LOW"
	SeverityMedium   SeverityLabel = "MEDIUM"
	SeverityHigh     SeverityLabel = "HIGH"
	SeverityCritical SeverityLabel = "CRITICAL"
)

// SeverityFromScore derives a label from a base score using the
// conventional CVSS v3 rating bands.
func SeverityFromScore(score float64) SeverityLabel {
	switch {
	case score == 0:
		return SeverityNone
	case score < 4.0:
		return SeverityLow
	case score < 7.0:
		return SeverityMedium
	case score < 9.0:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// ParseSeverityLabel validates a raw severity string from a metric entry.
func ParseSeverityLabel(s string) (SeverityLabel, bool) {
	switch SeverityLabel(s) {
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return SeverityLabel(s), true
	}
	return "", false
}

// RawRecord is one ingested CVE document plus provenance. The payload is
// kept verbatim; only the Silver layer interprets it.
type RawRecord struct {
	SourceID   string    `json:"source_id"`
	SourcePath string    `json:"source_path"`
	IngestedAt time.Time `json:"ingested_at"`
	Payload    []byte    `json:"payload"`
}

// CoreRecord is the flat Silver-layer row, one per unique CVE identifier.
// Nullable attributes are pointers; a nil score means the record carries
// no usable metric, which is valid.
type CoreRecord struct {
	ID          string         `json:"id"`
	State       SourceState    `json:"state"`
	Published   *time.Time     `json:"published"`
	Modified    *time.Time     `json:"modified"`
	Description *string        `json:"description"`
	Score       *float64       `json:"score"`
	Severity    *SeverityLabel `json:"severity"`
}

// AffectedProduct is a child row of CoreRecord, one per declared
// (vendor, product, version range). Vendor and product are never empty;
// absent values are recorded as the literal "unknown".
type AffectedProduct struct {
	ID           string `json:"id"`
	Vendor       string `json:"vendor"`
	Product      string `json:"product"`
	VersionRange string `json:"version_range"`
}

// Key returns the natural key used for explosion dedup.
func (p AffectedProduct) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", p.ID, p.Vendor, p.Product, p.VersionRange)
}

// VulnerabilityRow is the Gold join of a CoreRecord with one of its
// affected products.
type VulnerabilityRow struct {
	ID           string         `json:"id"`
	Vendor       string         `json:"vendor"`
	Product      string         `json:"product"`
	VersionRange string         `json:"version_range"`
	State        SourceState    `json:"state"`
	Published    *time.Time     `json:"published"`
	Score        *float64       `json:"score"`
	Severity     *SeverityLabel `json:"severity"`
}

// VendorProfile aggregates risk per vendor. Vendors whose records carry
// no scores still appear, with nil aggregates.
type VendorProfile struct {
	Vendor        string   `json:"vendor"`
	CVECount      int      `json:"cve_count"`
	AvgScore      *float64 `json:"avg_score"`
	P95Score      *float64 `json:"p95_score"`
	CriticalCount int      `json:"critical_count"`
}

// MonthlySummary aggregates published records per calendar month.
// The month is formatted "2006-01".
type MonthlySummary struct {
	Month    string   `json:"month"`
	CVECount int      `json:"cve_count"`
	AvgScore *float64 `json:"avg_score"`
}
