package pipeline

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/cvelake/cvelake/store"
	"github.com/cvelake/cvelake/types"
)

// Physical table names for the Silver and Gold layers. The Bronze table
// name lives in the bronze package, which owns that write path.
const (
	CoreTable    = "core"
	ProductTable = "affected_products"
	VulnTable    = "vuln_view"
	VendorTable  = "vendor_risk"
	MonthlyTable = "monthly_summary"
)

var coreSchema = store.Schema{
	{Name: "id", Type: "TEXT"},
	{Name: "state", Type: "TEXT"},
	{Name: "published", Type: "TIMESTAMP"},
	{Name: "modified", Type: "TIMESTAMP"},
	{Name: "description", Type: "TEXT"},
	{Name: "score", Type: "REAL"},
	{Name: "severity", Type: "TEXT"},
}

var productSchema = store.Schema{
	{Name: "id", Type: "TEXT"},
	{Name: "vendor", Type: "TEXT"},
	{Name: "product", Type: "TEXT"},
	{Name: "version_range", Type: "TEXT"},
}

var vulnSchema = store.Schema{
	{Name: "id", Type: "TEXT"},
	{Name: "vendor", Type: "TEXT"},
	{Name: "product", Type: "TEXT"},
	{Name: "version_range", Type: "TEXT"},
	{Name: "state", Type: "TEXT"},
	{Name: "published", Type: "TIMESTAMP"},
	{Name: "score", Type: "REAL"},
	{Name: "severity", Type: "TEXT"},
}

var vendorSchema = store.Schema{
	{Name: "vendor", Type: "TEXT"},
	{Name: "cve_count", Type: "INTEGER"},
	{Name: "avg_score", Type: "REAL"},
	{Name: "p95_score", Type: "REAL"},
	{Name: "critical_count", Type: "INTEGER"},
}

var monthlySchema = store.Schema{
	{Name: "month", Type: "TEXT"},
	{Name: "cve_count", Type: "INTEGER"},
	{Name: "avg_score", Type: "REAL"},
}

func coreToRow(c types.CoreRecord) store.Row {
	return store.Row{
		"id":          c.ID,
		"state":       string(c.State),
		"published":   timeValue(c.Published),
		"modified":    timeValue(c.Modified),
		"description": stringValue(c.Description),
		"score":       floatValue(c.Score),
		"severity":    severityValue(c.Severity),
	}
}

func coreFromRow(row store.Row) (types.CoreRecord, error) {
	id, ok := row["id"].(string)
	if !ok || id == "" {
		return types.CoreRecord{}, xerrors.New("core row without id")
	}

	core := types.CoreRecord{
		ID:          id,
		State:       types.ParseSourceState(asString(row["state"])),
		Published:   asTimePtr(row["published"]),
		Modified:    asTimePtr(row["modified"]),
		Description: asStringPtr(row["description"]),
		Score:       asFloatPtr(row["score"]),
	}
	if label, ok := types.ParseSeverityLabel(asString(row["severity"])); ok {
		core.Severity = &label
	}
	return core, nil
}

func productToRow(p types.AffectedProduct) store.Row {
	return store.Row{
		"id":            p.ID,
		"vendor":        p.Vendor,
		"product":       p.Product,
		"version_range": p.VersionRange,
	}
}

func productFromRow(row store.Row) (types.AffectedProduct, error) {
	id, ok := row["id"].(string)
	if !ok || id == "" {
		return types.AffectedProduct{}, xerrors.New("affected product row without id")
	}
	return types.AffectedProduct{
		ID:           id,
		Vendor:       asString(row["vendor"]),
		Product:      asString(row["product"]),
		VersionRange: asString(row["version_range"]),
	}, nil
}

func rawFromRow(row store.Row) (types.RawRecord, error) {
	payload := asString(row["payload"])
	if payload == "" {
		return types.RawRecord{}, xerrors.New("raw row without payload")
	}
	rec := types.RawRecord{
		SourceID:   asString(row["source_id"]),
		SourcePath: asString(row["source_path"]),
		Payload:    []byte(payload),
	}
	if t := asTimePtr(row["ingested_at"]); t != nil {
		rec.IngestedAt = *t
	}
	return rec, nil
}

func vulnToRow(v types.VulnerabilityRow) store.Row {
	return store.Row{
		"id":            v.ID,
		"vendor":        v.Vendor,
		"product":       v.Product,
		"version_range": v.VersionRange,
		"state":         string(v.State),
		"published":     timeValue(v.Published),
		"score":         floatValue(v.Score),
		"severity":      severityValue(v.Severity),
	}
}

func vendorToRow(v types.VendorProfile) store.Row {
	return store.Row{
		"vendor":         v.Vendor,
		"cve_count":      v.CVECount,
		"avg_score":      floatValue(v.AvgScore),
		"p95_score":      floatValue(v.P95Score),
		"critical_count": v.CriticalCount,
	}
}

func monthlyToRow(m types.MonthlySummary) store.Row {
	return store.Row{
		"month":     m.Month,
		"cve_count": m.CVECount,
		"avg_score": floatValue(m.AvgScore),
	}
}

// Nullable helpers. Row values cross store implementations, so reads
// tolerate both native Go values (memory store) and their serialized
// forms (SQLite: timestamps as RFC3339 strings, ints as int64).

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringValue(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func floatValue(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func severityValue(s *types.SeverityLabel) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStringPtr(v interface{}) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func asFloatPtr(v interface{}) *float64 {
	switch f := v.(type) {
	case float64:
		return &f
	case int64:
		converted := float64(f)
		return &converted
	case int:
		converted := float64(f)
		return &converted
	}
	return nil
}

func asTimePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		u := t.UTC()
		return &u
	case string:
		if t == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		u := parsed.UTC()
		return &u
	}
	return nil
}
