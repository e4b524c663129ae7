// Package gold derives analytic views from the normalized Silver tables.
// Every view is a pure function of its inputs and is rebuilt wholesale on
// each pipeline run.
package gold

import (
	"math"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/cvelake/cvelake/types"
)

// DefaultCriticalThreshold is the conventional CVSS score at or above
// which a record counts as critical. Policy, not invariant.
const DefaultCriticalThreshold = 9.0

type option func(*Aggregator)

// WithCriticalThreshold overrides the critical-score cutoff.
func WithCriticalThreshold(threshold float64) option {
	return func(a *Aggregator) { a.criticalThreshold = threshold }
}

type Aggregator struct {
	criticalThreshold float64
}

func NewAggregator(opts ...option) Aggregator {
	a := Aggregator{
		criticalThreshold: DefaultCriticalThreshold,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// VulnerabilityView joins each affected product with its core record.
// Projection only, no further logic.
func (a Aggregator) VulnerabilityView(cores []types.CoreRecord, products []types.AffectedProduct) []types.VulnerabilityRow {
	coreByID := lo.KeyBy(cores, func(c types.CoreRecord) string { return c.ID })

	rows := make([]types.VulnerabilityRow, 0, len(products))
	for _, p := range products {
		core, ok := coreByID[p.ID]
		if !ok {
			continue
		}
		rows = append(rows, types.VulnerabilityRow{
			ID:           p.ID,
			Vendor:       p.Vendor,
			Product:      p.Product,
			VersionRange: p.VersionRange,
			State:        core.State,
			Published:    core.Published,
			Score:        core.Score,
			Severity:     core.Severity,
		})
	}
	return rows
}

// VendorProfiles groups affected products by vendor and aggregates the
// scores of the distinct CVEs behind them. Vendors whose records carry no
// scores still appear, with nil aggregates.
func (a Aggregator) VendorProfiles(cores []types.CoreRecord, products []types.AffectedProduct) []types.VendorProfile {
	coreByID := lo.KeyBy(cores, func(c types.CoreRecord) string { return c.ID })
	byVendor := lo.GroupBy(products, func(p types.AffectedProduct) string { return p.Vendor })

	profiles := make([]types.VendorProfile, 0, len(byVendor))
	for vendor, vendorProducts := range byVendor {
		ids := lo.Uniq(lo.Map(vendorProducts, func(p types.AffectedProduct, _ int) string { return p.ID }))

		var scores []float64
		critical := 0
		for _, id := range ids {
			core, ok := coreByID[id]
			if !ok || core.Score == nil {
				continue
			}
			scores = append(scores, *core.Score)
			if *core.Score >= a.criticalThreshold {
				critical++
			}
		}

		profile := types.VendorProfile{
			Vendor:        vendor,
			CVECount:      len(ids),
			CriticalCount: critical,
		}
		if len(scores) > 0 {
			avg := mean(scores)
			p95 := percentile(scores, 0.95)
			profile.AvgScore = &avg
			profile.P95Score = &p95
		}
		profiles = append(profiles, profile)
	}

	slices.SortFunc(profiles, func(a, b types.VendorProfile) int {
		if a.Vendor < b.Vendor {
			return -1
		}
		if a.Vendor > b.Vendor {
			return 1
		}
		return 0
	})
	return profiles
}

// MonthlySummaries groups core records by truncated publication month.
// Records without a publication date are excluded from the view and
// returned as the undated count for completeness auditing.
func (a Aggregator) MonthlySummaries(cores []types.CoreRecord) ([]types.MonthlySummary, int) {
	undated := 0
	byMonth := map[string][]types.CoreRecord{}
	for _, core := range cores {
		if core.Published == nil {
			undated++
			continue
		}
		month := core.Published.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], core)
	}

	summaries := make([]types.MonthlySummary, 0, len(byMonth))
	for month, records := range byMonth {
		summary := types.MonthlySummary{
			Month:    month,
			CVECount: len(records),
		}
		var scores []float64
		for _, core := range records {
			if core.Score != nil {
				scores = append(scores, *core.Score)
			}
		}
		if len(scores) > 0 {
			avg := mean(scores)
			summary.AvgScore = &avg
		}
		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b types.MonthlySummary) int {
		if a.Month < b.Month {
			return -1
		}
		if a.Month > b.Month {
			return 1
		}
		return 0
	})
	return summaries, undated
}

func mean(values []float64) float64 {
	return lo.Sum(values) / float64(len(values))
}

// percentile returns the nearest-rank percentile of values.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
