// Package silver turns raw CVE JSON documents into the flat relational
// model: one core row per record plus exploded affected-product rows.
package silver

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/cvelake/cvelake/types"
)

// ErrMissingIdentifier is returned when a document carries no CVE
// identifier. This is the only per-record rejection; every other anomaly
// degrades to a null or default plus a warning.
var ErrMissingIdentifier = xerrors.New("missing identifier")

// UnknownToken is recorded for absent vendor or product names. It is part
// of the affected-product natural key and must never be empty.
const UnknownToken = "unknown"

// DefaultMetricPreference orders CVSS standard versions newest first.
// When a document carries several scoring entries, the first version in
// this list that appears anywhere in the document wins.
var DefaultMetricPreference = []string{"cvssV4_0", "cvssV3_1", "cvssV3_0", "cvssV2_0"}

type options struct {
	metricPreference []string
}

type option func(*options)

// WithMetricPreference overrides the scoring-standard precedence order.
func WithMetricPreference(prefs []string) option {
	return func(opts *options) {
		opts.metricPreference = prefs
	}
}

// Normalizer maps one raw record to one core row plus zero or more
// affected-product rows. It holds no mutable state, so a single value is
// safe to share across workers.
type Normalizer struct {
	*options
}

func NewNormalizer(opts ...option) Normalizer {
	o := &options{
		metricPreference: DefaultMetricPreference,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Normalizer{options: o}
}

// Normalize transforms a single raw record. On rejection the returned
// core row is nil and the error states why; warnings for degraded fields
// are reported through Stats either way.
func (n Normalizer) Normalize(rec types.RawRecord) (*types.CoreRecord, []types.AffectedProduct, Stats, error) {
	var stats Stats

	var tree map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &tree); err != nil {
		stats.Rejected++
		return nil, nil, stats, xerrors.Errorf("unable to decode payload of %s: %w", rec.SourceID, err)
	}

	id, _ := lookupString(tree, "cveMetadata", "cveId")
	if id == "" {
		stats.Rejected++
		return nil, nil, stats, xerrors.Errorf("record from %s: %w", rec.SourcePath, ErrMissingIdentifier)
	}

	core := types.CoreRecord{
		ID: id,
	}

	state, _ := lookupString(tree, "cveMetadata", "state")
	core.State = types.ParseSourceState(state)

	core.Published = n.parseDate(tree, &stats, "cveMetadata", "datePublished")
	core.Modified = n.parseDate(tree, &stats, "cveMetadata", "dateUpdated")
	core.Description = description(tree)

	score, label, found := n.selectMetric(tree)
	if found {
		if score < 0.0 || score > 10.0 {
			stats.ScoreWarnings++
			core.Score = nil
		} else {
			core.Score = &score
			if label == nil {
				derived := types.SeverityFromScore(score)
				label = &derived
			}
		}
		core.Severity = label
	}

	products := n.explodeProducts(tree, id, &stats)

	stats.Normalized++
	return &core, products, stats, nil
}

func (n Normalizer) parseDate(tree map[string]interface{}, stats *Stats, path ...string) *time.Time {
	raw, ok := lookupString(tree, path...)
	if !ok || raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		// malformed dates degrade to null
		stats.DateWarnings++
		return nil
	}
	t = t.UTC()
	return &t
}

// selectMetric picks one scoring entry out of the document's metrics
// list. Entries are keyed by CVSS standard version; the highest-preference
// version present wins, and among entries sharing it the first encountered
// is taken.
func (n Normalizer) selectMetric(tree map[string]interface{}) (float64, *types.SeverityLabel, bool) {
	metrics, ok := lookupSlice(tree, "containers", "cna", "metrics")
	if !ok {
		return 0, nil, false
	}

	for _, version := range n.metricPreference {
		for _, entry := range metrics {
			m, ok := asMap(entry)
			if !ok {
				continue
			}
			cvss, ok := asMap(m[version])
			if !ok {
				continue
			}
			score, ok := cvss["baseScore"].(float64)
			if !ok {
				continue
			}

			var label *types.SeverityLabel
			if raw, ok := cvss["baseSeverity"].(string); ok {
				if parsed, valid := types.ParseSeverityLabel(raw); valid {
					label = &parsed
				}
			}
			return score, label, true
		}
	}
	return 0, nil, false
}

func description(tree map[string]interface{}) *string {
	descs, ok := lookupSlice(tree, "containers", "cna", "descriptions")
	if !ok || len(descs) == 0 {
		return nil
	}

	var fallback *string
	for _, entry := range descs {
		m, ok := asMap(entry)
		if !ok {
			continue
		}
		value, ok := m["value"].(string)
		if !ok || value == "" {
			continue
		}
		if lang, _ := m["lang"].(string); lang == "en" {
			return &value
		}
		if fallback == nil {
			fallback = &value
		}
	}
	return fallback
}

// explodeProducts walks the affected list and emits one row per declared
// version range, collapsing duplicate natural keys.
func (n Normalizer) explodeProducts(tree map[string]interface{}, id string, stats *Stats) []types.AffectedProduct {
	affected, ok := lookupSlice(tree, "containers", "cna", "affected")
	if !ok {
		return nil
	}

	var products []types.AffectedProduct
	for _, entry := range affected {
		m, ok := asMap(entry)
		if !ok {
			continue
		}

		vendor, _ := m["vendor"].(string)
		product, _ := m["product"].(string)
		if vendor == "" {
			vendor = UnknownToken
			stats.ProductWarnings++
		}
		if product == "" {
			product = UnknownToken
			stats.ProductWarnings++
		}

		for _, vr := range versionRanges(m) {
			products = append(products, types.AffectedProduct{
				ID:           id,
				Vendor:       vendor,
				Product:      product,
				VersionRange: vr,
			})
		}
	}

	return lo.UniqBy(products, types.AffectedProduct.Key)
}

// versionRanges renders the versions list of one affected entity. An
// entity declaring no version information is still vulnerable somewhere,
// so it gets a single wildcard range.
func versionRanges(entity map[string]interface{}) []string {
	versions, ok := entity["versions"].([]interface{})
	if !ok || len(versions) == 0 {
		return []string{"*"}
	}

	var ranges []string
	for _, entry := range versions {
		m, ok := asMap(entry)
		if !ok {
			continue
		}
		if status, _ := m["status"].(string); status == "unaffected" {
			continue
		}

		version, _ := m["version"].(string)
		lessThan, _ := m["lessThan"].(string)
		lessThanOrEqual, _ := m["lessThanOrEqual"].(string)

		switch {
		case lessThan != "" && version != "" && version != "0":
			ranges = append(ranges, fmt.Sprintf(">=%s, <%s", version, lessThan))
		case lessThan != "":
			ranges = append(ranges, fmt.Sprintf("<%s", lessThan))
		case lessThanOrEqual != "" && version != "" && version != "0":
			ranges = append(ranges, fmt.Sprintf(">=%s, <=%s", version, lessThanOrEqual))
		case lessThanOrEqual != "":
			ranges = append(ranges, fmt.Sprintf("<=%s", lessThanOrEqual))
		case version != "":
			ranges = append(ranges, version)
		}
	}
	if len(ranges) == 0 {
		return []string{"*"}
	}
	return ranges
}

type batchResult struct {
	core     *types.CoreRecord
	products []types.AffectedProduct
	stats    Stats
	err      error
}

// NormalizeAll runs Normalize over a batch on a pool of workers. Records
// are independent, so partitioning is arbitrary; per-worker Stats are
// merged afterwards. Output is sorted by identifier so repeated runs on
// identical input produce identical tables.
func (n Normalizer) NormalizeAll(records []types.RawRecord, workers int) ([]types.CoreRecord, []types.AffectedProduct, Stats) {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan types.RawRecord)
	results := make(chan batchResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				core, products, stats, err := n.Normalize(rec)
				results <- batchResult{core: core, products: products, stats: stats, err: err}
			}
		}()
	}

	go func() {
		for _, rec := range records {
			jobs <- rec
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var (
		cores    []types.CoreRecord
		products []types.AffectedProduct
		stats    Stats
	)
	for res := range results {
		stats = stats.Merge(res.stats)
		if res.err != nil {
			log.Printf("record rejected: %v", res.err)
			continue
		}
		cores = append(cores, *res.core)
		products = append(products, res.products...)
	}

	sort.Slice(cores, func(i, j int) bool { return cores[i].ID < cores[j].ID })
	sort.Slice(products, func(i, j int) bool { return products[i].Key() < products[j].Key() })
	return cores, products, stats
}
