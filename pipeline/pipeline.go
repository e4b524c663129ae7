// Package pipeline sequences the Bronze, Silver and Gold stages. Each
// stage runs only after its predecessor's output passes a quality gate,
// and a full rerun replaces Silver and Gold state wholesale, so repeating
// a run on identical input is always safe.
package pipeline

import (
	"log"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/cvelake/cvelake/bronze"
	"github.com/cvelake/cvelake/gold"
	"github.com/cvelake/cvelake/silver"
	"github.com/cvelake/cvelake/store"
	"github.com/cvelake/cvelake/types"
	"github.com/cvelake/cvelake/utils"
)

// State is the orchestrator's position in the run.
type State string

const (
	StateIngesting   State = "INGESTING"
	StateNormalizing State = "NORMALIZING"
	StateAggregating State = "AGGREGATING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Report summarizes one run: the terminal state plus every error-taxonomy
// counter, so operators can judge batch health without reading records.
type Report struct {
	State           State  `json:"state"`
	Loaded          int    `json:"loaded"`
	ParseFailures   int    `json:"parse_failures"`
	Normalized      int    `json:"normalized"`
	Rejected        int    `json:"rejected"`
	ScoreWarnings   int    `json:"score_warnings"`
	DateWarnings    int    `json:"date_warnings"`
	ProductWarnings int    `json:"product_warnings"`
	Undated         int    `json:"undated"`
	FailedCheck     string `json:"failed_check,omitempty"`
	Measured        string `json:"measured,omitempty"`
}

type option func(*Pipeline)

func WithAppFs(fs afero.Fs) option {
	return func(p *Pipeline) { p.appFs = fs }
}

// WithProgress toggles the ingestion progress bar.
func WithProgress(show bool) option {
	return func(p *Pipeline) { p.progress = show }
}

// Pipeline owns one run at a time. It is not safe for concurrent use.
type Pipeline struct {
	store    store.Store
	appFs    afero.Fs
	cfg      Config
	progress bool
	state    State
}

func New(s store.Store, cfg Config, opts ...option) *Pipeline {
	p := &Pipeline{
		store:    s,
		appFs:    afero.NewOsFs(),
		cfg:      cfg,
		progress: true,
		state:    StateIngesting,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() State {
	return p.state
}

// Run executes the full Bronze → Silver → Gold pass over the documents
// under root, filtered by year (0 means all). The report is returned even
// when the run fails, carrying the failed check and its measured value.
func (p *Pipeline) Run(root string, year int) (*Report, error) {
	report := &Report{}

	if err := p.ingest(report, root, year); err != nil {
		return p.fail(report, err)
	}

	if err := p.normalize(report); err != nil {
		return p.fail(report, err)
	}

	if err := p.aggregate(report); err != nil {
		return p.fail(report, err)
	}

	p.state = StateDone
	report.State = StateDone
	log.Printf("pipeline done: %d loaded, %d normalized, %d rejected, %d warnings",
		report.Loaded, report.Normalized, report.Rejected,
		report.ScoreWarnings+report.DateWarnings+report.ProductWarnings)
	return report, nil
}

func (p *Pipeline) ingest(report *Report, root string, year int) error {
	p.state = StateIngesting
	log.Println("stage: ingesting")

	loader := bronze.NewLoader(p.store, bronze.WithAppFs(p.appFs), bronze.WithProgress(p.progress))
	loaded, failed, err := loader.Load(root, year)
	if err != nil {
		return xerrors.Errorf("ingestion failed: %w", err)
	}
	report.Loaded = loaded
	report.ParseFailures = failed

	if gateErr := checkMinRecordCount(loaded, p.cfg.Gates.MinRecordCount); gateErr != nil {
		return gateErr
	}
	return nil
}

func (p *Pipeline) normalize(report *Report) error {
	p.state = StateNormalizing
	log.Println("stage: normalizing")

	rawRows, err := p.store.Read(bronze.RawTable)
	if err != nil {
		return xerrors.Errorf("unable to read raw table: %w", err)
	}

	records := make([]types.RawRecord, 0, len(rawRows))
	for _, row := range rawRows {
		rec, err := rawFromRow(row)
		if err != nil {
			return xerrors.Errorf("corrupt raw row: %w", err)
		}
		records = append(records, rec)
	}
	records = latestBySourceID(records)

	normalizer := silver.NewNormalizer(silver.WithMetricPreference(p.cfg.MetricPreference))
	cores, products, stats := normalizer.NormalizeAll(records, p.cfg.Workers)

	report.Normalized = stats.Normalized
	report.Rejected = stats.Rejected
	report.ScoreWarnings = stats.ScoreWarnings
	report.DateWarnings = stats.DateWarnings
	report.ProductWarnings = stats.ProductWarnings

	gates := p.cfg.Gates
	if gateErr := checkRejectFraction(stats.Rejected, stats.Normalized+stats.Rejected, gates.MaxRejectFraction); gateErr != nil {
		return gateErr
	}
	if gates.RequireUniqueIDs {
		if gateErr := checkUniqueIdentifiers(cores); gateErr != nil {
			return gateErr
		}
	}
	if gateErr := checkScoreRange(cores, gates.MinScore, gates.MaxScore); gateErr != nil {
		return gateErr
	}

	return p.writeSilver(cores, products)
}

// writeSilver replaces both Silver tables, enforcing referential
// integrity at write time: every product row must reference an emitted
// core row.
func (p *Pipeline) writeSilver(cores []types.CoreRecord, products []types.AffectedProduct) error {
	ids := make(map[string]struct{}, len(cores))
	coreRows := make([]store.Row, 0, len(cores))
	for _, core := range cores {
		ids[core.ID] = struct{}{}
		coreRows = append(coreRows, coreToRow(core))
	}

	productRows := make([]store.Row, 0, len(products))
	for _, product := range products {
		if _, ok := ids[product.ID]; !ok {
			return xerrors.Errorf("affected product references unknown identifier %s", product.ID)
		}
		productRows = append(productRows, productToRow(product))
	}

	if err := p.store.Overwrite(CoreTable, coreSchema, coreRows); err != nil {
		return xerrors.Errorf("unable to write core table: %w", err)
	}
	if err := p.store.Overwrite(ProductTable, productSchema, productRows); err != nil {
		return xerrors.Errorf("unable to write affected products table: %w", err)
	}
	return nil
}

func (p *Pipeline) aggregate(report *Report) error {
	p.state = StateAggregating
	log.Println("stage: aggregating")

	// Gold reads back the Silver tables rather than reusing in-memory
	// slices, so the views are derived from exactly what was stored.
	cores, products, err := p.readSilver()
	if err != nil {
		return err
	}

	aggregator := gold.NewAggregator(gold.WithCriticalThreshold(p.cfg.CriticalThreshold))

	vulnRows := aggregator.VulnerabilityView(cores, products)
	rows := make([]store.Row, 0, len(vulnRows))
	for _, v := range vulnRows {
		rows = append(rows, vulnToRow(v))
	}
	if err := p.store.Overwrite(VulnTable, vulnSchema, rows); err != nil {
		return xerrors.Errorf("unable to write vulnerability view: %w", err)
	}

	profiles := aggregator.VendorProfiles(cores, products)
	rows = make([]store.Row, 0, len(profiles))
	for _, v := range profiles {
		rows = append(rows, vendorToRow(v))
	}
	if err := p.store.Overwrite(VendorTable, vendorSchema, rows); err != nil {
		return xerrors.Errorf("unable to write vendor risk view: %w", err)
	}

	summaries, undated := aggregator.MonthlySummaries(cores)
	report.Undated = undated
	rows = make([]store.Row, 0, len(summaries))
	for _, m := range summaries {
		rows = append(rows, monthlyToRow(m))
	}
	if err := p.store.Overwrite(MonthlyTable, monthlySchema, rows); err != nil {
		return xerrors.Errorf("unable to write monthly summary view: %w", err)
	}
	return nil
}

func (p *Pipeline) readSilver() ([]types.CoreRecord, []types.AffectedProduct, error) {
	coreRows, err := p.store.Read(CoreTable)
	if err != nil {
		return nil, nil, xerrors.Errorf("unable to read core table: %w", err)
	}
	cores := make([]types.CoreRecord, 0, len(coreRows))
	for _, row := range coreRows {
		core, err := coreFromRow(row)
		if err != nil {
			return nil, nil, xerrors.Errorf("corrupt core row: %w", err)
		}
		cores = append(cores, core)
	}

	productRows, err := p.store.Read(ProductTable)
	if err != nil {
		return nil, nil, xerrors.Errorf("unable to read affected products table: %w", err)
	}
	products := make([]types.AffectedProduct, 0, len(productRows))
	for _, row := range productRows {
		product, err := productFromRow(row)
		if err != nil {
			return nil, nil, xerrors.Errorf("corrupt affected product row: %w", err)
		}
		products = append(products, product)
	}
	return cores, products, nil
}

func (p *Pipeline) fail(report *Report, err error) (*Report, error) {
	p.state = StateFailed
	report.State = StateFailed

	var gateErr *GateError
	if xerrors.As(err, &gateErr) {
		report.FailedCheck = gateErr.Check
		report.Measured = gateErr.Measured
	}
	log.Printf("pipeline failed: %v", err)
	return report, err
}

// ExportReport writes the run report as JSON.
func (p *Pipeline) ExportReport(report *Report, path string) error {
	if err := utils.WriteJSON(p.appFs, path, report); err != nil {
		return xerrors.Errorf("unable to export report: %w", err)
	}
	return nil
}

// latestBySourceID collapses re-ingested documents to their most recent
// load. Raw records are append-only; a later batch supersedes earlier
// copies of the same source.
func latestBySourceID(records []types.RawRecord) []types.RawRecord {
	latest := make(map[string]types.RawRecord, len(records))
	var order []string
	for _, rec := range records {
		existing, ok := latest[rec.SourceID]
		if !ok {
			order = append(order, rec.SourceID)
			latest[rec.SourceID] = rec
			continue
		}
		if rec.IngestedAt.After(existing.IngestedAt) {
			latest[rec.SourceID] = rec
		}
	}

	deduped := make([]types.RawRecord, 0, len(latest))
	for _, id := range order {
		deduped = append(deduped, latest[id])
	}
	return deduped
}
