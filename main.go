package main

import (
	"flag"
	"log"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/cvelake/cvelake/pipeline"
	"github.com/cvelake/cvelake/store"
	"github.com/cvelake/cvelake/utils"
)

var (
	source     = flag.String("source", "", "root directory of the CVE document tree")
	year       = flag.Int("year", 0, "restrict ingestion to one calendar year (0 = all)")
	dbPath     = flag.String("db", "", "SQLite database path (empty = in-memory store)")
	configPath = flag.String("config", "", "YAML config file with quality-gate thresholds")
	reportPath = flag.String("report", "", "write the run report as JSON to this path")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	if *source == "" {
		return xerrors.New("source directory must be specified")
	}

	appFs := afero.NewOsFs()

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = pipeline.LoadConfig(appFs, *configPath)
		if err != nil {
			return xerrors.Errorf("config error: %w", err)
		}
	}

	var (
		s   store.Store
		err error
	)
	if *dbPath != "" {
		path := *dbPath
		if path == "default" {
			path = utils.DefaultDBPath()
		}
		s, err = store.NewSQLite(path)
		if err != nil {
			return xerrors.Errorf("store error: %w", err)
		}
	} else {
		s = store.NewMemory()
	}
	defer s.Close()

	p := pipeline.New(s, cfg, pipeline.WithAppFs(appFs))
	report, runErr := p.Run(*source, *year)

	if report != nil && *reportPath != "" {
		if err := p.ExportReport(report, *reportPath); err != nil {
			log.Printf("report export failed: %v", err)
		}
	}
	if runErr != nil {
		return xerrors.Errorf("pipeline error: %w", runErr)
	}

	log.Printf("loaded=%d parse_failures=%d normalized=%d rejected=%d warnings=%d undated=%d",
		report.Loaded, report.ParseFailures, report.Normalized, report.Rejected,
		report.ScoreWarnings+report.DateWarnings+report.ProductWarnings, report.Undated)
	return nil
}
