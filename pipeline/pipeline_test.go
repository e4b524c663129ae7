package pipeline_test

import (
	"fmt"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvelake/cvelake/pipeline"
	"github.com/cvelake/cvelake/store"
)

func testFs() afero.Fs {
	roBase := afero.NewReadOnlyFs(afero.NewOsFs())
	return afero.NewCopyOnWriteFs(roBase, afero.NewMemMapFs())
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	// the fixture set deliberately contains one rejectable document
	cfg.Gates.MaxRejectFraction = 0.5
	return cfg
}

func runPipeline(t *testing.T, s store.Store, cfg pipeline.Config) *pipeline.Report {
	t.Helper()
	p := pipeline.New(s, cfg, pipeline.WithAppFs(testFs()), pipeline.WithProgress(false))
	report, err := p.Run("testdata/cves", 2024)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateDone, p.State())
	return report
}

func TestPipeline_Run(t *testing.T) {
	s := store.NewMemory()
	report := runPipeline(t, s, testConfig())

	assert.Equal(t, pipeline.StateDone, report.State)
	assert.Equal(t, 5, report.Loaded)
	assert.Equal(t, 1, report.ParseFailures)
	assert.Equal(t, 4, report.Normalized)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.ScoreWarnings)
	assert.Equal(t, 0, report.DateWarnings)
	assert.Equal(t, 1, report.Undated)

	cores, err := s.Read(pipeline.CoreTable)
	require.NoError(t, err)
	require.Len(t, cores, 4)
	assert.Equal(t, "CVE-2024-0001", cores[0]["id"])
	assert.Equal(t, 9.8, cores[0]["score"])
	assert.Equal(t, "CRITICAL", cores[0]["severity"])
	assert.Equal(t, "UNKNOWN", cores[2]["state"])
	// the out-of-range score was nulled, not rejected
	assert.Equal(t, "CVE-2024-0004", cores[3]["id"])
	assert.Nil(t, cores[3]["score"])

	products, err := s.Read(pipeline.ProductTable)
	require.NoError(t, err)
	require.Len(t, products, 4)

	// referential completeness: every product row points at a core row
	ids := map[interface{}]struct{}{}
	for _, row := range cores {
		ids[row["id"]] = struct{}{}
	}
	for _, row := range products {
		_, ok := ids[row["id"]]
		assert.True(t, ok, "product row references unknown id %v", row["id"])
	}
}

func TestPipeline_Run_goldViews(t *testing.T) {
	s := store.NewMemory()
	runPipeline(t, s, testConfig())

	vulns, err := s.Read(pipeline.VulnTable)
	require.NoError(t, err)
	assert.Len(t, vulns, 4)

	vendors, err := s.Read(pipeline.VendorTable)
	require.NoError(t, err)
	require.Len(t, vendors, 2)

	acme := vendors[0]
	assert.Equal(t, "acme", acme["vendor"])
	assert.Equal(t, 2, acme["cve_count"])
	assert.InDelta(t, 7.4, acme["avg_score"].(float64), 0.001)
	assert.Equal(t, 1, acme["critical_count"])

	globex := vendors[1]
	assert.Equal(t, "globex", globex["vendor"])
	assert.Equal(t, 1, globex["cve_count"])
	assert.Nil(t, globex["avg_score"])
	assert.Equal(t, 0, globex["critical_count"])

	months, err := s.Read(pipeline.MonthlyTable)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2024-01", months[0]["month"])
	assert.Equal(t, 2, months[0]["cve_count"])
	assert.InDelta(t, 7.4, months[0]["avg_score"].(float64), 0.001)
	assert.Equal(t, "2024-02", months[1]["month"])
	assert.Nil(t, months[1]["avg_score"])
}

func TestPipeline_Run_idempotent(t *testing.T) {
	s := store.NewMemory()

	runPipeline(t, s, testConfig())
	firstCores, err := s.Read(pipeline.CoreTable)
	require.NoError(t, err)
	firstProducts, err := s.Read(pipeline.ProductTable)
	require.NoError(t, err)

	runPipeline(t, s, testConfig())
	secondCores, err := s.Read(pipeline.CoreTable)
	require.NoError(t, err)
	secondProducts, err := s.Read(pipeline.ProductTable)
	require.NoError(t, err)

	if diff := pretty.Compare(firstCores, secondCores); diff != "" {
		t.Errorf("core table changed across reruns:\n%s", diff)
	}
	if diff := pretty.Compare(firstProducts, secondProducts); diff != "" {
		t.Errorf("affected products table changed across reruns:\n%s", diff)
	}
}

func TestPipeline_Run_gateFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*pipeline.Config)
		year      int
		wantCheck string
	}{
		{
			name:      "record count below floor",
			mutate:    func(cfg *pipeline.Config) { cfg.Gates.MinRecordCount = 100 },
			year:      2024,
			wantCheck: "min_record_count",
		},
		{
			name:      "no documents for the year",
			mutate:    func(cfg *pipeline.Config) {},
			year:      1999,
			wantCheck: "min_record_count",
		},
		{
			name:      "reject fraction above limit",
			mutate:    func(cfg *pipeline.Config) { cfg.Gates.MaxRejectFraction = 0.0 },
			year:      2024,
			wantCheck: "max_reject_fraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			p := pipeline.New(store.NewMemory(), cfg, pipeline.WithAppFs(testFs()), pipeline.WithProgress(false))
			report, err := p.Run("testdata/cves", tt.year)

			require.Error(t, err)
			var gateErr *pipeline.GateError
			require.ErrorAs(t, err, &gateErr)
			assert.Equal(t, tt.wantCheck, gateErr.Check)

			assert.Equal(t, pipeline.StateFailed, p.State())
			require.NotNil(t, report)
			assert.Equal(t, pipeline.StateFailed, report.State)
			assert.Equal(t, tt.wantCheck, report.FailedCheck)
			assert.NotEmpty(t, report.Measured)
		})
	}
}

func TestPipeline_ExportReport(t *testing.T) {
	appFs := afero.NewMemMapFs()
	p := pipeline.New(store.NewMemory(), testConfig(), pipeline.WithAppFs(appFs), pipeline.WithProgress(false))

	report := &pipeline.Report{State: pipeline.StateDone, Loaded: 5}
	require.NoError(t, p.ExportReport(report, "out/report.json"))

	b, err := afero.ReadFile(appFs, "out/report.json")
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state": "DONE"`)
	assert.Contains(t, string(b), fmt.Sprintf(`"loaded": %d`, 5))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := pipeline.LoadConfig(afero.NewOsFs(), "testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Gates.MinRecordCount)
	assert.Equal(t, 0.5, cfg.Gates.MaxRejectFraction)
	assert.True(t, cfg.Gates.RequireUniqueIDs)
	assert.Equal(t, 8.5, cfg.CriticalThreshold)
	assert.Equal(t, 2, cfg.Workers)
	// unset keys keep their defaults
	assert.Equal(t, 10.0, cfg.Gates.MaxScore)
	assert.Equal(t, pipeline.DefaultConfig().MetricPreference, cfg.MetricPreference)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := pipeline.LoadConfig(afero.NewMemMapFs(), "nope.yaml")
	assert.Error(t, err)
}
