package pipeline

import (
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/cvelake/cvelake/gold"
	"github.com/cvelake/cvelake/silver"
)

// GateConfig holds the quality-gate thresholds. Each check is
// independently configurable:
//
//   - min_record_count: ingestion must produce at least this many records
//   - max_reject_fraction: normalization may reject at most this share
//   - min_score / max_score: every non-null core score must fall in range
//   - require_unique_ids: duplicate core identifiers fail the run
type GateConfig struct {
	MinRecordCount    int     `yaml:"min_record_count"`
	MaxRejectFraction float64 `yaml:"max_reject_fraction"`
	MinScore          float64 `yaml:"min_score"`
	MaxScore          float64 `yaml:"max_score"`
	RequireUniqueIDs  bool    `yaml:"require_unique_ids"`
}

// Config is the operator-facing pipeline configuration.
type Config struct {
	Gates             GateConfig `yaml:"gates"`
	MetricPreference  []string   `yaml:"metric_preference"`
	CriticalThreshold float64    `yaml:"critical_threshold"`
	Workers           int        `yaml:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Gates: GateConfig{
			MinRecordCount:    1,
			MaxRejectFraction: 0.1,
			MinScore:          0.0,
			MaxScore:          10.0,
			RequireUniqueIDs:  true,
		},
		MetricPreference:  silver.DefaultMetricPreference,
		CriticalThreshold: gold.DefaultCriticalThreshold,
		Workers:           4,
	}
}

// LoadConfig reads a YAML config file, overlaying it on the defaults.
func LoadConfig(appFs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := afero.ReadFile(appFs, path)
	if err != nil {
		return cfg, xerrors.Errorf("unable to read config %s: %w", path, err)
	}
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, xerrors.Errorf("unable to decode config %s: %w", path, err)
	}
	return cfg, nil
}
