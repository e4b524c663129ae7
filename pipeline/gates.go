package pipeline

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/cvelake/cvelake/types"
)

// GateError reports which quality check failed and the value it measured.
// A failed gate halts the pipeline; it never attempts repair.
type GateError struct {
	Check    string
	Measured string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("quality gate %q failed: measured %s", e.Check, e.Measured)
}

func checkMinRecordCount(loaded, min int) *GateError {
	if loaded < min {
		return &GateError{
			Check:    "min_record_count",
			Measured: fmt.Sprintf("%d records (floor %d)", loaded, min),
		}
	}
	return nil
}

func checkRejectFraction(rejected, total int, max float64) *GateError {
	if total == 0 {
		return nil
	}
	fraction := float64(rejected) / float64(total)
	if fraction > max {
		return &GateError{
			Check:    "max_reject_fraction",
			Measured: fmt.Sprintf("%.3f rejected (limit %.3f)", fraction, max),
		}
	}
	return nil
}

func checkUniqueIdentifiers(cores []types.CoreRecord) *GateError {
	seen := map[string]struct{}{}
	duplicates := lo.FilterMap(cores, func(c types.CoreRecord, _ int) (string, bool) {
		if _, ok := seen[c.ID]; ok {
			return c.ID, true
		}
		seen[c.ID] = struct{}{}
		return "", false
	})
	if len(duplicates) > 0 {
		return &GateError{
			Check:    "unique_identifiers",
			Measured: fmt.Sprintf("%d duplicate identifiers (e.g. %s)", len(duplicates), duplicates[0]),
		}
	}
	return nil
}

func checkScoreRange(cores []types.CoreRecord, min, max float64) *GateError {
	for _, core := range cores {
		if core.Score == nil {
			continue
		}
		if *core.Score < min || *core.Score > max {
			return &GateError{
				Check:    "score_range",
				Measured: fmt.Sprintf("%s has score %.1f outside [%.1f, %.1f]", core.ID, *core.Score, min, max),
			}
		}
	}
	return nil
}
