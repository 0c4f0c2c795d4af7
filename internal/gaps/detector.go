package gaps

import (
	"time"

	"github.com/adsight/backfill/internal/window"
)

// DefaultMinLength is the shortest missing-date span treated as a gap.
// One- and two-day holes are tolerated as legitimate no-activity days.
const DefaultMinLength = 3

// Gap is a maximal contiguous span of dates with no persisted daily record.
// Derived, not stored: recomputed from the presence set on every pass.
type Gap struct {
	ProjectID string    `json:"project_id"`
	Start     time.Time `json:"gap_start"`
	End       time.Time `json:"gap_end"`
	Days      int       `json:"days"`
}

// Range returns the gap as a sync window.
func (g Gap) Range() window.Range {
	return window.Range{Since: g.Start, Until: g.End}
}

// Detect walks the range day by day and reports every maximal contiguous
// missing-date span of at least minLength days. The presence set is keyed by
// YYYY-MM-DD. Deterministic and pure given the presence set.
func Detect(projectID string, r window.Range, present map[string]bool, minLength int) []Gap {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	var gaps []Gap
	var open *Gap

	emit := func() {
		if open != nil && open.Days >= minLength {
			gaps = append(gaps, *open)
		}
		open = nil
	}

	for d := r.Since; !d.After(r.Until); d = d.AddDate(0, 0, 1) {
		if present[d.Format(window.DateLayout)] {
			emit()
			continue
		}

		if open == nil {
			open = &Gap{ProjectID: projectID, Start: d}
		}
		open.End = d
		open.Days++
	}
	emit()

	return gaps
}
