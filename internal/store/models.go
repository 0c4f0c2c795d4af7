package store

import "time"

// Project identifies one advertising account being synchronized. Created by
// account setup; the backfill engine only reads it and updates its sync
// progress fields.
type Project struct {
	ID          string
	AdAccountID string
	Name        string
	Timezone    string
	Archived    bool
	Progress    *SyncProgress
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncProgress is the status snapshot attached to a project, overwritten in
// place after every batch. At most one active snapshot per project.
type SyncProgress struct {
	Status    string
	Percent   int
	Message   string
	StartedAt time.Time
}

// Sync progress status tags
const (
	ProgressStatusSyncing = "syncing"
	ProgressStatusDone    = "done"
	ProgressStatusError   = "error"
)

// DailyMetric is one day of aggregated ad performance for a project and
// breakdown dimension. Uniquely keyed by (project, date, dimension);
// re-imports upsert rather than duplicate.
type DailyMetric struct {
	ProjectID   string
	Date        time.Time
	Dimension   string
	Impressions int64
	Clicks      int64
	SpendCents  int64
	Conversions int64
}

// DimensionTotal is the base (non-broken-down) dimension key. Presence of a
// date in the series is judged against this dimension only.
const DimensionTotal = "total"

// Month import statuses for the chained continuation flow.
const (
	MonthStatusPending   = "pending"
	MonthStatusImporting = "importing"
	MonthStatusSuccess   = "success"
	MonthStatusError     = "error"
)

// MonthImportRecord is one calendar month's backfill unit. The row doubles as
// the chain's durable cursor: it is created when a chain is planned, mutated
// by each link, and never deleted.
type MonthImportRecord struct {
	ID            int64
	ProjectID     string
	Year          int
	Month         int
	Status        string
	Records       int
	RetryCount    int
	Error         *string
	ContinueChain bool
	SafeMode      bool
	NotBefore     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// RunLogEntry is an immutable audit record of one run's outcome. Message
// holds the JSON-encoded typed payload for the run kind.
type RunLogEntry struct {
	ID        int64
	ProjectID string
	RunType   string
	Status    string
	Message   string
	CreatedAt time.Time
}

// Run types recorded in the run log.
const (
	RunTypeBackfill  = "backfill"
	RunTypeMonthUnit = "month_unit"
	RunTypeGapScan   = "gap_scan"
)

// Run statuses
const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusError   = "error"
)
