package models

import "time"

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// STORE ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// GridRecord is one persisted grid point. Rate and Time are fixed-point
// values scaled by 10,000; Balance and Payment are whole currency units.
type GridRecord struct {
	ID      int64 `json:"id"`
	Balance int64 `json:"balance"`
	Rate    int64 `json:"rate"`
	Payment int64 `json:"payment"`
	Time    int64 `json:"time"`
}

// GridBatch is a run of records with strictly increasing ids, persisted as
// one unit.
type GridBatch struct {
	RunID       string       `json:"run_id"`
	Shard       int          `json:"shard"`
	Records     []GridRecord `json:"records"`
	Computed    int          `json:"computed"`
	Skipped     int          `json:"skipped"`
	RecordCount int          `json:"record_count"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// LOOKUPS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// PaymentTime pairs a monthly payment with its payoff time in years.
type PaymentTime struct {
	Payment int64   `json:"payment"`
	Years   float64 `json:"years"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// SWEEPS ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SweepPhase names a stage of a recompute.
type SweepPhase string

const (
	PhaseIdle      SweepPhase = "idle"
	PhaseClearing  SweepPhase = "clearing"
	PhaseComputing SweepPhase = "computing"
	PhaseExporting SweepPhase = "exporting"
	PhaseDone      SweepPhase = "done"
	PhaseFailed    SweepPhase = "failed"
	PhaseCancelled SweepPhase = "cancelled"
)

// Progress reports how far a recompute has got. Done and Total count grid
// cells during computing.
type Progress struct {
	RunID     string     `json:"run_id"`
	Phase     SweepPhase `json:"phase"`
	Done      int64      `json:"done"`
	Total     int64      `json:"total"`
	Persisted int64      `json:"persisted"`
	Skipped   int64      `json:"skipped"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Percent is the share of cells done, 0 to 100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return 100 * float64(p.Done) / float64(p.Total)
}

// SweepStats summarizes a finished sweep.
type SweepStats struct {
	RunID     string        `json:"run_id"`
	Cells     int64         `json:"cells"`
	Persisted int64         `json:"persisted"`
	Skipped   int64         `json:"skipped"`
	Batches   int64         `json:"batches"`
	Duration  time.Duration `json:"duration"`
}
