package model

import "time"

// RunStatus represents the current state of a collection run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounts aggregates lifecycle transitions and failures for a run.
type RunCounts struct {
	New          int `json:"new"`
	Updated      int `json:"updated"`
	PriceChanged int `json:"price_changed"`
	Sold         int `json:"sold"`
	Relisted     int `json:"relisted"`
	Errors       int `json:"errors"`
	Unwritten    int `json:"unwritten"`
}

// Add accumulates o into c.
func (c *RunCounts) Add(o RunCounts) {
	c.New += o.New
	c.Updated += o.Updated
	c.PriceChanged += o.PriceChanged
	c.Sold += o.Sold
	c.Relisted += o.Relisted
	c.Errors += o.Errors
	c.Unwritten += o.Unwritten
}

// UnitReport is the per-unit outcome recorded in the run log.
type UnitReport struct {
	Unit      string    `json:"unit"`
	Provider  string    `json:"provider,omitempty"`
	Listings  int       `json:"listings"`
	Pages     int       `json:"pages"`
	Complete  bool      `json:"complete"`
	Failed    bool      `json:"failed"`
	Reasons   []string  `json:"reasons,omitempty"`
	Counts    RunCounts `json:"counts"`
	Dropped   int       `json:"dropped"`
	Duration  float64   `json:"duration_secs"`
	SoldCheck bool      `json:"sold_check"`
}

// Run is one collection attempt across a set of units. It is created when the
// run starts and becomes immutable once completed or failed.
type Run struct {
	ID          string        `json:"id"`
	Region      string        `json:"region,omitempty"`
	Units       []string      `json:"units"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Counts      RunCounts     `json:"counts"`
	Duration    time.Duration `json:"duration"`
	Details     []UnitReport  `json:"details,omitempty"`
}

// Finished reports whether the run has been finalized.
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
