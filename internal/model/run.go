package model

import "time"

// RunStatus represents the current state of an event computation.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusAligning    RunStatus = "aligning"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusEstimating  RunStatus = "estimating"
	RunStatusCombining   RunStatus = "combining"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run is a single persisted computation for an event.
type Run struct {
	ID        string     `json:"id"`
	Event     Event      `json:"event"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the summary persisted once a run completes.
type RunResult struct {
	SummaryAlert    AlertLevel    `json:"summary_alert"`
	FatalityAlert   AlertLevel    `json:"fatality_alert"`
	EconomicAlert   AlertLevel    `json:"economic_alert"`
	FatalityMedian  float64       `json:"fatality_median"`
	FatalitySigma   float64       `json:"fatality_sigma"`
	EconomicMedian  float64       `json:"economic_median_usd"`
	EconomicSigma   float64       `json:"economic_sigma"`
	TotalExposed    int64         `json:"total_exposed"`
	MaxBorderMMI    float64       `json:"max_border_mmi"`
	Abstentions     []Abstention  `json:"abstentions,omitempty"`
	Phases          []PhaseResult `json:"phases"`
	ElapsedMillis   int64         `json:"elapsed_ms"`
}

// PhaseStatus represents the state of one pipeline stage.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Abstention records that a model produced no estimate for a country.
type Abstention struct {
	Model   string `json:"model"`
	Country int    `json:"country"`
	Reason  string `json:"reason"`
}
