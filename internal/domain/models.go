// Package domain contains the core types shared across the pipeline.
// It has no infrastructure dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the state of one (symbol, date) unit of work in the ledger.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal returns true if the status will not change without an explicit re-trigger.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the ledger record tracking one symbol's processing status for one date.
type Job struct {
	ID           int64      `json:"id"`
	Symbol       string     `json:"symbol"`
	Date         string     `json:"date"` // YYYY-MM-DD
	Status       JobStatus  `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// FragmentKind identifies one independently retrievable piece of an artifact.
type FragmentKind string

const (
	// FragmentReport is the full artifact bundle (msgpack-encoded).
	FragmentReport FragmentKind = "report"
	// FragmentNarrative is the text payload (UTF-8).
	FragmentNarrative FragmentKind = "narrative"
	// FragmentData is the structured payload (JSON).
	FragmentData FragmentKind = "data"
	// FragmentChart is the binary rendering (SVG).
	FragmentChart FragmentKind = "chart"
)

// BriefData is the structured payload of an artifact. External API shapes are
// validated into this at the boundary; malformed shapes never travel inward.
type BriefData struct {
	Close         float64  `json:"close" msgpack:"close"`
	ChangePct     float64  `json:"change_pct" msgpack:"change_pct"`
	RSI14         *float64 `json:"rsi_14,omitempty" msgpack:"rsi_14"`
	SMA20         *float64 `json:"sma_20,omitempty" msgpack:"sma_20"`
	SMA50         *float64 `json:"sma_50,omitempty" msgpack:"sma_50"`
	AnnualizedVol *float64 `json:"annualized_vol,omitempty" msgpack:"annualized_vol"`
	MaxDrawdown   *float64 `json:"max_drawdown,omitempty" msgpack:"max_drawdown"`
	PeriodDays    int      `json:"period_days" msgpack:"period_days"`
}

// Artifact is the computed output for one (symbol, date): a narrative, a
// structured payload, and a binary chart rendering. An artifact only exists
// once its job is completed; it is immutable once written.
type Artifact struct {
	Symbol      string    `json:"symbol" msgpack:"symbol"`
	Date        string    `json:"date" msgpack:"date"`
	Narrative   string    `json:"narrative" msgpack:"narrative"`
	Data        BriefData `json:"data" msgpack:"data"`
	Chart       []byte    `json:"-" msgpack:"chart"`
	GeneratedAt time.Time `json:"generated_at" msgpack:"generated_at"`
}

// RawSnapshot is the raw input for one symbol for one date, produced by the
// upstream fetch step. Read-only from this service's point of view.
type RawSnapshot struct {
	Symbol    string
	Date      string
	FetchedAt time.Time
	Payload   []byte
}

// Candle is one OHLCV bar inside a snapshot payload.
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// SnapshotData is the validated shape of a snapshot payload.
type SnapshotData struct {
	Symbol  string   `json:"symbol"`
	Candles []Candle `json:"candles"`
}

// ParseSnapshot validates a raw snapshot payload into a SnapshotData.
// Malformed shapes are rejected as a PermanentComputeError rather than
// propagated inward as loose maps.
func ParseSnapshot(snap *RawSnapshot) (*SnapshotData, error) {
	if snap == nil || len(snap.Payload) == 0 {
		return nil, &MissingInputError{Symbol: symbolOf(snap), Date: dateOf(snap)}
	}

	var data SnapshotData
	if err := json.Unmarshal(snap.Payload, &data); err != nil {
		return nil, &PermanentComputeError{
			Reason: "malformed snapshot payload",
			Err:    err,
		}
	}

	if len(data.Candles) == 0 {
		return nil, &PermanentComputeError{Reason: "snapshot has no candles"}
	}
	for _, c := range data.Candles {
		if c.Close <= 0 {
			return nil, &PermanentComputeError{Reason: "snapshot has non-positive close price"}
		}
	}

	if data.Symbol == "" {
		data.Symbol = snap.Symbol
	}

	return &data, nil
}

func symbolOf(snap *RawSnapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Symbol
}

func dateOf(snap *RawSnapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Date
}

// Ticker is one entry in the fixed daily processing universe.
type Ticker struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Active   bool   `json:"active"`
}

// TriggerRequest is the signal that starts a fan-out run.
type TriggerRequest struct {
	Date        string   `json:"date"`
	Subset      []string `json:"subset,omitempty"`
	TriggeredBy string   `json:"triggered_by"`
}

// RunSummary describes the outcome of one fan-out run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Date       string `json:"date"`
	Dispatched int    `json:"dispatched"`
	Skipped    int    `json:"skipped"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// DispatchMessage is one unit of work handed to a worker.
// Delivery is at-least-once; processing must be idempotent.
type DispatchMessage struct {
	Symbol  string `json:"symbol"`
	Date    string `json:"date"`
	Attempt int    `json:"attempt"`
}

// ReadStatus says which path served a query read.
type ReadStatus string

const (
	ReadCacheHit         ReadStatus = "cache_hit"
	ReadLedgerHit        ReadStatus = "ledger_hit"
	ReadComputedOnDemand ReadStatus = "computed_on_demand"
)
