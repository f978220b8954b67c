package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAudit recomputes on-hand balances from the movement ledger.
	TaskStockAudit = "stock:audit"
	// TaskSequenceAudit checks issued document numbers for gaps.
	TaskSequenceAudit = "sequence:audit"
)

// StockAuditPayload configures a stock audit run.
type StockAuditPayload struct {
	// Tolerance is the largest absolute drift treated as clean.
	Tolerance float64 `json:"tolerance"`
}

// NewStockAuditTask constructs an Asynq task for the stock audit.
func NewStockAuditTask(tolerance float64) (*asynq.Task, error) {
	data, err := json.Marshal(StockAuditPayload{Tolerance: tolerance})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAudit, data), nil
}

// SequenceAuditPayload configures a sequence audit run.
type SequenceAuditPayload struct {
	// Period restricts the audit to one period; empty means all.
	Period string `json:"period"`
	// StartAt is the first number each (series, period) scope is expected
	// to open with, matching the allocator's configured start.
	StartAt int64 `json:"start_at"`
}

// NewSequenceAuditTask constructs an Asynq task for the sequence audit.
func NewSequenceAuditTask(period string, startAt int64) (*asynq.Task, error) {
	data, err := json.Marshal(SequenceAuditPayload{Period: period, StartAt: startAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSequenceAudit, data), nil
}
