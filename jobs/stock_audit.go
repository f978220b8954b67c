package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockAuditJob compares stored on-hand balances against the movement ledger.
type StockAuditJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewStockAuditJob initialises the stock audit handler.
func NewStockAuditJob(pool *pgxpool.Pool, logger *slog.Logger) *StockAuditJob {
	return &StockAuditJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the stock audit.
func (j *StockAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stock audit: handler not configured")
	}
	var payload StockAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Tolerance <= 0 {
		payload.Tolerance = 1e-6
	}

	start := j.now()
	logger := j.logger().With(slog.Float64("tolerance", payload.Tolerance))
	logger.Info("starting stock audit")

	checked, drifts, err := j.scan(ctx, payload.Tolerance)
	if err != nil {
		logger.Error("stock audit failed", slog.Any("error", err))
		return err
	}

	for _, d := range drifts {
		logger.Warn("stock drift detected",
			slog.String("product_ref", d.ProductRef),
			slog.Float64("on_hand", d.OnHand),
			slog.Float64("ledger", d.Ledger),
			slog.Float64("drift", d.Drift),
		)
	}

	logger.Info("completed stock audit",
		slog.Int("products", checked),
		slog.Int("drifts", len(drifts)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

type stockDrift struct {
	ProductRef string
	OnHand     float64
	Ledger     float64
	Drift      float64
}

func (j *StockAuditJob) scan(ctx context.Context, tolerance float64) (int, []stockDrift, error) {
	if j.Pool == nil {
		return 0, nil, errors.New("stock audit: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT r.product_ref,
		       r.on_hand::double precision,
		       COALESCE(SUM(m.quantity_delta), 0)::double precision AS ledger
		FROM stock_records r
		LEFT JOIN stock_movements m ON m.product_ref = r.product_ref
		GROUP BY r.product_ref, r.on_hand
		ORDER BY r.product_ref`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	checked := 0
	drifts := make([]stockDrift, 0)
	for rows.Next() {
		var ref string
		var onHand, ledger float64
		if err := rows.Scan(&ref, &onHand, &ledger); err != nil {
			return 0, nil, err
		}
		checked++
		if diff := onHand - ledger; math.Abs(diff) > tolerance {
			drifts = append(drifts, stockDrift{ProductRef: ref, OnHand: onHand, Ledger: ledger, Drift: diff})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return checked, drifts, nil
}

func (j *StockAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockAudit))
	}
	return slog.Default().With(slog.String("job", TaskStockAudit))
}

func (j *StockAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
