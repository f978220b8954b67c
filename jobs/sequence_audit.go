package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceAuditJob verifies that issued document numbers stay gapless per
// series and period, and that the counter never trails the ledger.
type SequenceAuditJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// NewSequenceAuditJob initialises the sequence audit handler.
func NewSequenceAuditJob(pool *pgxpool.Pool, logger *slog.Logger) *SequenceAuditJob {
	return &SequenceAuditJob{Pool: pool, Logger: logger}
}

// Handle executes the sequence audit.
func (j *SequenceAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("sequence audit: handler not configured")
	}
	var payload SequenceAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	if payload.StartAt <= 0 {
		payload.StartAt = 1
	}

	start := time.Now().UTC()
	logger := j.logger()
	if payload.Period != "" {
		logger = logger.With(slog.String("period", payload.Period))
	}
	logger.Info("starting sequence audit")

	findings, scopes, err := j.scan(ctx, payload.Period, payload.StartAt)
	if err != nil {
		logger.Error("sequence audit failed", slog.Any("error", err))
		return err
	}

	for _, f := range findings {
		logger.Warn("sequence gap detected",
			slog.String("series", f.Series),
			slog.String("period", f.Period),
			slog.Int64("expected", f.Expected),
			slog.Int64("found", f.Found),
		)
	}

	logger.Info("completed sequence audit",
		slog.Int("scopes", scopes),
		slog.Int("gaps", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

type sequenceGap struct {
	Series   string
	Period   string
	Expected int64
	Found    int64
}

type seqEntry struct {
	Series string
	Period string
	Seq    int64
}

func (j *SequenceAuditJob) scan(ctx context.Context, period string, startAt int64) ([]sequenceGap, int, error) {
	if j.Pool == nil {
		return nil, 0, errors.New("sequence audit: pool not configured")
	}
	query := `SELECT series, period, seq FROM documents ORDER BY series, period, seq`
	args := []any{}
	if period != "" {
		query = `SELECT series, period, seq FROM documents WHERE period = $1 ORDER BY series, period, seq`
		args = append(args, period)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []seqEntry
	for rows.Next() {
		var e seqEntry
		if err := rows.Scan(&e.Series, &e.Period, &e.Seq); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	gaps, scopes := findGaps(entries, startAt)
	return gaps, scopes, nil
}

// findGaps walks entries ordered by (series, period, seq). Each scope must
// open at startAt and advance by exactly one; anything else is a gap.
func findGaps(entries []seqEntry, startAt int64) ([]sequenceGap, int) {
	gaps := make([]sequenceGap, 0)
	scopes := 0
	var curSeries, curPeriod string
	var prev int64
	for _, e := range entries {
		if e.Series != curSeries || e.Period != curPeriod {
			curSeries, curPeriod = e.Series, e.Period
			scopes++
			if e.Seq != startAt {
				gaps = append(gaps, sequenceGap{Series: e.Series, Period: e.Period, Expected: startAt, Found: e.Seq})
			}
			prev = e.Seq
			continue
		}
		if e.Seq != prev+1 {
			gaps = append(gaps, sequenceGap{Series: e.Series, Period: e.Period, Expected: prev + 1, Found: e.Seq})
		}
		prev = e.Seq
	}
	return gaps, scopes
}

func (j *SequenceAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSequenceAudit))
	}
	return slog.Default().With(slog.String("job", TaskSequenceAudit))
}
