package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/keeper"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

// RateRecorder persists the keeper's per-custody rate samples. Samples
// arrive on every gauge sweep; writes are fire-and-forget because the
// history is advisory, not bookkeeping.
type RateRecorder struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRateRecorder(db *sql.DB, log zerolog.Logger) *RateRecorder {
	return &RateRecorder{
		db:  db,
		log: log.With().Str("component", "rate_history").Logger(),
	}
}

// Sink returns a keeper.RateSink backed by this recorder.
func (r *RateRecorder) Sink() keeper.RateSink {
	return func(sample keeper.RateSample) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.record(ctx, sample); err != nil {
			r.log.Warn().Err(err).Str("pool", sample.Pool).Str("asset", string(sample.Asset)).Msg("rate sample dropped")
		}
	}
}

func (r *RateRecorder) record(ctx context.Context, s keeper.RateSample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO olive.rate_history
			(pool, asset, utilization_bps, borrow_rate_bps, cumulative_long, cumulative_short, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.Pool, string(s.Asset), s.UtilizationBps, s.BorrowRateBps,
		int64(s.CumulativeLong), int64(s.CumulativeShort), s.Timestamp)
	return err
}

// History returns the most recent samples for one custody, newest first.
func (r *RateRecorder) History(ctx context.Context, pool, asset string, limit int) ([]keeper.RateSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pool, asset, utilization_bps, borrow_rate_bps, cumulative_long, cumulative_short, recorded_at
		FROM olive.rate_history
		WHERE pool = $1 AND asset = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, pool, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []keeper.RateSample
	for rows.Next() {
		var s keeper.RateSample
		var assetStr string
		var cumLong, cumShort int64
		if err := rows.Scan(&s.Pool, &assetStr, &s.UtilizationBps, &s.BorrowRateBps, &cumLong, &cumShort, &s.Timestamp); err != nil {
			return nil, err
		}
		s.Asset = oracle.AssetID(assetStr)
		s.CumulativeLong = uint64(cumLong)
		s.CumulativeShort = uint64(cumShort)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
