// Package projection maintains the queryable Postgres read models:
// per-account balances derived from the journal, and the borrow-rate
// history sampled by the keeper. Projections are eventually consistent
// and can always be rebuilt from the journal.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/core"
	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
)

// Worker updates projection tables from the core's publish stream. The
// publish channel is non-blocking with drop on the core side; anything
// missed here is recovered by a rebuild.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	log       zerolog.Logger
	lastSeq   uint64
}

func NewWorker(db *sql.DB, inputChan <-chan core.Output, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log.With().Str("component", "projection").Logger(),
	}
}

// Run drains the input channel until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, out); err != nil {
				// Eventually consistent; a rebuild repairs any gap.
				w.log.Warn().Err(err).Msg("projection update failed")
			}
			if out.Envelope != nil {
				w.lastSeq = out.Envelope.Sequence
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, out core.Output) error {
	if out.Batch == nil {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range out.Batch.Journals {
		if j.Type == engine.EffectReclaim {
			continue
		}
		if err := w.applyJournal(ctx, tx, j.Sequence, j.Account.String(), string(j.Asset), signedAmount(j.Type, j.Amount)); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// The watermark tracks the command log only; keeper batches have no
	// envelope and their own sequence space.
	if out.Envelope != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO olive.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, out.Envelope.Sequence); err != nil {
			return fmt.Errorf("watermark update: %w", err)
		}
	}

	return tx.Commit()
}

// signedAmount orients a journal amount toward the user: payouts grow the
// user's balance, collections shrink it.
func signedAmount(t engine.EffectType, amount uint64) int64 {
	if t == engine.EffectPayout {
		return int64(amount)
	}
	return -int64(amount)
}

func (w *Worker) applyJournal(ctx context.Context, tx *sql.Tx, seq uint64, account, asset string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO olive.balances (account, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, asset)
		DO UPDATE SET balance = olive.balances.balance + $3, last_sequence = $4
	`, account, asset, delta, seq)
	return err
}

// Rebuild truncates and regenerates the balance projection from the
// journal.
func Rebuild(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE olive.balances`,
		`DELETE FROM olive.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Journal type 0 is a payout (pool pays user), type 1 a collection.
	// Reclaims (type 2) carry no value.
	_, err := db.ExecContext(ctx, `
		INSERT INTO olive.balances (account, asset, balance, last_sequence)
		SELECT
			account,
			asset,
			SUM(CASE WHEN journal_type = 0 THEN amount ELSE -amount END) AS balance,
			MAX(sequence) AS last_sequence
		FROM olive.journal
		WHERE journal_type < 2
		GROUP BY account, asset
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	return nil
}
