package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/core"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// core's sends on that channel block, so if this worker falls behind the
// core stalls rather than losing an applied command.
type Worker struct {
	writer       *LogWriter
	db           *sql.DB
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log.With().Str("component", "persistence").Logger(),
		metrics:      metrics,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timeout fires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	envelopes := make([]EnvelopeRow, 0, w.batchSize)
	journals := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(envelopes)+len(journals) > 0 {
				if err := w.flush(context.Background(), envelopes, journals); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(envelopes)+len(journals) > 0 {
					if err := w.flush(context.Background(), envelopes, journals); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			// Keeper transitions carry no envelope; only their journals
			// are durable, in the keeper's own sequence space.
			if out.Envelope != nil {
				envelopes = append(envelopes, toEnvelopeRow(out))
			}
			journals = append(journals, toJournalRows(out)...)

			if len(envelopes) >= w.batchSize || len(journals) >= w.batchSize*4 {
				w.flushWithRetry(ctx, envelopes, journals)
				envelopes = envelopes[:0]
				journals = journals[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(envelopes)+len(journals) > 0 {
				w.flushWithRetry(ctx, envelopes, journals)
				envelopes = envelopes[:0]
				journals = journals[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func toEnvelopeRow(out core.Output) EnvelopeRow {
	env := out.Envelope
	return EnvelopeRow{
		Sequence:       env.Sequence,
		CommandType:    env.Type.String(),
		IdempotencyKey: env.IdempotencyKey,
		Pool:           env.Pool,
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}
}

func toJournalRows(out core.Output) []JournalRow {
	if out.Batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     j.BatchID.String(),
			Record:      j.Record.String(),
			Sequence:    j.Sequence,
			JournalType: int32(j.Type),
			Asset:       string(j.Asset),
			Amount:      int64(j.Amount),
			Account:     j.Account.String(),
			Memo:        j.Memo,
			Timestamp:   j.Timestamp,
		})
	}
	return rows
}

// flushWithRetry retries with exponential backoff. The worker never drops
// a batch; it retries until the write lands or the context ends, and even
// then makes one final attempt so shutdown does not lose the tail.
func (w *Worker) flushWithRetry(ctx context.Context, envelopes []EnvelopeRow, journals []JournalRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("envelopes", len(envelopes)).Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), envelopes, journals); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, envelopes, journals); err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, envelopes []EnvelopeRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEnvelopes(ctx, tx, envelopes); err != nil {
		w.countError("write_envelopes")
		return err
	}
	if err := w.writer.WriteJournals(ctx, tx, journals); err != nil {
		w.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(envelopes)))
		w.metrics.PersistRowsWritten.Add(float64(len(envelopes) + len(journals)))
	}
	return nil
}

func (w *Worker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
