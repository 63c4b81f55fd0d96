// Package persistence drains the core's persist channel into Postgres:
// the envelope log, the journal, periodic state snapshots, and the cold
// half of idempotency checking all live here.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// execer is satisfied by both *sql.DB and *sql.Tx so batch writes can run
// inside the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EnvelopeRow is a row in olive.envelopes.
type EnvelopeRow struct {
	Sequence       uint64
	CommandType    string
	IdempotencyKey string
	Pool           string
	Timestamp      int64
	SourceSequence int64
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow is a row in olive.journal.
type JournalRow struct {
	JournalID   string
	BatchID     string
	Record      string
	Sequence    uint64
	JournalType int32
	Asset       string
	Amount      int64
	Account     string
	Memo        string
	Timestamp   int64
}

// LogWriter writes envelopes and journals using multi-row INSERT.
// ON CONFLICT DO NOTHING keeps replays after a crash idempotent.
type LogWriter struct {
	db *sql.DB
}

func NewLogWriter(db *sql.DB) *LogWriter {
	return &LogWriter{db: db}
}

// WriteEnvelopes writes a batch of envelope rows.
func (w *LogWriter) WriteEnvelopes(ctx context.Context, ex execer, envelopes []EnvelopeRow) error {
	if len(envelopes) == 0 {
		return nil
	}

	query := `INSERT INTO olive.envelopes
		(sequence, command_type, idempotency_key, pool, timestamp, source_sequence, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(envelopes))
	args := make([]interface{}, 0, len(envelopes)*8)

	for i, e := range envelopes {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, nullable(e.Pool),
			e.Timestamp, e.SourceSequence, e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournals writes a batch of journal rows.
func (w *LogWriter) WriteJournals(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO olive.journal
		(journal_id, batch_id, record, sequence, journal_type, asset, amount, account, memo, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.Record, j.Sequence,
			j.JournalType, j.Asset, j.Amount, j.Account, j.Memo, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
