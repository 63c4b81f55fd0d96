package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// SnapshotManager creates and loads state snapshots for warm restarts:
// load the latest verified snapshot, then replay the envelope log from
// snapshot.Sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full in-memory state at a point in time. Records
// serialize directly; pools carry their custodies inline.
type SnapshotData struct {
	Sequence  uint64 `json:"sequence"`
	StateHash []byte `json:"state_hash"`

	Pools     []*state.Pool        `json:"pools"`
	Positions []*state.Position    `json:"positions"`
	Options   []*state.Option      `json:"options"`
	Futures   []*state.Future      `json:"futures"`
	Books     []*state.TriggerBook `json:"books"`

	// Audit siblings of partially closed option grants.
	ClosedOptions []*state.ClosedOption `json:"closed_options,omitempty"`

	SequenceState map[string]int64 `json:"sequence_state"` // partition -> next expected seq

	// Balance nets feed the state digest, so they must survive restarts
	// exactly. User keys are "<account>/<asset>".
	UserBalances map[string]int64 `json:"user_balances"`
	PoolBalances map[string]int64 `json:"pool_balances"`
	Reclaims     uint64           `json:"reclaims"`

	KeeperSequence  uint64   `json:"keeper_sequence"`
	IdempotencyKeys []string `json:"idempotency_keys"` // recent keys for LRU warming

	CreatedAt time.Time `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots start unverified; the
// restore path marks one verified only after the replayed hash chain
// matches.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO olive.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM olive.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence uint64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE olive.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEnvelopesFrom loads envelope rows from a given sequence for replay.
func (sm *SnapshotManager) LoadEnvelopesFrom(ctx context.Context, fromSequence uint64, limit int) ([]EnvelopeRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, COALESCE(pool, ''),
		       timestamp, source_sequence, state_hash, prev_hash
		FROM olive.envelopes
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []EnvelopeRow
	for rows.Next() {
		var e EnvelopeRow
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.IdempotencyKey, &e.Pool,
			&e.Timestamp, &e.SourceSequence, &e.StateHash, &e.PrevHash,
		); err != nil {
			return nil, err
		}
		envelopes = append(envelopes, e)
	}
	return envelopes, rows.Err()
}

// LatestSequence returns the highest sequence in the envelope log, zero
// when the log is empty.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM olive.envelopes
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
