package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/persistence"
	"github.com/Aurora0917/olive-sc-sub000/internal/testutil"
)

func TestLogWriterRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewLogWriter(db)
	envelopes := []persistence.EnvelopeRow{
		{
			Sequence:       1,
			CommandType:    "open_position",
			IdempotencyKey: uuid.NewString(),
			Pool:           "SOL-USDC",
			Timestamp:      100,
			SourceSequence: 1,
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
		},
	}
	journals := []persistence.JournalRow{
		{
			JournalID:   uuid.NewString(),
			BatchID:     uuid.NewString(),
			Record:      uuid.NewString(),
			Sequence:    1,
			JournalType: 1,
			Asset:       "SOL",
			Amount:      5_000000000,
			Account:     uuid.NewString(),
			Memo:        "collateral",
			Timestamp:   100,
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEnvelopes(ctx, tx, envelopes); err != nil {
		t.Fatalf("write envelopes: %v", err)
	}
	if err := writer.WriteJournals(ctx, tx, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Replays must be invisible: same rows again, no error, no duplicates.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEnvelopes(ctx, tx, envelopes); err != nil {
		t.Fatalf("rewrite envelopes: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM olive.envelopes").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("envelopes = %d, want 1", count)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("open_position", envelopes[0].IdempotencyKey)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatal("persisted envelope not reported as duplicate")
	}
	dup, err = checker.IsDuplicate("close_position", envelopes[0].IdempotencyKey)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Fatal("kind must scope the idempotency key")
	}

	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "open_position:"+envelopes[0].IdempotencyKey {
		t.Fatalf("recent keys = %v", keys)
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)

	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load on empty: %v", err)
	}
	if loaded != nil {
		t.Fatal("cold start should yield no snapshot")
	}

	snap := &persistence.SnapshotData{
		Sequence:       42,
		StateHash:      make([]byte, 32),
		SequenceState:  map[string]int64{"pool:SOL-USDC": 7},
		KeeperSequence: 3,
		CreatedAt:      time.Now().UTC(),
	}
	if err := sm.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Unverified snapshots are never restored from.
	loaded, err = sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load unverified: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot must not load")
	}

	if err := sm.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	loaded, err = sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load verified: %v", err)
	}
	if loaded == nil || loaded.Sequence != 42 {
		t.Fatalf("loaded = %+v, want sequence 42", loaded)
	}
	if loaded.SequenceState["pool:SOL-USDC"] != 7 {
		t.Fatalf("sequence state = %v", loaded.SequenceState)
	}
}
