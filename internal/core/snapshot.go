package core

import (
	"fmt"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// snapshotKeyLimit bounds how many idempotency keys ride along in a
// snapshot. The DB cold path covers anything that aged out.
const snapshotKeyLimit = 100_000

// SnapshotState is the processor's complete restorable state: every live
// record, the balance nets that feed the state digest, and the per-partition
// sequence cursors.
type SnapshotState struct {
	Sequence  uint64
	StateHash [32]byte

	Pools     []*state.Pool
	Positions []*state.Position
	Options   []*state.Option
	Futures   []*state.Future
	Books     []*state.TriggerBook

	// Audit siblings of partially closed option grants.
	ClosedOptions []*state.ClosedOption

	SequenceState   map[string]int64
	UserBalances    map[string]int64
	PoolBalances    map[string]int64
	Reclaims        uint64
	IdempotencyKeys []string
}

// Snapshot captures the processor's state. Call it from the processor
// goroutine between commands; the store accessors copy slices but the
// records themselves are shared, so the caller must serialize before the
// next command mutates them.
func (p *Processor) Snapshot() *SnapshotState {
	user, pool, reclaims := p.tracker.Export()
	return &SnapshotState{
		Sequence:        p.sequence,
		StateHash:       p.hasher.PrevHash(),
		Pools:           p.store.Pools(),
		Positions:       p.store.Positions(),
		Options:         p.store.Options(),
		Futures:         p.store.Futures(),
		Books:           p.store.Books(),
		ClosedOptions:   p.store.ClosedOptions(),
		SequenceState:   p.sequenceValidator.Partitions(),
		UserBalances:    user,
		PoolBalances:    pool,
		Reclaims:        reclaims,
		IdempotencyKeys: p.idempotency.RecentKeys(snapshotKeyLimit),
	}
}

// WarmIdempotency preloads composite dedup keys, typically the newest
// envelope rows from the database on restart.
func (p *Processor) WarmIdempotency(keys []string) {
	p.idempotency.Warm(keys)
}

// Restore loads a snapshot into a freshly constructed processor. It must
// run before any command is processed.
func (p *Processor) Restore(snap *SnapshotState) error {
	if p.sequence != 0 {
		return fmt.Errorf("restore into a used processor (sequence=%d)", p.sequence)
	}

	for _, pl := range snap.Pools {
		p.store.PutPool(pl)
	}
	for _, pos := range snap.Positions {
		p.store.PutPosition(pos)
	}
	for _, opt := range snap.Options {
		p.store.PutOption(opt)
	}
	for _, fut := range snap.Futures {
		p.store.PutFuture(fut)
	}
	for _, book := range snap.Books {
		p.store.PutBook(book)
	}
	for _, closed := range snap.ClosedOptions {
		p.store.PutClosedOption(closed)
	}

	if err := p.tracker.Restore(snap.UserBalances, snap.PoolBalances, snap.Reclaims); err != nil {
		return fmt.Errorf("restore balances: %w", err)
	}
	for partition, next := range snap.SequenceState {
		p.sequenceValidator.RestorePartition(partition, next)
	}
	p.idempotency.Warm(snap.IdempotencyKeys)

	p.sequence = snap.Sequence
	p.hasher.SetPrevHash(snap.StateHash)

	p.log.Info().
		Uint64("sequence", snap.Sequence).
		Int("positions", len(snap.Positions)).
		Int("options", len(snap.Options)).
		Int("futures", len(snap.Futures)).
		Msg("state restored from snapshot")
	return nil
}
