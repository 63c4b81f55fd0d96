package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

// balanceKey addresses one account's holdings of one asset.
type balanceKey struct {
	Account uuid.UUID
	Asset   oracle.AssetID
}

// BalanceTracker maintains running net flows from the journal: what each
// wallet has received minus what it has paid in, and the mirror totals per
// pool asset. It is a projection over journals, rebuildable by replay.
type BalanceTracker struct {
	mu sync.RWMutex

	userNet  map[balanceKey]int64
	poolNet  map[oracle.AssetID]int64
	reclaims uint64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		userNet: make(map[balanceKey]int64),
		poolNet: make(map[oracle.AssetID]int64),
	}
}

// ApplyJournal folds a single journal row into the balances.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	key := balanceKey{Account: j.Account, Asset: j.Asset}
	switch j.Type {
	case engine.EffectPayout:
		bt.userNet[key] += int64(j.Amount)
		bt.poolNet[j.Asset] -= int64(j.Amount)
	case engine.EffectCollect:
		bt.userNet[key] -= int64(j.Amount)
		bt.poolNet[j.Asset] += int64(j.Amount)
	case engine.EffectReclaim:
		bt.reclaims++
	}
}

// ApplyBatch validates and folds a whole batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// UserNet returns a wallet's net flow in one asset: positive when the pool
// has paid it more than it deposited.
func (bt *BalanceTracker) UserNet(account uuid.UUID, asset oracle.AssetID) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.userNet[balanceKey{Account: account, Asset: asset}]
}

// PoolNet returns the pool-side mirror of all user flows in one asset.
func (bt *BalanceTracker) PoolNet(asset oracle.AssetID) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.poolNet[asset]
}

// ReclaimCount reports how many records the journal has seen reclaimed.
func (bt *BalanceTracker) ReclaimCount() uint64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.reclaims
}

// Export flattens the tracker for snapshotting. User keys are
// "<account>/<asset>", pool keys the bare asset id.
func (bt *BalanceTracker) Export() (user map[string]int64, pool map[string]int64, reclaims uint64) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	user = make(map[string]int64, len(bt.userNet))
	for key, net := range bt.userNet {
		user[key.Account.String()+"/"+string(key.Asset)] = net
	}
	pool = make(map[string]int64, len(bt.poolNet))
	for asset, net := range bt.poolNet {
		pool[string(asset)] = net
	}
	return user, pool, bt.reclaims
}

// Restore replaces the tracker contents with an earlier Export.
func (bt *BalanceTracker) Restore(user map[string]int64, pool map[string]int64, reclaims uint64) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.userNet = make(map[balanceKey]int64, len(user))
	for composite, net := range user {
		idx := strings.IndexByte(composite, '/')
		if idx < 0 {
			return fmt.Errorf("malformed balance key %q", composite)
		}
		account, err := uuid.Parse(composite[:idx])
		if err != nil {
			return fmt.Errorf("malformed balance key %q: %w", composite, err)
		}
		bt.userNet[balanceKey{Account: account, Asset: oracle.AssetID(composite[idx+1:])}] = net
	}

	bt.poolNet = make(map[oracle.AssetID]int64, len(pool))
	for asset, net := range pool {
		bt.poolNet[oracle.AssetID(asset)] = net
	}
	bt.reclaims = reclaims
	return nil
}
