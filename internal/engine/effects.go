package engine

import (
	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

// EffectType classifies a side-effect request emitted by a transition.
type EffectType uint8

const (
	// EffectPayout moves tokens from a pool custody to a user wallet.
	EffectPayout EffectType = iota
	// EffectCollect moves tokens from a user wallet into a pool custody.
	EffectCollect
	// EffectReclaim closes a storage record (position, option, trigger
	// book) and returns its deposit to the owner.
	EffectReclaim
)

func (t EffectType) String() string {
	switch t {
	case EffectPayout:
		return "payout"
	case EffectCollect:
		return "collect"
	case EffectReclaim:
		return "reclaim"
	default:
		return "unknown"
	}
}

// Effect is one side-effect request. The engine computes effects but never
// executes them: the caller applies them after persisting the record, in
// order, or discards them all if persistence fails.
type Effect struct {
	Type   EffectType
	Asset  oracle.AssetID
	Amount uint64 // native token units; zero for EffectReclaim

	// Account is the counterparty wallet for transfers and the record id
	// for reclaims.
	Account uuid.UUID

	Memo string
}

func payout(asset oracle.AssetID, amount uint64, to uuid.UUID, memo string) Effect {
	return Effect{Type: EffectPayout, Asset: asset, Amount: amount, Account: to, Memo: memo}
}

func collect(asset oracle.AssetID, amount uint64, from uuid.UUID, memo string) Effect {
	return Effect{Type: EffectCollect, Asset: asset, Amount: amount, Account: from, Memo: memo}
}

func reclaim(record uuid.UUID, memo string) Effect {
	return Effect{Type: EffectReclaim, Account: record, Memo: memo}
}
