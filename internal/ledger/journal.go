package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

// Journal records one applied engine effect. Transfers always carry a
// positive amount; direction lives in the type.
type Journal struct {
	JournalID uuid.UUID
	BatchID   uuid.UUID
	Sequence  uint64 // global transition sequence
	Record    uuid.UUID
	Type      engine.EffectType
	Asset     oracle.AssetID
	Amount    uint64
	Account   uuid.UUID
	Memo      string
	Timestamp int64
}

// Batch groups the journals of one transition: either every effect of a
// transition lands, or none do.
type Batch struct {
	BatchID   uuid.UUID
	Sequence  uint64
	Record    uuid.UUID
	Timestamp int64
	Journals  []Journal
}

// BatchFromEffects books a transition's effect list. An empty effect list
// produces no batch: some transitions (fee accrual, limit execution) move
// no tokens.
func BatchFromEffects(record uuid.UUID, sequence uint64, timestamp int64, effects []engine.Effect) *Batch {
	if len(effects) == 0 {
		return nil
	}
	b := &Batch{
		BatchID:   uuid.New(),
		Sequence:  sequence,
		Record:    record,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(effects)),
	}
	for _, ef := range effects {
		b.Journals = append(b.Journals, Journal{
			JournalID: uuid.New(),
			BatchID:   b.BatchID,
			Sequence:  sequence,
			Record:    record,
			Type:      ef.Type,
			Asset:     ef.Asset,
			Amount:    ef.Amount,
			Account:   ef.Account,
			Memo:      ef.Memo,
			Timestamp: timestamp,
		})
	}
	return b
}

// Validate ensures the batch is well-formed: transfers carry a positive
// amount and a named asset, reclaims carry neither.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	for _, j := range b.Journals {
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		switch j.Type {
		case engine.EffectPayout, engine.EffectCollect:
			if j.Amount == 0 {
				return fmt.Errorf("journal %s: zero-amount transfer", j.JournalID)
			}
			if j.Asset == "" {
				return fmt.Errorf("journal %s: transfer without asset", j.JournalID)
			}
		case engine.EffectReclaim:
			if j.Amount != 0 {
				return fmt.Errorf("journal %s: reclaim with amount %d", j.JournalID, j.Amount)
			}
		default:
			return fmt.Errorf("journal %s: unknown effect type %d", j.JournalID, j.Type)
		}
	}
	return nil
}
