package event

import (
	"fmt"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

// PriceUpdate carries a fresh oracle quote for one asset. Price sequences
// may gap: a missed tick is superseded by the next one, unlike user
// commands where a gap halts the partition.
type PriceUpdate struct {
	Asset oracle.AssetID

	Price         uint64
	Exponent      int32
	ConfidenceBps uint32

	PriceSequence  int64
	PriceTimestamp int64 // unix seconds at the source
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%s:%d", p.Asset, p.PriceSequence)
}

func (p *PriceUpdate) Type() CommandType     { return CommandPriceUpdate }
func (p *PriceUpdate) PoolName() string      { return "" }
func (p *PriceUpdate) SourceSequence() int64 { return p.PriceSequence }
func (p *PriceUpdate) EventTimestamp() int64 { return p.PriceTimestamp }

// Quote converts the update into an oracle quote.
func (p *PriceUpdate) Quote() oracle.PriceQuote {
	return oracle.PriceQuote{Price: p.Price, Exponent: p.Exponent}
}
