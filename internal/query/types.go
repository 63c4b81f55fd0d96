package query

import "github.com/google/uuid"

// PositionView is a margin position as served to API clients. Derived
// fields (pnl, margin ratio) are computed at query time from the latest
// usable mark price; they are zero when no quote is available.
type PositionView struct {
	ID    uuid.UUID `json:"id"`
	Owner uuid.UUID `json:"owner"`
	Pool  string    `json:"pool"`
	Index uint64    `json:"index"`

	Side      string `json:"side"`
	OrderType string `json:"order_type"`

	Price            uint64 `json:"price"`
	SizeUSD          uint64 `json:"size_usd"`
	CollateralUSD    uint64 `json:"collateral_usd"`
	CollateralAmount uint64 `json:"collateral_amount"`
	LiquidationPrice uint64 `json:"liquidation_price"`

	AccruedBorrowFees uint64 `json:"accrued_borrow_fees"`

	MarkPrice      uint64 `json:"mark_price,omitempty"`
	UnrealizedPnL  int64  `json:"unrealized_pnl,omitempty"`
	MarginRatioBps uint64 `json:"margin_ratio_bps,omitempty"`
	LeverageBps    uint64 `json:"leverage_bps,omitempty"`

	TriggerPrice uint64 `json:"trigger_price,omitempty"` // pending limit only
	OpenTime     int64  `json:"open_time"`
}

// OptionView is an option grant as served to API clients.
type OptionView struct {
	ID    uuid.UUID `json:"id"`
	Owner uuid.UUID `json:"owner"`
	Pool  string    `json:"pool"`
	Index uint64    `json:"index"`

	Type        string `json:"type"`
	LockedAsset string `json:"locked_asset"`
	Amount      uint64 `json:"amount"`
	Quantity    uint64 `json:"quantity"`
	StrikePrice uint64 `json:"strike_price"`
	Premium     uint64 `json:"premium"`

	PurchaseDate int64 `json:"purchase_date"`
	ExpiredDate  int64 `json:"expired_date"`

	Valid     bool   `json:"valid"`
	Exercised bool   `json:"exercised"`
	Profit    uint64 `json:"profit"`
	Claimed   uint64 `json:"claimed"`

	IntrinsicValueUSD uint64 `json:"intrinsic_value_usd,omitempty"`
}

// FutureView is a fixed-expiry future as served to API clients.
type FutureView struct {
	ID    uuid.UUID `json:"id"`
	Owner uuid.UUID `json:"owner"`
	Pool  string    `json:"pool"`
	Index uint64    `json:"index"`

	Side   string `json:"side"`
	Status string `json:"status"`

	EntryPrice       uint64 `json:"entry_price"`
	FuturePrice      uint64 `json:"future_price"`
	SizeUSD          uint64 `json:"size_usd"`
	CollateralUSD    uint64 `json:"collateral_usd"`
	LiquidationPrice uint64 `json:"liquidation_price"`

	ExpiryTime       int64  `json:"expiry_time"`
	SettlementPrice  uint64 `json:"settlement_price,omitempty"`
	SettlementAmount uint64 `json:"settlement_amount,omitempty"`
	Claimed          bool   `json:"claimed"`
}

// BalanceView is an account's net flow against the pool for one asset, in
// native token units. Positive means the pool has paid the account more
// than it collected.
type BalanceView struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Net     int64     `json:"net"`
}

// PoolStatsView summarizes one pool's open interest and custody health.
type PoolStatsView struct {
	Name                 string        `json:"name"`
	LongOpenInterestUSD  uint64        `json:"long_open_interest_usd"`
	ShortOpenInterestUSD uint64        `json:"short_open_interest_usd"`
	Custodies            []CustodyView `json:"custodies"`
}

// CustodyView is one custody's liquidity and rate state.
type CustodyView struct {
	Asset          string `json:"asset"`
	TokenOwned     uint64 `json:"token_owned"`
	TokenLocked    uint64 `json:"token_locked"`
	UtilizationBps uint64 `json:"utilization_bps"`
	BorrowRateBps  uint64 `json:"borrow_rate_bps"`
}

// JournalEntryView is a journal row as served to API clients.
type JournalEntryView struct {
	JournalID string `json:"journal_id"`
	BatchID   string `json:"batch_id"`
	Record    string `json:"record"`
	Sequence  uint64 `json:"sequence"`
	Type      int32  `json:"type"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	Account   string `json:"account"`
	Memo      string `json:"memo,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check over the
// persisted envelope log.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  uint64  `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
