package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/event"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command kind string)
// into a typed event.Command. The ingestion shell validates and converts
// before anything reaches the single-threaded core.
func ParseRawCommand(raw RawCommand, kind string) (event.Command, error) {
	switch kind {
	case "open_position":
		return parseOpenPosition(raw.Data)
	case "close_position":
		return parseClosePosition(raw.Data)
	case "cancel_limit":
		return parseCancelLimit(raw.Data)
	case "add_collateral":
		return parseAddCollateral(raw.Data)
	case "remove_collateral":
		return parseRemoveCollateral(raw.Data)
	case "increase_size":
		return parseIncreaseSize(raw.Data)
	case "decrease_size":
		return parseDecreaseSize(raw.Data)
	case "open_option":
		return parseOpenOption(raw.Data)
	case "close_option":
		return parseCloseOption(raw.Data)
	case "exercise_option":
		return parseExerciseOption(raw.Data)
	case "claim_option":
		return parseClaimOption(raw.Data)
	case "edit_option":
		return parseEditOption(raw.Data)
	case "open_future":
		return parseOpenFuture(raw.Data)
	case "close_future":
		return parseCloseFuture(raw.Data)
	case "cancel_future_limit":
		return parseCancelFutureLimit(raw.Data)
	case "claim_future":
		return parseClaimFuture(raw.Data)
	case "set_trigger":
		return parseSetTrigger(raw.Data)
	case "update_trigger":
		return parseUpdateTrigger(raw.Data)
	case "remove_trigger":
		return parseRemoveTrigger(raw.Data)
	case "price_update":
		return parsePriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command kind: %s", kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// metaJSON is the envelope every user command carries.
type metaJSON struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
	Pool      string `json:"pool"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

func (m metaJSON) toMeta() (event.Meta, error) {
	commandID, err := uuid.Parse(m.CommandID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(m.Owner)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse owner: %w", err)
	}
	if m.Pool == "" {
		return event.Meta{}, fmt.Errorf("missing pool")
	}
	return event.Meta{
		CommandID: commandID,
		Owner:     owner,
		Pool:      m.Pool,
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
	}, nil
}

func parseSide(s string) (state.Side, error) {
	switch s {
	case "long":
		return state.SideLong, nil
	case "short":
		return state.SideShort, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

type openPositionJSON struct {
	metaJSON
	Index                 uint64 `json:"index"`
	Side                  string `json:"side"`       // "long" or "short"
	OrderType             string `json:"order_type"` // "market" or "limit"
	SizeUSD               uint64 `json:"size_usd"`
	CollateralAmount      uint64 `json:"collateral_amount"`
	TriggerPrice          uint64 `json:"trigger_price,omitempty"`
	TriggerAboveThreshold bool   `json:"trigger_above_threshold,omitempty"`
	MaxSlippageBps        uint64 `json:"max_slippage_bps,omitempty"`
}

func parseOpenPosition(data []byte) (*event.OpenPosition, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse open_position: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	orderType := state.OrderTypeMarket
	if j.OrderType == "limit" {
		orderType = state.OrderTypeLimit
	}
	return &event.OpenPosition{
		Meta:                  meta,
		Index:                 j.Index,
		Side:                  side,
		OrderType:             orderType,
		SizeUSD:               j.SizeUSD,
		CollateralAmount:      j.CollateralAmount,
		TriggerPrice:          j.TriggerPrice,
		TriggerAboveThreshold: j.TriggerAboveThreshold,
		MaxSlippageBps:        j.MaxSlippageBps,
	}, nil
}

type closePositionJSON struct {
	metaJSON
	Index           uint64 `json:"index"`
	ClosePercentage uint64 `json:"close_percentage"`
}

func parseClosePosition(data []byte) (*event.ClosePosition, error) {
	var j closePositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse close_position: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.ClosePosition{Meta: meta, Index: j.Index, ClosePercentage: j.ClosePercentage}, nil
}

type indexOnlyJSON struct {
	metaJSON
	Index uint64 `json:"index"`
}

func parseCancelLimit(data []byte) (*event.CancelLimit, error) {
	var j indexOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse cancel_limit: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.CancelLimit{Meta: meta, Index: j.Index}, nil
}

type collateralJSON struct {
	metaJSON
	Index  uint64 `json:"index"`
	Amount uint64 `json:"amount"`
}

func parseAddCollateral(data []byte) (*event.AddCollateral, error) {
	var j collateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse add_collateral: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.AddCollateral{Meta: meta, Index: j.Index, Amount: j.Amount}, nil
}

func parseRemoveCollateral(data []byte) (*event.RemoveCollateral, error) {
	var j collateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse remove_collateral: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.RemoveCollateral{Meta: meta, Index: j.Index, Amount: j.Amount}, nil
}

type increaseSizeJSON struct {
	metaJSON
	Index               uint64 `json:"index"`
	AddSizeUSD          uint64 `json:"add_size_usd"`
	AddCollateralAmount uint64 `json:"add_collateral_amount"`
}

func parseIncreaseSize(data []byte) (*event.IncreaseSize, error) {
	var j increaseSizeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse increase_size: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.IncreaseSize{
		Meta:                meta,
		Index:               j.Index,
		AddSizeUSD:          j.AddSizeUSD,
		AddCollateralAmount: j.AddCollateralAmount,
	}, nil
}

type decreaseSizeJSON struct {
	metaJSON
	Index         uint64 `json:"index"`
	RemoveSizeUSD uint64 `json:"remove_size_usd"`
}

func parseDecreaseSize(data []byte) (*event.DecreaseSize, error) {
	var j decreaseSizeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse decrease_size: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.DecreaseSize{Meta: meta, Index: j.Index, RemoveSizeUSD: j.RemoveSizeUSD}, nil
}

type openOptionJSON struct {
	metaJSON
	Index       uint64 `json:"index"`
	OptionType  string `json:"option_type"` // "call" or "put"
	Amount      uint64 `json:"amount"`
	StrikePrice uint64 `json:"strike_price"`
	Period      uint64 `json:"period"` // seconds from purchase to expiry
}

func parseOpenOption(data []byte) (*event.OpenOption, error) {
	var j openOptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse open_option: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	var optType state.OptionType
	switch j.OptionType {
	case "call":
		optType = state.OptionCall
	case "put":
		optType = state.OptionPut
	default:
		return nil, fmt.Errorf("unknown option_type %q", j.OptionType)
	}
	return &event.OpenOption{
		Meta:        meta,
		Index:       j.Index,
		OptionType:  optType,
		Amount:      j.Amount,
		StrikePrice: j.StrikePrice,
		Period:      j.Period,
	}, nil
}

type closeOptionJSON struct {
	metaJSON
	Index         uint64 `json:"index"`
	CloseQuantity uint64 `json:"close_quantity,omitempty"` // zero closes everything
}

func parseCloseOption(data []byte) (*event.CloseOption, error) {
	var j closeOptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse close_option: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.CloseOption{Meta: meta, Index: j.Index, CloseQuantity: j.CloseQuantity}, nil
}

func parseExerciseOption(data []byte) (*event.ExerciseOption, error) {
	var j indexOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse exercise_option: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.ExerciseOption{Meta: meta, Index: j.Index}, nil
}

func parseClaimOption(data []byte) (*event.ClaimOption, error) {
	var j indexOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse claim_option: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.ClaimOption{Meta: meta, Index: j.Index}, nil
}

type editOptionJSON struct {
	metaJSON
	Index       uint64  `json:"index"`
	NewStrike   *uint64 `json:"new_strike"` // absent keeps current terms
	NewExpiry   *int64  `json:"new_expiry"`
	NewQuantity *uint64 `json:"new_quantity"`
	TakeProfit  *uint64 `json:"take_profit"` // absent keeps, zero clears
	StopLoss    *uint64 `json:"stop_loss"`
}

func parseEditOption(data []byte) (*event.EditOption, error) {
	var j editOptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse edit_option: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.EditOption{
		Meta:        meta,
		Index:       j.Index,
		NewStrike:   j.NewStrike,
		NewExpiry:   j.NewExpiry,
		NewQuantity: j.NewQuantity,
		TakeProfit:  j.TakeProfit,
		StopLoss:    j.StopLoss,
	}, nil
}

type openFutureJSON struct {
	metaJSON
	Index                 uint64 `json:"index"`
	Side                  string `json:"side"`
	IsLimit               bool   `json:"is_limit"`
	SizeUSD               uint64 `json:"size_usd"`
	CollateralAmount      uint64 `json:"collateral_amount"`
	ExpiryTime            int64  `json:"expiry_time"` // unix seconds
	TriggerPrice          uint64 `json:"trigger_price,omitempty"`
	TriggerAboveThreshold bool   `json:"trigger_above_threshold,omitempty"`
	MaxSlippageBps        uint64 `json:"max_slippage_bps,omitempty"`
}

func parseOpenFuture(data []byte) (*event.OpenFuture, error) {
	var j openFutureJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse open_future: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	return &event.OpenFuture{
		Meta:                  meta,
		Index:                 j.Index,
		Side:                  side,
		IsLimit:               j.IsLimit,
		SizeUSD:               j.SizeUSD,
		CollateralAmount:      j.CollateralAmount,
		ExpiryTime:            j.ExpiryTime,
		TriggerPrice:          j.TriggerPrice,
		TriggerAboveThreshold: j.TriggerAboveThreshold,
		MaxSlippageBps:        j.MaxSlippageBps,
	}, nil
}

type closeFutureJSON struct {
	metaJSON
	Index           uint64 `json:"index"`
	ClosePercentage uint64 `json:"close_percentage"`
}

func parseCloseFuture(data []byte) (*event.CloseFuture, error) {
	var j closeFutureJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse close_future: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.CloseFuture{Meta: meta, Index: j.Index, ClosePercentage: j.ClosePercentage}, nil
}

func parseCancelFutureLimit(data []byte) (*event.CancelFutureLimit, error) {
	var j indexOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse cancel_future_limit: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.CancelFutureLimit{Meta: meta, Index: j.Index}, nil
}

func parseClaimFuture(data []byte) (*event.ClaimFuture, error) {
	var j indexOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse claim_future: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &event.ClaimFuture{Meta: meta, Index: j.Index}, nil
}

func parseTriggerTarget(s string) (event.TriggerTarget, error) {
	switch s {
	case "position":
		return event.TargetPosition, nil
	case "option":
		return event.TargetOption, nil
	default:
		return 0, fmt.Errorf("unknown trigger target %q", s)
	}
}

type setTriggerJSON struct {
	metaJSON
	Index          uint64 `json:"index"`
	Target         string `json:"target"` // "position" or "option"
	TakeProfit     bool   `json:"take_profit"`
	Price          uint64 `json:"price"`
	SizePercent    uint16 `json:"size_percent"` // bps of the record
	ReceiveInQuote bool   `json:"receive_in_quote,omitempty"`
}

func parseSetTrigger(data []byte) (*event.SetTrigger, error) {
	var j setTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse set_trigger: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	target, err := parseTriggerTarget(j.Target)
	if err != nil {
		return nil, err
	}
	return &event.SetTrigger{
		Meta:           meta,
		Index:          j.Index,
		Target:         target,
		TakeProfit:     j.TakeProfit,
		Price:          j.Price,
		SizePercent:    j.SizePercent,
		ReceiveInQuote: j.ReceiveInQuote,
	}, nil
}

type updateTriggerJSON struct {
	metaJSON
	Index          uint64  `json:"index"`
	Target         string  `json:"target"`
	TakeProfit     bool    `json:"take_profit"`
	Slot           int     `json:"slot"`
	NewPrice       *uint64 `json:"new_price"`
	NewSizePercent *uint16 `json:"new_size_percent"`
	NewReceiveIn   *bool   `json:"new_receive_in_quote"`
}

func parseUpdateTrigger(data []byte) (*event.UpdateTrigger, error) {
	var j updateTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse update_trigger: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	target, err := parseTriggerTarget(j.Target)
	if err != nil {
		return nil, err
	}
	return &event.UpdateTrigger{
		Meta:           meta,
		Index:          j.Index,
		Target:         target,
		TakeProfit:     j.TakeProfit,
		Slot:           j.Slot,
		NewPrice:       j.NewPrice,
		NewSizePercent: j.NewSizePercent,
		NewReceiveIn:   j.NewReceiveIn,
	}, nil
}

type removeTriggerJSON struct {
	metaJSON
	Index      uint64 `json:"index"`
	Target     string `json:"target"`
	TakeProfit bool   `json:"take_profit"`
	Slot       int    `json:"slot"`
}

func parseRemoveTrigger(data []byte) (*event.RemoveTrigger, error) {
	var j removeTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse remove_trigger: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	target, err := parseTriggerTarget(j.Target)
	if err != nil {
		return nil, err
	}
	return &event.RemoveTrigger{
		Meta:       meta,
		Index:      j.Index,
		Target:     target,
		TakeProfit: j.TakeProfit,
		Slot:       j.Slot,
	}, nil
}

type priceUpdateJSON struct {
	Asset          string `json:"asset"`
	Price          uint64 `json:"price"`
	Exponent       int32  `json:"exponent"`
	ConfidenceBps  uint32 `json:"confidence_bps"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"` // unix seconds
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price_update: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("price_update: missing asset")
	}
	if j.Price == 0 {
		return nil, fmt.Errorf("price_update: zero price")
	}
	return &event.PriceUpdate{
		Asset:          oracle.AssetID(j.Asset),
		Price:          j.Price,
		Exponent:       j.Exponent,
		ConfidenceBps:  j.ConfidenceBps,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}
