package state

import (
	"fmt"

	"github.com/google/uuid"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// ContractType tells which instrument a TP/SL book is attached to.
type ContractType uint8

const (
	ContractPerp ContractType = iota
	ContractOption
)

// MaxTriggerOrders is the fixed slot capacity per side.
const MaxTriggerOrders = 10

var (
	ErrOrderbookFull     = fmt.Errorf("orderbook full: all %d slots active", MaxTriggerOrders)
	ErrOrderSlotInactive = fmt.Errorf("order slot is not active")
	ErrOrderSlotIndex    = fmt.Errorf("order slot index out of range")
	ErrOrderSizePercent  = fmt.Errorf("order size percent must be in (0, 10000] bps")
)

// TriggerOrder is one TP or SL slot. SizePercent is bps of the position's
// size at execution time, not a fixed allocation, so active percents on a
// side may legitimately exceed 10_000.
type TriggerOrder struct {
	Price          uint64
	SizePercent    uint16 // bps, 1..10_000
	ReceiveInQuote bool   // payout asset choice on execution
	Active         bool
}

// TriggerBook holds up to ten take-profit and ten stop-loss orders for one
// position or option. Price validity against entry/liquidation/strike is the
// caller's job before insertion; the book only manages slots and counters.
type TriggerBook struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	Position uuid.UUID
	Contract ContractType

	TakeProfits [MaxTriggerOrders]TriggerOrder
	StopLosses  [MaxTriggerOrders]TriggerOrder

	ActiveTPCount  uint8
	ActiveSLCount  uint8
	TotalTPPercent uint16
	TotalSLPercent uint16

	// Audit trail: slot index of the last executed order per side
	// (MaxTriggerOrders = none yet) and the execution timestamp.
	LastExecutedTPIndex uint8
	LastExecutedSLIndex uint8
	LastExecutionTime   int64
}

// NewTriggerBook returns an empty book for a position.
func NewTriggerBook(owner, position uuid.UUID, contract ContractType) *TriggerBook {
	return &TriggerBook{
		ID:                  uuid.New(),
		Owner:               owner,
		Position:            position,
		Contract:            contract,
		LastExecutedTPIndex: MaxTriggerOrders,
		LastExecutedSLIndex: MaxTriggerOrders,
	}
}

func validateSizePercent(sizePercent uint16) error {
	if sizePercent == 0 || sizePercent > uint16(fpmath.FullBPS) {
		return ErrOrderSizePercent
	}
	return nil
}

func addOrder(orders *[MaxTriggerOrders]TriggerOrder, count *uint8, total *uint16, price uint64, sizePercent uint16, receiveInQuote bool) (int, error) {
	if *count >= MaxTriggerOrders {
		return 0, ErrOrderbookFull
	}
	if err := validateSizePercent(sizePercent); err != nil {
		return 0, err
	}
	for i := range orders {
		if orders[i].Active {
			continue
		}
		orders[i] = TriggerOrder{
			Price:          price,
			SizePercent:    sizePercent,
			ReceiveInQuote: receiveInQuote,
			Active:         true,
		}
		*count++
		*total += sizePercent
		return i, nil
	}
	return 0, ErrOrderbookFull
}

// AddTakeProfit inserts into the first free TP slot and returns its index.
func (b *TriggerBook) AddTakeProfit(price uint64, sizePercent uint16, receiveInQuote bool) (int, error) {
	return addOrder(&b.TakeProfits, &b.ActiveTPCount, &b.TotalTPPercent, price, sizePercent, receiveInQuote)
}

// AddStopLoss inserts into the first free SL slot and returns its index.
func (b *TriggerBook) AddStopLoss(price uint64, sizePercent uint16, receiveInQuote bool) (int, error) {
	return addOrder(&b.StopLosses, &b.ActiveSLCount, &b.TotalSLPercent, price, sizePercent, receiveInQuote)
}

func removeOrder(orders *[MaxTriggerOrders]TriggerOrder, count *uint8, total *uint16, index int) error {
	if index < 0 || index >= MaxTriggerOrders {
		return ErrOrderSlotIndex
	}
	order := &orders[index]
	if !order.Active {
		return ErrOrderSlotInactive
	}
	*total -= order.SizePercent
	*count--
	*order = TriggerOrder{}
	return nil
}

// RemoveTakeProfit clears an active TP slot.
func (b *TriggerBook) RemoveTakeProfit(index int) error {
	return removeOrder(&b.TakeProfits, &b.ActiveTPCount, &b.TotalTPPercent, index)
}

// RemoveStopLoss clears an active SL slot.
func (b *TriggerBook) RemoveStopLoss(index int) error {
	return removeOrder(&b.StopLosses, &b.ActiveSLCount, &b.TotalSLPercent, index)
}

func updateOrder(orders *[MaxTriggerOrders]TriggerOrder, total *uint16, index int, newPrice *uint64, newSizePercent *uint16, newReceiveInQuote *bool) error {
	if index < 0 || index >= MaxTriggerOrders {
		return ErrOrderSlotIndex
	}
	order := &orders[index]
	if !order.Active {
		return ErrOrderSlotInactive
	}
	if newPrice != nil {
		order.Price = *newPrice
	}
	if newSizePercent != nil {
		if err := validateSizePercent(*newSizePercent); err != nil {
			return err
		}
		*total = *total - order.SizePercent + *newSizePercent
		order.SizePercent = *newSizePercent
	}
	if newReceiveInQuote != nil {
		order.ReceiveInQuote = *newReceiveInQuote
	}
	return nil
}

// UpdateTakeProfit edits an active TP slot in place; nil fields are kept.
func (b *TriggerBook) UpdateTakeProfit(index int, newPrice *uint64, newSizePercent *uint16, newReceiveInQuote *bool) error {
	return updateOrder(&b.TakeProfits, &b.TotalTPPercent, index, newPrice, newSizePercent, newReceiveInQuote)
}

// UpdateStopLoss edits an active SL slot in place; nil fields are kept.
func (b *TriggerBook) UpdateStopLoss(index int, newPrice *uint64, newSizePercent *uint16, newReceiveInQuote *bool) error {
	return updateOrder(&b.StopLosses, &b.TotalSLPercent, index, newPrice, newSizePercent, newReceiveInQuote)
}

// MarkTPExecuted clears the slot and records the audit trail. The position
// close itself is the lifecycle engine's job, not the book's.
func (b *TriggerBook) MarkTPExecuted(index int, now int64) error {
	if err := removeOrder(&b.TakeProfits, &b.ActiveTPCount, &b.TotalTPPercent, index); err != nil {
		return err
	}
	b.LastExecutedTPIndex = uint8(index)
	b.LastExecutionTime = now
	return nil
}

// MarkSLExecuted clears the slot and records the audit trail.
func (b *TriggerBook) MarkSLExecuted(index int, now int64) error {
	if err := removeOrder(&b.StopLosses, &b.ActiveSLCount, &b.TotalSLPercent, index); err != nil {
		return err
	}
	b.LastExecutedSLIndex = uint8(index)
	b.LastExecutionTime = now
	return nil
}

// ClearAll wipes both sides, used when the parent position fully closes.
func (b *TriggerBook) ClearAll() {
	b.TakeProfits = [MaxTriggerOrders]TriggerOrder{}
	b.StopLosses = [MaxTriggerOrders]TriggerOrder{}
	b.ActiveTPCount = 0
	b.ActiveSLCount = 0
	b.TotalTPPercent = 0
	b.TotalSLPercent = 0
}
