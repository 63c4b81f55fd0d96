package core

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/event"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// Handlers bridge commands to engine transitions and keep the store
// consistent with the record lifecycle: new records are put, consumed
// records removed together with their trigger books.

func (p *Processor) position(c event.Command, owner uuid.UUID, index uint64) (*state.Position, ledger.RecordKey, error) {
	key := ledger.RecordKey{Owner: owner, Pool: c.PoolName(), Index: index}
	pos, err := p.store.Position(key)
	if err != nil {
		return nil, key, fmt.Errorf("position %d: %w", index, err)
	}
	return pos, key, nil
}

func (p *Processor) option(c event.Command, owner uuid.UUID, index uint64) (*state.Option, ledger.RecordKey, error) {
	key := ledger.RecordKey{Owner: owner, Pool: c.PoolName(), Index: index}
	opt, err := p.store.Option(key)
	if err != nil {
		return nil, key, fmt.Errorf("option %d: %w", index, err)
	}
	return opt, key, nil
}

func (p *Processor) future(c event.Command, owner uuid.UUID, index uint64) (*state.Future, ledger.RecordKey, error) {
	key := ledger.RecordKey{Owner: owner, Pool: c.PoolName(), Index: index}
	f, err := p.store.Future(key)
	if err != nil {
		return nil, key, fmt.Errorf("future %d: %w", index, err)
	}
	return f, key, nil
}

func (p *Processor) handleOpenPosition(c *event.OpenPosition) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, effects, err := p.eng.OpenPosition(pool, engine.OpenPositionParams{
		Owner:                 c.Owner,
		Index:                 c.Index,
		Side:                  c.Side,
		OrderType:             c.OrderType,
		SizeUSD:               c.SizeUSD,
		CollateralAmount:      c.CollateralAmount,
		TriggerPrice:          c.TriggerPrice,
		TriggerAboveThreshold: c.TriggerAboveThreshold,
		MaxSlippageBps:        c.MaxSlippageBps,
	}, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.PutPosition(pos)
	return effects, pos.ID, nil
}

func (p *Processor) handleClosePosition(c *event.ClosePosition) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, key, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.ClosePosition(pool, pos, p.store.Book(pos.ID), c.Owner, c.ClosePercentage, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if pos.SizeUSD == 0 {
		p.store.RemovePosition(key)
	}
	return effects, pos.ID, nil
}

func (p *Processor) handleCancelLimit(c *event.CancelLimit) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, key, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.CancelLimitOrder(pool, pos, c.Owner)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.RemovePosition(key)
	return effects, pos.ID, nil
}

func (p *Processor) handleAddCollateral(c *event.AddCollateral) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, _, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.AddCollateral(pool, pos, c.Owner, c.Amount, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return effects, pos.ID, nil
}

func (p *Processor) handleRemoveCollateral(c *event.RemoveCollateral) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, _, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.RemoveCollateral(pool, pos, c.Owner, c.Amount, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return effects, pos.ID, nil
}

func (p *Processor) handleIncreaseSize(c *event.IncreaseSize) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, _, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.IncreaseSize(pool, pos, c.Owner, c.AddSizeUSD, c.AddCollateralAmount, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return effects, pos.ID, nil
}

func (p *Processor) handleDecreaseSize(c *event.DecreaseSize) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	pos, key, err := p.position(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.DecreaseSize(pool, pos, p.store.Book(pos.ID), c.Owner, c.RemoveSizeUSD, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if pos.SizeUSD == 0 {
		p.store.RemovePosition(key)
	}
	return effects, pos.ID, nil
}

func (p *Processor) handleOpenOption(c *event.OpenOption) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	// Premiums are collected in the stable custody regardless of the
	// grant's backing asset.
	opt, effects, err := p.eng.OpenOption(pool, engine.OpenOptionParams{
		Owner:       c.Owner,
		Index:       c.Index,
		Type:        c.OptionType,
		Amount:      c.Amount,
		StrikePrice: c.StrikePrice,
		Period:      c.Period,
	}, pool.Stable, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.PutOption(opt)
	return effects, opt.ID, nil
}

func (p *Processor) handleCloseOption(c *event.CloseOption) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	opt, key, err := p.option(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	closeQuantity := c.CloseQuantity
	if closeQuantity == 0 {
		closeQuantity = opt.Quantity
	}
	premiumAsset, err := pool.CustodyForAsset(opt.PremiumAsset)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, closed, err := p.eng.CloseOption(pool, opt, premiumAsset, p.store.ClosedOption(opt.ID), c.Owner, closeQuantity, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if closed != nil {
		p.store.PutClosedOption(closed)
	}
	if !opt.Valid {
		// The audit sibling, if any, outlives the grant.
		p.store.RemoveOption(key)
	}
	return effects, opt.ID, nil
}

func (p *Processor) handleExerciseOption(c *event.ExerciseOption) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	opt, key, err := p.option(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.ExerciseOption(pool, opt, c.Owner, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.RemoveOption(key)
	return effects, opt.ID, nil
}

func (p *Processor) handleClaimOption(c *event.ClaimOption) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	opt, key, err := p.option(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.ClaimOption(pool, opt, c.Owner)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.RemoveOption(key)
	return effects, opt.ID, nil
}

func (p *Processor) handleEditOption(c *event.EditOption) ([]engine.Effect, uuid.UUID, error) {
	opt, _, err := p.option(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	var effects []engine.Effect
	if c.NewStrike != nil || c.NewExpiry != nil || c.NewQuantity != nil {
		pool, perr := p.pool(c.Pool)
		if perr != nil {
			return nil, uuid.Nil, perr
		}
		premiumAsset, perr := pool.CustodyForAsset(opt.PremiumAsset)
		if perr != nil {
			return nil, uuid.Nil, perr
		}
		effects, err = p.eng.EditOption(pool, opt, premiumAsset, c.Owner, engine.EditOptionParams{
			Strike:   c.NewStrike,
			Expiry:   c.NewExpiry,
			Quantity: c.NewQuantity,
		}, c.Timestamp)
		if err != nil {
			return nil, uuid.Nil, err
		}
	}
	if c.TakeProfit != nil || c.StopLoss != nil {
		if err := p.eng.SetOptionTriggers(opt, c.Owner, c.TakeProfit, c.StopLoss); err != nil {
			return nil, uuid.Nil, err
		}
	}
	return effects, opt.ID, nil
}

func (p *Processor) handleOpenFuture(c *event.OpenFuture) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	f, effects, err := p.eng.OpenFuture(pool, engine.OpenFutureParams{
		Owner:                 c.Owner,
		Index:                 c.Index,
		Side:                  c.Side,
		IsLimit:               c.IsLimit,
		SizeUSD:               c.SizeUSD,
		CollateralAmount:      c.CollateralAmount,
		ExpiryTime:            c.ExpiryTime,
		TriggerPrice:          c.TriggerPrice,
		TriggerAboveThreshold: c.TriggerAboveThreshold,
		MaxSlippageBps:        c.MaxSlippageBps,
	}, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.PutFuture(f)
	return effects, f.ID, nil
}

func (p *Processor) handleCloseFuture(c *event.CloseFuture) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	f, key, err := p.future(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.CloseFuture(pool, f, c.Owner, c.ClosePercentage, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if f.Status == state.FutureStatusSettled && f.Claimed {
		p.store.RemoveFuture(key)
	}
	return effects, f.ID, nil
}

func (p *Processor) handleCancelFutureLimit(c *event.CancelFutureLimit) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	f, key, err := p.future(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.CancelFutureLimitOrder(pool, f, c.Owner)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.RemoveFuture(key)
	return effects, f.ID, nil
}

func (p *Processor) handleClaimFuture(c *event.ClaimFuture) ([]engine.Effect, uuid.UUID, error) {
	pool, err := p.pool(c.Pool)
	if err != nil {
		return nil, uuid.Nil, err
	}
	f, key, err := p.future(c, c.Owner, c.Index)
	if err != nil {
		return nil, uuid.Nil, err
	}
	effects, err := p.eng.ClaimFuture(pool, f, c.Owner, c.Timestamp)
	if err != nil {
		return nil, uuid.Nil, err
	}
	p.store.RemoveFuture(key)
	return effects, f.ID, nil
}

func (p *Processor) handleSetTrigger(c *event.SetTrigger) ([]engine.Effect, uuid.UUID, error) {
	switch c.Target {
	case event.TargetPosition:
		pos, _, err := p.position(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		book := p.store.Book(pos.ID)
		if c.TakeProfit {
			book, _, err = p.eng.AddPositionTakeProfit(pos, book, c.Owner, c.Price, c.SizePercent, c.ReceiveInQuote)
		} else {
			book, _, err = p.eng.AddPositionStopLoss(pos, book, c.Owner, c.Price, c.SizePercent, c.ReceiveInQuote)
		}
		if err != nil {
			return nil, uuid.Nil, err
		}
		p.store.PutBook(book)
		return nil, pos.ID, nil

	case event.TargetOption:
		opt, _, err := p.option(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		book := p.store.Book(opt.ID)
		if c.TakeProfit {
			book, _, err = p.eng.AddOptionTakeProfit(opt, book, c.Owner, c.Price, c.SizePercent, c.ReceiveInQuote)
		} else {
			book, _, err = p.eng.AddOptionStopLoss(opt, book, c.Owner, c.Price, c.SizePercent, c.ReceiveInQuote)
		}
		if err != nil {
			return nil, uuid.Nil, err
		}
		p.store.PutBook(book)
		return nil, opt.ID, nil

	default:
		return nil, uuid.Nil, fmt.Errorf("unknown trigger target %d", c.Target)
	}
}

func (p *Processor) handleUpdateTrigger(c *event.UpdateTrigger) ([]engine.Effect, uuid.UUID, error) {
	switch c.Target {
	case event.TargetPosition:
		pos, _, err := p.position(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		book := p.store.Book(pos.ID)
		if book == nil {
			return nil, uuid.Nil, state.ErrOrderSlotInactive
		}
		if err := p.eng.UpdateTriggerOrder(pos, book, c.Owner, c.TakeProfit, c.Slot, c.NewPrice, c.NewSizePercent, c.NewReceiveIn); err != nil {
			return nil, uuid.Nil, err
		}
		return nil, pos.ID, nil

	case event.TargetOption:
		opt, _, err := p.option(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		book := p.store.Book(opt.ID)
		if book == nil {
			return nil, uuid.Nil, state.ErrOrderSlotInactive
		}
		if err := p.eng.UpdateOptionTriggerOrder(opt, book, c.Owner, c.TakeProfit, c.Slot, c.NewPrice, c.NewSizePercent, c.NewReceiveIn); err != nil {
			return nil, uuid.Nil, err
		}
		return nil, opt.ID, nil

	default:
		return nil, uuid.Nil, fmt.Errorf("unknown trigger target %d", c.Target)
	}
}

func (p *Processor) handleRemoveTrigger(c *event.RemoveTrigger) ([]engine.Effect, uuid.UUID, error) {
	var record uuid.UUID
	switch c.Target {
	case event.TargetPosition:
		pos, _, err := p.position(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		record = pos.ID
	case event.TargetOption:
		opt, _, err := p.option(c, c.Owner, c.Index)
		if err != nil {
			return nil, uuid.Nil, err
		}
		record = opt.ID
	default:
		return nil, uuid.Nil, fmt.Errorf("unknown trigger target %d", c.Target)
	}

	book := p.store.Book(record)
	if book == nil {
		return nil, uuid.Nil, state.ErrOrderSlotInactive
	}
	if err := p.eng.RemoveTriggerOrder(book, c.Owner, c.TakeProfit, c.Slot); err != nil {
		return nil, uuid.Nil, err
	}
	return nil, record, nil
}
