// Package core is the single-threaded command processor. It owns the
// authoritative in-memory state: one goroutine pulls commands off the intake
// channel, dispatches them to the engine, books the resulting effects as
// journal batches, and chains a state hash over every applied command.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/event"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// Output is what leaves the core for every applied command: the envelope for
// the event log, and the journal batch when the command moved value. Batch
// is nil for state-only commands such as price updates.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// Processor applies commands one at a time. Not safe for concurrent use;
// run exactly one Processor goroutine per deployment.
type Processor struct {
	sequence uint64

	store   *ledger.Store
	eng     *engine.Engine
	feed    *oracle.FeedOracle
	hasher  *StateHasher
	tracker *ledger.BalanceTracker

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	log     zerolog.Logger
	metrics *observability.Metrics

	// persistChan gets a blocking send so no applied command is lost;
	// publishChan is best-effort and drops when full.
	persistChan chan<- Output
	publishChan chan<- Output
}

// Config wires a Processor. Feed, Metrics, and the channels may be nil.
type Config struct {
	StartSequence uint64
	Store         *ledger.Store
	Engine        *engine.Engine
	Feed          *oracle.FeedOracle
	DBChecker     DBIdempotencyChecker
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
	PersistChan   chan<- Output
	PublishChan   chan<- Output
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{
		sequence:          cfg.StartSequence,
		store:             cfg.Store,
		eng:               cfg.Engine,
		feed:              cfg.Feed,
		hasher:            NewStateHasher(),
		tracker:           ledger.NewBalanceTracker(),
		idempotency:       NewIdempotencyChecker(defaultIdempotencyCapacity, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		log:               cfg.Logger.With().Str("component", "core").Logger(),
		metrics:           cfg.Metrics,
		persistChan:       cfg.PersistChan,
		publishChan:       cfg.PublishChan,
	}
}

const defaultIdempotencyCapacity = 1_000_000

// Process runs one command through the full pipeline: dedup, ordering,
// dispatch, booking, hashing, emit.
func (p *Processor) Process(cmd event.Command) error {
	start := time.Now()
	kind := cmd.Type().String()
	key := cmd.IdempotencyKey()

	isDuplicate := p.idempotency.IsDuplicate(kind, key)

	if price, ok := cmd.(*event.PriceUpdate); ok {
		// Price gaps are tolerated: a missed tick is superseded by the
		// next one.
		if err := p.sequenceValidator.ValidatePriceSequence(string(price.Asset), price.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := p.sequenceValidator.ValidateSequence(p.partition(cmd), cmd.SourceSequence(), isDuplicate); err != nil {
			return fmt.Errorf("sequence validation: %w", err)
		}
	}

	if isDuplicate {
		return nil
	}

	effects, record, err := p.dispatch(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	p.sequence++
	batch := ledger.BatchFromEffects(record, p.sequence, cmd.EventTimestamp(), effects)
	if batch != nil {
		if err := batch.Validate(); err != nil {
			// A malformed batch means the engine produced effects that
			// violate the booking rules; state is already mutated, so
			// continuing would desynchronize the ledger.
			panic(fmt.Sprintf("FATAL: unbookable batch at seq %d: %v", p.sequence, err))
		}
		if err := p.tracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: balance application failed at seq %d: %v", p.sequence, err))
		}
	}

	digest := p.computeStateDigest(batch)
	envelope := &event.Envelope{
		Sequence:       p.sequence,
		IdempotencyKey: key,
		Type:           cmd.Type(),
		Pool:           cmd.PoolName(),
		Timestamp:      cmd.EventTimestamp(),
		SourceSequence: cmd.SourceSequence(),
		PrevHash:       p.hasher.PrevHash(),
	}
	envelope.StateHash = p.hasher.ComputeHash(p.sequence, digest)

	p.emit(Output{Envelope: envelope, Batch: batch})
	p.idempotency.MarkProcessed(kind, key)

	if p.metrics != nil {
		p.metrics.TransitionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	return nil
}

// Sequence returns the last assigned global sequence.
func (p *Processor) Sequence() uint64 { return p.sequence }

// StateHash returns the current chain tip.
func (p *Processor) StateHash() [32]byte { return p.hasher.PrevHash() }

// Tracker exposes the balance projection for the query layer.
func (p *Processor) Tracker() *ledger.BalanceTracker { return p.tracker }

// partition keys user commands by pool so one pool's backlog does not
// stall another's stream; commands without a pool share a global lane.
func (p *Processor) partition(cmd event.Command) string {
	if pool := cmd.PoolName(); pool != "" {
		return fmt.Sprintf("pool:%s", pool)
	}
	return "global"
}

func (p *Processor) emit(out Output) {
	if p.persistChan != nil {
		p.persistChan <- out
	}
	if p.publishChan != nil {
		select {
		case p.publishChan <- out:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

// computeStateDigest folds the accounts a batch touched, with their
// post-application net balances, into canonical bytes. Journals are already
// in deterministic order, so iteration order is stable.
func (p *Processor) computeStateDigest(batch *ledger.Batch) []byte {
	if batch == nil {
		return nil
	}
	digest := make([]byte, 0, len(batch.Journals)*64)
	for _, j := range batch.Journals {
		digest = append(digest, j.Account[:]...)
		digest = append(digest, byte(j.Type))
		digest = append(digest, []byte(j.Asset)...)
		if j.Type == engine.EffectReclaim {
			continue
		}
		digest = appendInt64LE(digest, p.tracker.UserNet(j.Account, j.Asset))
		digest = appendInt64LE(digest, p.tracker.PoolNet(j.Asset))
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// dispatch routes a command to the engine and returns the effects plus the
// record the batch is attributed to.
func (p *Processor) dispatch(cmd event.Command) ([]engine.Effect, uuid.UUID, error) {
	switch c := cmd.(type) {
	case *event.PriceUpdate:
		return nil, uuid.Nil, p.applyPriceUpdate(c)

	case *event.OpenPosition:
		return p.handleOpenPosition(c)
	case *event.ClosePosition:
		return p.handleClosePosition(c)
	case *event.CancelLimit:
		return p.handleCancelLimit(c)
	case *event.AddCollateral:
		return p.handleAddCollateral(c)
	case *event.RemoveCollateral:
		return p.handleRemoveCollateral(c)
	case *event.IncreaseSize:
		return p.handleIncreaseSize(c)
	case *event.DecreaseSize:
		return p.handleDecreaseSize(c)

	case *event.OpenOption:
		return p.handleOpenOption(c)
	case *event.CloseOption:
		return p.handleCloseOption(c)
	case *event.ExerciseOption:
		return p.handleExerciseOption(c)
	case *event.ClaimOption:
		return p.handleClaimOption(c)
	case *event.EditOption:
		return p.handleEditOption(c)

	case *event.OpenFuture:
		return p.handleOpenFuture(c)
	case *event.CloseFuture:
		return p.handleCloseFuture(c)
	case *event.CancelFutureLimit:
		return p.handleCancelFutureLimit(c)
	case *event.ClaimFuture:
		return p.handleClaimFuture(c)

	case *event.SetTrigger:
		return p.handleSetTrigger(c)
	case *event.UpdateTrigger:
		return p.handleUpdateTrigger(c)
	case *event.RemoveTrigger:
		return p.handleRemoveTrigger(c)

	default:
		return nil, uuid.Nil, fmt.Errorf("unknown command type %T", cmd)
	}
}

func (p *Processor) applyPriceUpdate(c *event.PriceUpdate) error {
	if p.feed == nil {
		return fmt.Errorf("no price feed configured")
	}
	p.feed.Update(c.Asset, c.Quote(), c.ConfidenceBps, c.PriceTimestamp, c.PriceSequence)
	return nil
}

func (p *Processor) pool(name string) (*state.Pool, error) {
	pool, err := p.store.Pool(name)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}
	return pool, nil
}
