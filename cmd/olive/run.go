package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/config"
	"github.com/Aurora0917/olive-sc-sub000/internal/core"
	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/event"
	"github.com/Aurora0917/olive-sc-sub000/internal/ingestion"
	"github.com/Aurora0917/olive-sc-sub000/internal/keeper"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/persistence"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
	"github.com/Aurora0917/olive-sc-sub000/internal/projection"
	"github.com/Aurora0917/olive-sc-sub000/internal/query"
	"github.com/Aurora0917/olive-sc-sub000/internal/server"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

func runService(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := observability.NewLoggerWithLevel("olive", level)
	log.Info().Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keeperIdentity, err := uuid.Parse(cfg.Keeper.Identity)
	if err != nil {
		return fmt.Errorf("keeper.identity: %w", err)
	}

	// Postgres.
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// Channels. Persist blocks (durability backpressures the core); the
	// publish and projection paths are lossy by design.
	persistCh := make(chan core.Output, cfg.Core.PersistChanSize)
	outCh := make(chan core.Output, cfg.Core.PublishChanSize)
	pubCh := make(chan core.Output, cfg.Core.PublishChanSize)
	projCh := make(chan core.Output, cfg.Core.ProjectionChanSize)

	// Core collaborators.
	store := ledger.NewStore()
	feed := oracle.NewFeedOracle()
	pricingEngine, err := pricing.NewEngine(pricing.DefaultParams())
	if err != nil {
		return fmt.Errorf("pricing engine: %w", err)
	}
	eng := engine.New(pricingEngine, feed, log, metrics)

	proc := core.NewProcessor(core.Config{
		Store:       store,
		Engine:      eng,
		Feed:        feed,
		DBChecker:   dbChecker,
		Logger:      log,
		Metrics:     metrics,
		PersistChan: persistCh,
		PublishChan: outCh,
	})

	// Recovery: restore the latest verified snapshot, warn when the
	// envelope log runs past it (those commands must be re-published from
	// the command stream; the restored sequence cursors let them reapply).
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	keeperStartSeq := uint64(0)
	if snap != nil {
		if err := proc.Restore(toCoreSnapshot(snap)); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		keeperStartSeq = snap.KeeperSequence
	} else {
		bootstrapPool(store, cfg.Pool)
		log.Info().Str("pool", cfg.Pool.Name).Msg("cold start, pool bootstrapped")
	}

	head, err := snapMgr.LatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("envelope head: %w", err)
	}
	if head > proc.Sequence() {
		log.Warn().
			Uint64("snapshot_sequence", proc.Sequence()).
			Uint64("log_head", head).
			Msg("envelope log runs past the snapshot; re-publish the intervening commands to catch up")
	}

	// Warm the dedup LRU from the newest envelope rows so replays of
	// recent commands never hit the cold path.
	if keys, err := dbChecker.RecentKeys(ctx, 100_000); err != nil {
		log.Warn().Err(err).Msg("idempotency warmup skipped")
	} else {
		proc.WarmIdempotency(keys)
	}

	// NATS.
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawCh := make(chan ingestion.RawCommand, cfg.Core.CommandChanSize)
	subscriber := ingestion.NewSubscriber(js, rawCh, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	publisher := ingestion.NewPublisher(js, pubCh, log, metrics)

	// Downstream workers. They stop on channel close, not ctx, so nothing
	// buffered is lost during shutdown.
	persistWorker := persistence.NewWorker(db, persistCh, cfg.Core.PersistBatchSize, cfg.Core.PersistFlushTimeout, log, metrics)
	projWorker := projection.NewWorker(db, projCh, log)
	rateRecorder := projection.NewRateRecorder(db, log)

	fanOut := func(out core.Output) {
		select {
		case pubCh <- out:
		default:
			metrics.PublishDrops.Inc()
		}
		select {
		case projCh <- out:
		default:
			// Lossy by design; Rebuild repairs the projection.
		}
	}

	kpr := keeper.New(keeper.Config{
		Store:    store,
		Engine:   eng,
		Pricing:  pricingEngine,
		Oracle:   feed,
		Logger:   log,
		Metrics:  metrics,
		Identity: keeperIdentity,
		Interval: cfg.Keeper.Interval,
		Sink: func(b *ledger.Batch) {
			out := core.Output{Batch: b}
			persistCh <- out
			fanOut(out)
		},
		Rates:         rateRecorder.Sink(),
		StartSequence: keeperStartSeq,
	})

	querySvc := query.NewService(store, proc.Tracker(), feed, pricingEngine, db, log, metrics)
	httpSrv := server.NewServer(cfg.Server.HTTPAddr, querySvc, health, log)

	// Goroutines.
	errCh := make(chan error, 8)
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(context.Background()); err != nil {
			errCh <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := projWorker.Run(context.Background()); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("projection worker: %w", err)
		}
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := publisher.Run(context.Background()); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("publisher: %w", err)
		}
	}()
	go func() {
		if err := httpSrv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		if err := kpr.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("keeper: %w", err)
		}
	}()

	// Bridge: fan the core's publish-side outputs to publisher and
	// projection without ever backpressuring the core.
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		for out := range outCh {
			fanOut(out)
		}
	}()

	// Parse loop: raw NATS messages to typed commands. Acks after the
	// channel send so backpressure propagates to JetStream instead of
	// AckWait expiring mid-queue. Malformed input is acked and dropped.
	typedCh := make(chan event.Command, cfg.Core.CommandChanSize)
	go func() {
		defer close(typedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawCh:
				if !ok {
					return
				}
				cmd, err := ingestion.ParseRawCommand(raw, raw.Kind)
				if err != nil {
					log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
					raw.AckFunc()
					continue
				}
				select {
				case typedCh <- cmd:
					raw.AckFunc()
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	health.SetReady(true)
	log.Info().Uint64("sequence", proc.Sequence()).Str("http", cfg.Server.HTTPAddr).Msg("ready")

	// Core loop. Owns the processor: command processing and snapshots both
	// happen here, so the single-writer invariant holds.
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		runCore(ctx, cfg, log, proc, kpr, snapMgr, db, typedCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed, shutting down")
		stop()
	}

	// Orderly drain: stop intake, let the core and keeper finish (a sweep
	// in flight still feeds the persist channel), then close the worker
	// channels so buffered outputs flush.
	subscriber.Stop()
	<-coreDone
	<-keeperDone
	close(outCh)
	<-bridgeDone
	close(persistCh)
	close(projCh)
	close(pubCh)
	workers.Wait()

	log.Info().Msg("shutdown complete")
	return nil
}

// runCore drains typed commands into the processor and takes periodic and
// final snapshots.
func runCore(
	ctx context.Context,
	cfg *config.Config,
	log zerolog.Logger,
	proc *core.Processor,
	kpr *keeper.Keeper,
	snapMgr *persistence.SnapshotManager,
	db *sql.DB,
	typedCh <-chan event.Command,
) {
	lastSnapshot := proc.Sequence()

	takeSnapshot := func() {
		snap := fromCoreSnapshot(proc.Snapshot(), kpr.Sequence())
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := saveAndVerify(saveCtx, snapMgr, db, snap); err != nil {
			log.Error().Err(err).Uint64("sequence", snap.Sequence).Msg("snapshot failed")
			return
		}
		lastSnapshot = snap.Sequence
		log.Info().Uint64("sequence", snap.Sequence).Msg("snapshot saved")
	}

	for {
		select {
		case <-ctx.Done():
			takeSnapshot()
			return
		case cmd, ok := <-typedCh:
			if !ok {
				takeSnapshot()
				return
			}
			if err := proc.Process(cmd); err != nil {
				// Rejections (dedup, gaps, validation) are normal flow;
				// the command was already acked upstream.
				log.Warn().Err(err).Str("type", cmd.Type().String()).Msg("command rejected")
			}
			if cfg.Core.SnapshotInterval > 0 && proc.Sequence()-lastSnapshot >= cfg.Core.SnapshotInterval {
				takeSnapshot()
			}
		}
	}
}

// saveAndVerify persists a snapshot and marks it verified once its state
// hash matches the envelope the log recorded at that sequence. A snapshot
// taken before any command stays unverified; there is nothing to check it
// against.
func saveAndVerify(ctx context.Context, snapMgr *persistence.SnapshotManager, db *sql.DB, snap *persistence.SnapshotData) error {
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if snap.Sequence == 0 {
		return nil
	}

	var logged []byte
	err := db.QueryRowContext(ctx,
		`SELECT state_hash FROM olive.envelopes WHERE sequence = $1`, snap.Sequence,
	).Scan(&logged)
	if err != nil {
		// The persist worker may still be flushing this sequence; the
		// snapshot stays unverified and the next one retries.
		return nil
	}
	if len(logged) != len(snap.StateHash) {
		return fmt.Errorf("state hash length mismatch at sequence %d", snap.Sequence)
	}
	for i := range logged {
		if logged[i] != snap.StateHash[i] {
			return fmt.Errorf("state hash mismatch at sequence %d", snap.Sequence)
		}
	}
	return snapMgr.MarkVerified(ctx, snap.Sequence)
}

func bootstrapPool(store *ledger.Store, cfg config.PoolConfig) {
	store.PutPool(&state.Pool{
		Name: cfg.Name,
		Underlying: &state.Custody{
			Asset:      oracle.AssetID(cfg.UnderlyingAsset),
			Decimals:   cfg.UnderlyingDecimals,
			Class:      pricing.AssetVolatile,
			TokenOwned: cfg.UnderlyingOwned,
		},
		Stable: &state.Custody{
			Asset:      oracle.AssetID(cfg.StableAsset),
			Decimals:   cfg.StableDecimals,
			Class:      pricing.AssetStable,
			TokenOwned: cfg.StableOwned,
		},
	})
}

func toCoreSnapshot(snap *persistence.SnapshotData) *core.SnapshotState {
	out := &core.SnapshotState{
		Sequence:        snap.Sequence,
		Pools:           snap.Pools,
		Positions:       snap.Positions,
		Options:         snap.Options,
		Futures:         snap.Futures,
		Books:           snap.Books,
		ClosedOptions:   snap.ClosedOptions,
		SequenceState:   snap.SequenceState,
		UserBalances:    snap.UserBalances,
		PoolBalances:    snap.PoolBalances,
		Reclaims:        snap.Reclaims,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(out.StateHash[:], snap.StateHash)
	return out
}

func fromCoreSnapshot(snap *core.SnapshotState, keeperSeq uint64) *persistence.SnapshotData {
	return &persistence.SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Pools:           snap.Pools,
		Positions:       snap.Positions,
		Options:         snap.Options,
		Futures:         snap.Futures,
		Books:           snap.Books,
		ClosedOptions:   snap.ClosedOptions,
		SequenceState:   snap.SequenceState,
		UserBalances:    snap.UserBalances,
		PoolBalances:    snap.PoolBalances,
		Reclaims:        snap.Reclaims,
		KeeperSequence:  keeperSeq,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
}
