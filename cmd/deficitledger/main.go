// Command deficitledger runs the deficit ledger settlement service: NATS
// ingestion of lending lifecycle events, the single-writer settlement core,
// Postgres persistence and projections, and the HTTP controller/query API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"DeficitLedger/internal/config"
	"DeficitLedger/internal/core"
	"DeficitLedger/internal/event"
	"DeficitLedger/internal/exchange"
	"DeficitLedger/internal/ingestion"
	"DeficitLedger/internal/ledger"
	"DeficitLedger/internal/loan"
	"DeficitLedger/internal/observability"
	"DeficitLedger/internal/persistence"
	"DeficitLedger/internal/pool"
	"DeficitLedger/internal/projection"
	"DeficitLedger/internal/query"
	"DeficitLedger/internal/server"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "deficitledger",
		Short:         "Off-chain settlement engine for the lending protocol's loss-absorption layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (optional)")
	rootCmd.Flags().String("postgres_dsn", "", "Postgres connection string")
	rootCmd.Flags().String("nats_url", "", "NATS server URL")
	rootCmd.Flags().String("http_addr", "", "HTTP API listen address")
	rootCmd.Flags().String("metrics_addr", "", "Prometheus metrics listen address")
	rootCmd.Flags().String("log_level", "", "log level (debug|info|warn|error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("deficitledger", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---
	db, err := openDatabase(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("migrations applied")

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	if err := dbChecker.CreateIdempotencyIndex(); err != nil {
		return fmt.Errorf("create idempotency index: %w", err)
	}

	// --- Recovery: load snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)

	startSequence := int64(0)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// Bridge channels keep persistence/projection decoupled from core types
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, 4096)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Settlement core ---
	swapAdapter := exchange.NewHTTPAdapter(cfg.SwapServiceURL, cfg.SwapTimeout)

	settlementCore := core.NewSettlementCore(
		startSequence,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		cfg.IdempotencyLRUCapacity,
		swapAdapter,
		cfg.LedgerAccount,
		cfg.SwapTimeout,
		metrics,
	)

	if snap != nil {
		state, err := stateFromSnapshotData(snap)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		settlementCore.RestoreFromSnapshot(state)

		if len(snap.IdempotencyKeys) > 0 {
			logger.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warming idempotency LRU from snapshot")
			settlementCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	replayStart := time.Now()
	replayCount, lastHash, err := replayEventsFromLog(ctx, snapMgr, settlementCore, startSequence)
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if replayCount > 0 {
		metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
		logger.Info().
			Int64("events", replayCount).
			Int64("sequence", settlementCore.GetSequence()).
			Dur("took", time.Since(replayStart)).
			Msg("replayed events from log")
	}

	// The recomputed chain tip must match the stored one exactly
	var wantHash [32]byte
	switch {
	case replayCount > 0:
		copy(wantHash[:], lastHash)
	case snap != nil:
		copy(wantHash[:], snap.StateHash)
	}
	if (replayCount > 0 || snap != nil) && settlementCore.GetStateHash() != wantHash {
		return fmt.Errorf("state hash mismatch after recovery: want %x, got %x",
			wantHash, settlementCore.GetStateHash())
	}
	if replayCount > 0 || snap != nil {
		logger.Info().Msg("state hash verified after recovery")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.NATSURL).Msg("nats connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	publisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(
		db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	projectionWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)

	commands := make(chan core.Command, 256)
	submitter := core.NewSubmitter(commands)

	queryService := query.NewQueryService(db)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, &server.HTTPServerDeps{
		Submitter:       submitter,
		QueryService:    queryService,
		DB:              db,
		ControllerToken: cfg.ControllerToken,
		HealthChecker:   healthChecker,
		Metrics:         metrics,
		Logger:          logger.With().Str("component", "http").Logger(),
	})

	errChan := make(chan error, 8)
	var wg sync.WaitGroup

	runWorker := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	coreDone := make(chan struct{})
	go func() {
		settlementCore.Run(ctx, commands)
		close(coreDone)
	}()

	runWorker("persistence worker", persistWorker.Run)
	runWorker("projection worker", projectionWorker.Run)
	runWorker("outbound publisher", publisher.Run)
	runWorker("http server", httpServer.Start)
	runWorker("metrics server", func(ctx context.Context) error {
		return runMetricsServer(ctx, cfg.MetricsAddr, logger)
	})

	wg.Add(3)
	go func() {
		defer wg.Done()
		bridgePersistOutputs(ctx, persistCoreChan, persistWorkerChan, publishChan, metrics)
	}()
	go func() {
		defer wg.Done()
		bridgeProjectionOutputs(ctx, projectionCoreChan, projectionWorkerChan, metrics)
	}()
	go func() {
		defer wg.Done()
		runIngestionLoop(ctx, rawEventChan, submitter, logger.With().Str("component", "ingest").Logger(), metrics)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runPeriodicSnapshots(ctx, submitter, snapMgr, cfg.SnapshotInterval, startSequence-1,
			logger.With().Str("component", "snapshot").Logger(), metrics)
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Int64("sequence", settlementCore.GetSequence()).
		Msg("deficit ledger ready")

	// --- Shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	subscriber.Stop()

	// Final snapshot through the command loop, while the core still runs
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if state, err := submitter.Snapshot(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("final snapshot request failed")
	} else if state.Sequence >= 0 {
		if err := saveSnapshot(shutCtx, snapMgr, state, metrics); err != nil {
			logger.Warn().Err(err).Msg("final snapshot save failed")
		} else {
			logger.Info().Int64("sequence", state.Sequence).Msg("final snapshot saved")
		}
	}
	shutCancel()

	cancel()
	<-coreDone

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("shutdown timed out waiting for workers")
	}

	logger.Info().Msg("deficit ledger stopped")
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// --- Core output bridging ---

// bridgePersistOutputs converts core outputs into persistence rows and feeds
// the persistence worker. The send is blocking: persistence falling behind
// stalls the core rather than losing events. Persisted events are also
// offered to the outbound publisher, best-effort.
func bridgePersistOutputs(
	ctx context.Context,
	in <-chan core.CoreOutput,
	out chan<- persistence.CoreOutput,
	publish chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}
			env := output.Envelope

			row := persistence.EventRow{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				LoanID:         env.LoanID,
				Payload:        env.Payload,
				StateHash:      env.StateHash[:],
				PrevHash:       env.PrevHash[:],
				Timestamp:      env.Timestamp,
				SourceSequence: env.SourceSequence,
			}

			var journals []persistence.JournalRow
			if output.Batch != nil {
				journals = make([]persistence.JournalRow, 0, len(output.Batch.Journals))
				for _, j := range output.Batch.Journals {
					journals = append(journals, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			select {
			case out <- persistence.CoreOutput{EventRow: row, JournalRows: journals}:
			case <-ctx.Done():
				return
			}

			select {
			case publish <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				LoanID:         env.LoanID,
				Payload:        env.Payload,
				StateHash:      env.StateHash[:],
				Timestamp:      env.Timestamp,
			}:
			default:
				// Downstream consumers can catch up from the event log
			}

			if metrics != nil {
				metrics.SetChannelMetrics("persist", len(out), cap(out))
			}
		}
	}
}

// bridgeProjectionOutputs converts core outputs for the projection worker.
// Drops on a full channel; projections rebuild from the event log.
func bridgeProjectionOutputs(
	ctx context.Context,
	in <-chan core.CoreOutput,
	out chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}
			env := output.Envelope

			var entries []projection.JournalEntry
			if output.Batch != nil {
				entries = make([]projection.JournalEntry, 0, len(output.Batch.Journals))
				for _, j := range output.Batch.Journals {
					entries = append(entries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
					})
				}
			}

			p := projection.ProjectionOutput{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				LoanID:         env.LoanID,
				JournalEntries: entries,
				Settlement:     settlementEntryFromRecord(output.Settlement),
				Timestamp:      env.Timestamp.UnixMicro(),
			}

			select {
			case out <- p:
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("all").Inc()
				}
			}
		}
	}
}

func settlementEntryFromRecord(rec *event.SettlementRecord) *projection.SettlementEntry {
	if rec == nil {
		return nil
	}

	holder := ""
	if rec.Holder != uuid.Nil {
		holder = rec.Holder.String()
	}

	return &projection.SettlementEntry{
		Kind:             rec.Kind.String(),
		LoanID:           rec.Loan.String(),
		PoolID:           rec.Pool.String(),
		Asset:            rec.Asset,
		Owed:             rec.Owed,
		Paid:             rec.Paid,
		Shortfall:        rec.Shortfall,
		Burned:           rec.Burned,
		Redeemed:         rec.Redeemed,
		Holder:           holder,
		Amount:           rec.Amount,
		ClaimOutstanding: rec.ClaimOutstanding,
		ClaimSupply:      rec.ClaimSupply,
		PoolDeficit:      rec.PoolDeficit,
		Timestamp:        rec.Timestamp,
	}
}

// --- Ingestion ---

// runIngestionLoop drains raw NATS events, resolves each subject to its event
// type, parses, and submits through the same command channel the HTTP
// controller uses, so all writers serialize through one loop. Messages are
// acked after the core's verdict; rejections are final and also acked, since
// redelivering a rejected event can never change the outcome.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	submitter *core.Submitter,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) {
	prefixes := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefixes[strings.TrimSuffix(sc.Subject, ".>")] = sc.EventType
	}

	resolve := func(subject string) string {
		best, bestLen := "", -1
		for prefix, et := range prefixes {
			if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
				best, bestLen = et, len(prefix)
			}
		}
		return best
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := resolve(raw.Subject)
			if eventType == "" {
				logger.Warn().Str("subject", raw.Subject).Msg("no event type for subject")
				raw.AckFunc()
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable event")
				raw.AckFunc()
				continue
			}

			if err := submitter.Submit(ctx, evt); err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("idempotency_key", evt.IdempotencyKey()).
					Msg("event rejected")
			}

			if metrics != nil {
				metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(raw.Timestamp).Seconds())
			}
			raw.AckFunc()
		}
	}
}

// --- Snapshots ---

// runPeriodicSnapshots takes a snapshot whenever the persisted head has
// advanced snapshotInterval sequences past the last snapshot. State capture
// goes through the command loop so it never races event processing.
func runPeriodicSnapshots(
	ctx context.Context,
	submitter *core.Submitter,
	snapMgr *persistence.SnapshotManager,
	snapshotInterval int64,
	lastSnapshotSeq int64,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := snapMgr.GetLatestSequence(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("head sequence lookup failed")
				continue
			}
			if head-lastSnapshotSeq < snapshotInterval {
				continue
			}

			state, err := submitter.Snapshot(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("snapshot request failed")
				continue
			}

			start := time.Now()
			if err := saveSnapshot(ctx, snapMgr, state, metrics); err != nil {
				logger.Error().Err(err).Msg("snapshot save failed")
				continue
			}

			lastSnapshotSeq = state.Sequence
			logger.Info().
				Int64("sequence", state.Sequence).
				Dur("took", time.Since(start)).
				Msg("snapshot saved")
		}
	}
}

func saveSnapshot(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	state *core.SnapshotState,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	data := snapshotDataFromState(state)
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// The snapshot came from the core's own state, whose hash chain is
	// anchored in the event log
	if err := snapMgr.MarkVerified(ctx, state.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return nil
}

// --- Replay ---

// replayEventsFromLog re-applies all events after fromSequence through the
// core's replay path. Any failure is fatal: an event the core once accepted
// must replay cleanly, otherwise the log and the code disagree.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	settlementCore *core.SettlementCore,
	fromSequence int64,
) (int64, []byte, error) {
	const batchSize = 1000

	var total int64
	var lastHash []byte

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return total, lastHash, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			et, err := event.ParseEventType(row.EventType)
			if err != nil {
				return total, lastHash, fmt.Errorf("seq %d: %w", row.Sequence, err)
			}

			evt, err := event.DecodePayload(et, row.Payload)
			if err != nil {
				return total, lastHash, fmt.Errorf("seq %d: %w", row.Sequence, err)
			}

			if err := settlementCore.ReplayEvent(evt); err != nil {
				return total, lastHash, fmt.Errorf("replay seq %d (%s): %w", row.Sequence, row.EventType, err)
			}

			lastHash = row.StateHash
			total++
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	return total, lastHash, nil
}

// --- Snapshot conversion ---

func stateFromSnapshotData(snap *persistence.SnapshotData) (*core.SnapshotState, error) {
	state := &core.SnapshotState{
		Sequence:        snap.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(snap.Balances)),
		Loans:           make([]*loan.Record, 0, len(snap.Loans)),
		Claims:          make([]*loan.DeficiencyClaim, 0, len(snap.Claims)),
		Deficits:        make(map[uuid.UUID]int64, len(snap.Deficits)),
		Pools:           make([]*pool.Pool, 0, len(snap.Pools)),
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(state.StateHash[:], snap.StateHash)
	copy(state.PrevHash[:], snap.PrevHash)

	for path, balance := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("balance account %q: %w", path, err)
		}
		state.Balances[key] = balance
	}

	for _, ls := range snap.Loans {
		loanID, err := uuid.Parse(ls.LoanID)
		if err != nil {
			return nil, fmt.Errorf("loan id %q: %w", ls.LoanID, err)
		}
		poolID, err := uuid.Parse(ls.PoolID)
		if err != nil {
			return nil, fmt.Errorf("loan %s pool id %q: %w", ls.LoanID, ls.PoolID, err)
		}
		state.Loans = append(state.Loans, &loan.Record{
			LoanID:          loanID,
			PoolID:          poolID,
			Principal:       ls.Principal,
			RatePPM:         ls.RatePPM,
			TermDays:        ls.TermDays,
			Status:          loan.Status(ls.Status),
			TotalDebt:       ls.TotalDebt,
			RepaidAmount:    ls.RepaidAmount,
			TokenSupply:     ls.TokenSupply,
			LedgerHolding:   ls.LedgerHolding,
			RecoveryBalance: ls.RecoveryBalance,
			Version:         ls.Version,
		})
	}

	for _, cs := range snap.Claims {
		loanID, err := uuid.Parse(cs.LoanID)
		if err != nil {
			return nil, fmt.Errorf("claim loan id %q: %w", cs.LoanID, err)
		}
		poolID, err := uuid.Parse(cs.PoolID)
		if err != nil {
			return nil, fmt.Errorf("claim pool id %q: %w", cs.PoolID, err)
		}
		balances := make(map[uuid.UUID]int64, len(cs.Balances))
		for holder, amount := range cs.Balances {
			holderID, err := uuid.Parse(holder)
			if err != nil {
				return nil, fmt.Errorf("claim holder %q: %w", holder, err)
			}
			balances[holderID] = amount
		}
		state.Claims = append(state.Claims, &loan.DeficiencyClaim{
			LoanID:      loanID,
			PoolID:      poolID,
			Asset:       cs.Asset,
			Outstanding: cs.Outstanding,
			Supply:      cs.Supply,
			Balances:    balances,
			Version:     cs.Version,
		})
	}

	for poolIDStr, deficit := range snap.Deficits {
		poolID, err := uuid.Parse(poolIDStr)
		if err != nil {
			return nil, fmt.Errorf("deficit pool id %q: %w", poolIDStr, err)
		}
		state.Deficits[poolID] = deficit
	}

	for _, ps := range snap.Pools {
		poolID, err := uuid.Parse(ps.PoolID)
		if err != nil {
			return nil, fmt.Errorf("pool id %q: %w", ps.PoolID, err)
		}
		shares := make(map[uuid.UUID]int64, len(ps.Shares))
		for holder, amount := range ps.Shares {
			holderID, err := uuid.Parse(holder)
			if err != nil {
				return nil, fmt.Errorf("pool %s holder %q: %w", ps.PoolID, holder, err)
			}
			shares[holderID] = amount
		}
		activeLoans := make(map[uuid.UUID]int64, len(ps.ActiveLoans))
		for loanIDStr, principal := range ps.ActiveLoans {
			loanID, err := uuid.Parse(loanIDStr)
			if err != nil {
				return nil, fmt.Errorf("pool %s loan %q: %w", ps.PoolID, loanIDStr, err)
			}
			activeLoans[loanID] = principal
		}
		state.Pools = append(state.Pools, &pool.Pool{
			PoolID:               poolID,
			Asset:                ps.Asset,
			TotalShares:          ps.TotalShares,
			Shares:               shares,
			OutstandingPrincipal: ps.OutstandingPrincipal,
			ActiveLoans:          activeLoans,
			Version:              ps.Version,
		})
	}

	return state, nil
}

func snapshotDataFromState(state *core.SnapshotState) *persistence.SnapshotData {
	data := &persistence.SnapshotData{
		Sequence:        state.Sequence,
		StateHash:       state.StateHash[:],
		PrevHash:        state.PrevHash[:],
		Balances:        make(map[string]int64, len(state.Balances)),
		Loans:           make([]persistence.LoanSnapshot, 0, len(state.Loans)),
		Claims:          make([]persistence.ClaimSnapshot, 0, len(state.Claims)),
		Deficits:        make(map[string]int64, len(state.Deficits)),
		Pools:           make([]persistence.PoolSnapshot, 0, len(state.Pools)),
		SequenceState:   state.SequenceState,
		IdempotencyKeys: state.IdempotencyKeys,
		CreatedAt:       time.Now(),
	}

	for key, balance := range state.Balances {
		data.Balances[key.AccountPath()] = balance
	}

	for _, rec := range state.Loans {
		data.Loans = append(data.Loans, persistence.LoanSnapshot{
			LoanID:          rec.LoanID.String(),
			PoolID:          rec.PoolID.String(),
			Principal:       rec.Principal,
			RatePPM:         rec.RatePPM,
			TermDays:        rec.TermDays,
			Status:          int32(rec.Status),
			TotalDebt:       rec.TotalDebt,
			RepaidAmount:    rec.RepaidAmount,
			TokenSupply:     rec.TokenSupply,
			LedgerHolding:   rec.LedgerHolding,
			RecoveryBalance: rec.RecoveryBalance,
			Version:         rec.Version,
		})
	}

	for _, claim := range state.Claims {
		balances := make(map[string]int64, len(claim.Balances))
		for holder, amount := range claim.Balances {
			balances[holder.String()] = amount
		}
		data.Claims = append(data.Claims, persistence.ClaimSnapshot{
			LoanID:      claim.LoanID.String(),
			PoolID:      claim.PoolID.String(),
			Asset:       claim.Asset,
			Outstanding: claim.Outstanding,
			Supply:      claim.Supply,
			Balances:    balances,
			Version:     claim.Version,
		})
	}

	for poolID, deficit := range state.Deficits {
		data.Deficits[poolID.String()] = deficit
	}

	for _, p := range state.Pools {
		shares := make(map[string]int64, len(p.Shares))
		for holder, amount := range p.Shares {
			shares[holder.String()] = amount
		}
		activeLoans := make(map[string]int64, len(p.ActiveLoans))
		for loanID, principal := range p.ActiveLoans {
			activeLoans[loanID.String()] = principal
		}
		data.Pools = append(data.Pools, persistence.PoolSnapshot{
			PoolID:               p.PoolID.String(),
			Asset:                p.Asset,
			TotalShares:          p.TotalShares,
			Shares:               shares,
			OutstandingPrincipal: p.OutstandingPrincipal,
			ActiveLoans:          activeLoans,
			Version:              p.Version,
		})
	}

	return data
}

// --- Metrics server ---

func runMetricsServer(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
