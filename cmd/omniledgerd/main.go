package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/config"
	"OmniLedger/internal/currency"
	"OmniLedger/internal/exchange"
	"OmniLedger/internal/ingestion"
	"OmniLedger/internal/ledger"
	"OmniLedger/internal/observability"
	"OmniLedger/internal/payment"
	"OmniLedger/internal/persistence"
	"OmniLedger/internal/projection"
	"OmniLedger/internal/query"
	"OmniLedger/internal/runtime"
	"OmniLedger/internal/server"
)

const replayBatchSize = 10_000

func main() {
	log := observability.NewLogger("omniledgerd")

	cfg, err := config.Load(os.Getenv("OMNI_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Service.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.Service.MigrationsDir, log)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	nc, js, err := ingestion.ConnectNATS(cfg.Service.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect NATS")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}

	// Domain wiring. The accounts store, ledger, dex, and charger share one
	// state; the executive serializes all mutations.
	native := currency.ID(cfg.Chain.FeeCurrency)
	intermediate := currency.ID(cfg.Chain.IntermediateCurrency)
	treasury := currency.ModuleAccountID(cfg.Chain.TreasuryModuleID)
	maxSlippage := currency.Ratio(cfg.Chain.MaxSwapSlippagePPM)

	nonFee := make([]currency.ID, 0, len(cfg.Chain.NonFeeCurrencies))
	for _, c := range cfg.Chain.NonFeeCurrencies {
		nonFee = append(nonFee, currency.ID(c))
	}

	accountEvents := make(chan ingestion.AccountEvent, 256)
	onCreated := func(id currency.AccountID) {
		metrics.AccountsOpened.Inc()
		select {
		case accountEvents <- ingestion.AccountEvent{Event: "created", Account: id.String(), Timestamp: time.Now()}:
		default:
		}
	}
	onKilled := func(id currency.AccountID) {
		metrics.AccountsClosed.Inc()
		select {
		case accountEvents <- ingestion.AccountEvent{Event: "killed", Account: id.String(), Timestamp: time.Now()}:
		default:
		}
	}

	store := accounts.NewStore(cfg.Chain.NewAccountDeposit, treasury, onCreated, onKilled, observability.NewLogger("accounts"))
	l := ledger.New(store, native, cfg.Chain.NativeMinBalance, observability.NewLogger("ledger"))
	dex := exchange.NewDex(l, observability.NewLogger("exchange"))
	l.SetReceiveHook(accounts.NewReceiveHook(store, l, dex, native, intermediate, maxSlippage, observability.NewLogger("accounts")))
	closer := accounts.NewCloser(store, l, native, nonFee, observability.NewLogger("accounts"))

	calc := payment.NewFeeCalculator(payment.FeeConfig{
		BaseFee:   cfg.Fees.BaseFee,
		ByteFee:   cfg.Fees.ByteFee,
		WeightFee: cfg.Fees.WeightFee,
	})
	charger := payment.NewCharger(l, dex, calc, runtime.NewTreasurySink(l, treasury), payment.ChargerConfig{
		NonFeeCurrencies: nonFee,
		Intermediate:     intermediate,
		MaxSwapSlippage:  maxSlippage,
		MaxBlockWeight:   cfg.Limits.MaxBlockWeight,
		MaxBlockLength:   cfg.Limits.MaxBlockLength,
	}, observability.NewLogger("payment"))

	dedup := runtime.NewDedupChecker(cfg.Service.DedupLRUCapacity, persistence.NewPostgresDedupChecker(db))

	persistChan := make(chan runtime.Output, cfg.Service.PersistChanSize)
	projectionChan := make(chan runtime.Output, cfg.Service.ProjectionChanSize)

	exec := runtime.NewExecutive(
		0, store, l, charger,
		&runtime.Env{Ledger: l, Closer: closer, Dex: dex},
		dedup, metrics, observability.NewLogger("executive"),
		persistChan, projectionChan,
	)

	// Recovery: restore the latest snapshot, warm the dedup cache, then
	// replay the transaction log forward.
	snapMgr := persistence.NewSnapshotManager(db)
	lastSnapSeq, err := recoverState(ctx, exec, snapMgr, dedup, log)
	if err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}
	log.Info().Int64("sequence", exec.Sequence()).Msg("state recovered")

	// Persistence: bridge executive outputs into log rows, then batch-write.
	// The worker runs detached from the signal context so closing the persist
	// channel at shutdown drains everything that was accepted.
	recChan := make(chan persistence.Record, cfg.Service.PersistChanSize)
	go func() {
		defer close(recChan)
		for out := range persistChan {
			rec, err := toRecord(out)
			if err != nil {
				log.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("encode output")
				continue
			}
			recChan <- rec
		}
	}()

	worker := persistence.NewWorker(
		recChan, persistence.NewTxLogWriter(db),
		cfg.Service.PersistBatchSize, cfg.PersistFlushTimeout(),
		metrics, observability.NewLogger("persistence"),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(context.Background())
	}()

	// Projections and outbound publishing share the best-effort channel.
	recent := projection.NewRecentBuffer(1024)
	projWorkerChan := make(chan runtime.Output, cfg.Service.ProjectionChanSize)
	pubChan := make(chan runtime.Output, cfg.Service.ProjectionChanSize)
	go func() {
		defer close(projWorkerChan)
		defer close(pubChan)
		for out := range projectionChan {
			select {
			case projWorkerChan <- out:
			default:
			}
			select {
			case pubChan <- out:
			default:
			}
		}
	}()

	projWorker := projection.NewWorker(db, projWorkerChan, recent, observability.NewLogger("projection"))
	go projWorker.Run(ctx)

	publisher := ingestion.NewOutboundPublisher(js, pubChan, accountEvents, observability.NewLogger("publisher"))
	go publisher.Run(ctx)

	// Intake: NATS submissions and the HTTP API both feed the executive.
	submitChan := make(chan ingestion.RawSubmission, 1024)
	subscriber := ingestion.NewNATSSubscriber(js, submitChan, observability.NewLogger("ingestion"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	go runIngestLoop(ctx, submitChan, exec, metrics, observability.NewLogger("ingestion"))

	httpServer := server.New(cfg.Service.HTTPAddr, &server.Deps{
		Executive:     exec,
		Dex:           dex,
		QueryService:  query.NewService(db),
		Recent:        recent,
		Treasury:      treasury,
		HealthChecker: health,
		Metrics:       metrics,
		Log:           observability.NewLogger("http"),
	})
	go func() {
		if err := httpServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	go runMetricsServer(ctx, cfg.Service.MetricsAddr, log)
	go runPeriodicSnapshots(ctx, exec, snapMgr, cfg.Service.SnapshotInterval, lastSnapSeq, metrics, log)

	health.SetReady(true)
	log.Info().Msg("omniledgerd ready")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	health.SetReady(false)

	subscriber.Stop()

	// Final snapshot, then drain persistence.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := takeSnapshot(shutdownCtx, exec, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}

	close(persistChan)
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Error().Msg("persistence drain timed out")
	}

	log.Info().Msg("shutdown complete")
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// recoverState rebuilds the executive: latest verified snapshot first, then
// a replay of the transaction log from the snapshot's sequence. Returns the
// sequence covered by the restored snapshot.
func recoverState(
	ctx context.Context,
	exec *runtime.Executive,
	snapMgr *persistence.SnapshotManager,
	dedup *runtime.DedupChecker,
	log zerolog.Logger,
) (int64, error) {
	var lastSnapSeq int64

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		var state runtime.State
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return 0, fmt.Errorf("decode snapshot: %w", err)
		}
		exec.Restore(&state)
		lastSnapSeq = snap.Sequence
		log.Info().Int64("sequence", snap.Sequence).Msg("snapshot restored")
	}

	keys, err := snapMgr.RecentDedupKeys(ctx, 100_000)
	if err != nil {
		return 0, fmt.Errorf("load dedup keys: %w", err)
	}
	dedup.Warm(keys)

	replayed := 0
	from := exec.Sequence()
	for {
		rows, err := snapMgr.LoadTransactionsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return 0, fmt.Errorf("load transactions: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			tx, err := txFromRow(row)
			if err != nil {
				return 0, fmt.Errorf("decode logged tx at sequence %d: %w", row.Sequence, err)
			}
			if err := exec.ReplayTransaction(tx, row.StateHash); err != nil {
				return 0, err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}
	if replayed > 0 {
		log.Info().Int("transactions", replayed).Msg("transaction log replayed")
	}
	return lastSnapSeq, nil
}

func runIngestLoop(
	ctx context.Context,
	submitChan <-chan ingestion.RawSubmission,
	exec *runtime.Executive,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-submitChan:
			if !ok {
				return
			}
			metrics.IngestMessages.WithLabelValues(raw.Subject).Inc()

			tx, err := ingestion.ParseSubmission(raw)
			if err != nil {
				metrics.IngestErrors.WithLabelValues("parse").Inc()
				log.Warn().Err(err).Msg("unparseable submission")
				raw.AckFunc()
				continue
			}

			// Rejections are deterministic; redelivery cannot help, so ack
			// either way.
			switch err := exec.ProcessTransaction(tx); {
			case errors.Is(err, runtime.ErrDuplicate):
				log.Debug().Stringer("tx", tx.ID).Msg("duplicate submission")
			case err != nil:
				metrics.IngestErrors.WithLabelValues("rejected").Inc()
				log.Debug().Err(err).Stringer("tx", tx.ID).Msg("transaction rejected")
			}
			raw.AckFunc()
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

// runPeriodicSnapshots takes a snapshot whenever the executive has advanced
// by at least interval sequences since the last one.
func runPeriodicSnapshots(
	ctx context.Context,
	exec *runtime.Executive,
	snapMgr *persistence.SnapshotManager,
	interval, lastSnapSeq int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if exec.Sequence()-lastSnapSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, exec, snapMgr, metrics); err != nil {
				log.Error().Err(err).Msg("snapshot failed")
				continue
			}
			lastSnapSeq = exec.Sequence()
			log.Info().Int64("sequence", lastSnapSeq).Msg("snapshot taken")
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	exec *runtime.Executive,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()
	state := exec.Snapshot()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	snap := &persistence.SnapshotData{
		Sequence:  state.Sequence,
		StateHash: state.PrevHash[:],
		State:     data,
		CreatedAt: time.Now().UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	// The state came straight from memory under the executive's lock.
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return err
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDur.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return nil
}

// toRecord flattens an executive output into transaction log rows.
func toRecord(out runtime.Output) (persistence.Record, error) {
	env, tx, fee := out.Envelope, out.Tx, out.Fee

	payload, err := json.Marshal(tx.Call)
	if err != nil {
		return persistence.Record{}, fmt.Errorf("marshal call: %w", err)
	}

	var dispatchError *string
	if env.DispatchError != "" {
		dispatchError = &env.DispatchError
	}

	return persistence.Record{
		Tx: persistence.TxRow{
			Sequence:        env.Sequence,
			TxID:            env.TxID.String(),
			Signer:          env.Signer.String(),
			CallType:        env.CallType,
			AccountSequence: int64(tx.Sequence),
			Tip:             int64(tx.Tip),
			Length:          int32(tx.Length),
			Payload:         payload,
			DispatchError:   dispatchError,
			StateHash:       env.StateHash[:],
			PrevHash:        env.PrevHash[:],
			Timestamp:       env.Timestamp,
		},
		Fee: persistence.FeeRow{
			Sequence:  env.Sequence,
			TxID:      fee.TxID.String(),
			Payer:     fee.Payer.String(),
			EstFee:    int64(fee.EstFee),
			ActualFee: int64(fee.ActualFee),
			Tip:       int64(fee.Tip),
		},
	}, nil
}

// txFromRow rebuilds a signed transaction from its logged row for replay.
func txFromRow(row persistence.TxRow) (*runtime.SignedTransaction, error) {
	id, err := uuid.Parse(row.TxID)
	if err != nil {
		return nil, fmt.Errorf("parse tx_id: %w", err)
	}
	signer, err := uuid.Parse(row.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}

	call, err := runtime.NewCall(row.CallType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.Payload, call); err != nil {
		return nil, fmt.Errorf("decode %s call: %w", row.CallType, err)
	}

	return &runtime.SignedTransaction{
		ID:        id,
		Signer:    signer,
		Sequence:  uint64(row.AccountSequence),
		Tip:       uint64(row.Tip),
		Call:      call,
		Length:    uint32(row.Length),
		Timestamp: row.Timestamp,
	}, nil
}
