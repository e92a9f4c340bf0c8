package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/account"
	"github.com/aristath/helmsman/internal/clientdata"
	"github.com/aristath/helmsman/internal/clients/brokerage"
	"github.com/aristath/helmsman/internal/clients/fxapi"
	"github.com/aristath/helmsman/internal/clients/marketdata"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/fx"
	"github.com/aristath/helmsman/internal/lifecycle"
	"github.com/aristath/helmsman/internal/orders"
	"github.com/aristath/helmsman/internal/portfolio"
	"github.com/aristath/helmsman/internal/report"
	"github.com/aristath/helmsman/internal/runner"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/storage"
	"github.com/aristath/helmsman/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet, fall back to a bare one.
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Helmsman")

	// The order/account ledger and the price/FX cache have opposite
	// durability needs, so they live in separate databases.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := storage.Migrate(ledgerDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	cacheRepo, err := clientdata.NewRepository(cacheDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize client data cache")
	}

	// Repositories
	queues := storage.NewQueueRepository(ledgerDB.Conn(), log)
	orderLogs := storage.NewOrderLogRepository(ledgerDB.Conn(), log)
	accounts := storage.NewAccountRepository(ledgerDB.Conn(), log)
	portfolios := storage.NewPortfolioRepository(ledgerDB.Conn(), log)

	// External API clients
	brokerageClient := brokerage.NewClient(cfg.BrokerageBaseURL, cfg.BrokerageAPIKey, cfg.BrokerageAPISecret, log)
	defer brokerageClient.Close()
	marketDataClient := marketdata.NewClient(cfg.MarketDataBaseURL, "US", cacheRepo, log)
	fxClient := fxapi.NewClient(cfg.FXBaseURL, cacheRepo, log)

	sink := report.NewLogSink(log)

	// Core services
	reader := account.NewStateReader(brokerageClient, marketDataClient, cfg.OrderChannel, cfg.TestbedTickers, log)
	manager := portfolio.NewManager(log)
	basket := orders.NewBasketBuilder(log)
	coordinator := orders.NewCoordinator(brokerageClient, orderLogs, sink, orders.CoordinatorConfig{
		PlannedSplits:   cfg.PlannedSplits,
		MinOrderQty:     cfg.MinOrderQty,
		StalenessWindow: cfg.StalenessWindow,
		MaxGapBuyPct:    cfg.MaxGapBuyPct,
		MaxGapSellPct:   cfg.MaxGapSellPct,
		ErrorMsgLimit:   cfg.ErrorMsgLimit,
		Ticks:           cfg.Ticks,
	}, log)
	lifecycleMgr := lifecycle.NewManager(queues, orderLogs, log)

	run := runner.NewRunner(
		accounts, portfolios, queues, orderLogs, marketDataClient, fxClient,
		reader, manager, basket, coordinator, lifecycleMgr, sink,
		runner.Config{
			SlippageThreshold:  cfg.SlippageThreshold,
			MinDepositRatio:    cfg.MinDepositRatio,
			DepositBufferRatio: cfg.DepositBufferRatio,
			DefaultEmphasis:    cfg.DefaultEmphasis,
		},
		log,
	)

	exchanger := fx.NewExchanger(fxClient, accounts, sink, log)

	// Scheduled jobs
	rebalanceJob := scheduler.FuncJob{JobName: "rebalance", Fn: run.RunAll}
	closingJob := scheduler.FuncJob{JobName: "closing", Fn: run.RunClosings}
	cancelJob := scheduler.FuncJob{JobName: "cancel", Fn: run.RunCancellations}
	cleanupJob := scheduler.FuncJob{JobName: "cache-cleanup", Fn: func(ctx context.Context) error {
		for _, table := range clientdata.AllTables {
			n, err := cacheRepo.DeleteExpired(table)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Debug().Str("table", table).Int64("rows", n).Msg("Expired cache rows removed")
			}
		}
		return nil
	}}
	exchangeJob := scheduler.FuncJob{JobName: "exchange", Fn: func(ctx context.Context) error {
		if err := exchanger.ExchangeAll(ctx, fx.NormalPolicy{}, domain.AccountNormal); err != nil {
			return err
		}
		return exchanger.ExchangeAll(ctx, fx.ClosingPolicy{Log: log},
			domain.AccountSellCompleted, domain.AccountExchangeInProgress, domain.AccountExchangeFailed)
	}}

	sched := scheduler.New(log)
	registerJobs(sched, cfg, log, rebalanceJob, closingJob, cancelJob, exchangeJob, cleanupJob)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		DevMode:      cfg.DevMode,
		Scheduler:    sched,
		RebalanceJob: rebalanceJob,
		ExchangeJob:  exchangeJob,
		ClosingJob:   closingJob,
		CancelJob:    cancelJob,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger, rebalance, closing, cancel, exchange, cleanup scheduler.Job) {
	if err := sched.AddJob(cfg.RebalanceCron, rebalance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rebalance job")
	}
	if err := sched.AddJob(cfg.RebalanceCron, closing); err != nil {
		log.Fatal().Err(err).Msg("Failed to register closing job")
	}
	if err := sched.AddJob(cfg.RebalanceCron, cancel); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cancel job")
	}
	if err := sched.AddJob(cfg.ExchangeCron, exchange); err != nil {
		log.Fatal().Err(err).Msg("Failed to register exchange job")
	}
	if err := sched.AddJob("0 0 4 * * *", cleanup); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache cleanup job")
	}
}
