package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"worklayer/config"
	"worklayer/native/escrow"
	"worklayer/native/staking"
	"worklayer/observability/logging"
	"worklayer/observability/metrics"
	"worklayer/services/market/disputes"
	"worklayer/services/market/models"
	"worklayer/services/market/notify"
	"worklayer/services/market/orders"
	"worklayer/services/market/quotes"
	"worklayer/state/ledger"
)

const operatorIDEnv = "WORKLAYER_OPERATOR_ID"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Listen address override for metrics and health endpoints")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Service.Name, cfg.Service.Environment, logging.FileRotation{
		Filename: cfg.Service.LogFile,
	})

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("open market database", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("migrate market schema", "error", err)
		os.Exit(1)
	}

	store, err := ledger.Open(cfg.Ledger.Path, nil)
	if err != nil {
		logger.Error("open ledger store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	escrowEngine, err := buildEscrowEngine(cfg.Escrow, store)
	if err != nil {
		logger.Error("configure escrow engine", "error", err)
		os.Exit(1)
	}
	stakingEngine, err := buildStakingEngine(cfg.Staking, store)
	if err != nil {
		logger.Error("configure staking engine", "error", err)
		os.Exit(1)
	}
	operatorID, err := resolveOperatorID(cfg.Service.OperatorID)
	if err != nil {
		logger.Error("resolve operator id", "error", err)
		os.Exit(1)
	}

	notifier := notify.Log{Logger: logger}
	orderSvc := orders.NewService(db, notifier)
	app := &daemon{
		logger:   logger,
		escrow:   escrowEngine,
		staking:  stakingEngine,
		quotes:   quotes.NewService(db, nil),
		orders:   orderSvc,
		disputes: disputes.NewService(db, orderSvc, notifier, operatorID),
	}
	logger.Info("settlement core ready",
		"fee_bps", escrowEngine.FeeBps(),
		"minimum_stake", stakingEngine.MinimumStake().String(),
		"operator", operatorID.String(),
	)

	listen := cfg.Service.ListenAddress
	if *listenFlag != "" {
		listen = *listenFlag
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	app.registerOps(mux)
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving", "address", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func buildEscrowEngine(cfg config.EscrowConfig, store *ledger.Store) (*escrow.Engine, error) {
	operator, err := config.ParseAddress(cfg.Operator)
	if err != nil {
		return nil, err
	}
	feeRecipient, err := config.ParseAddress(cfg.FeeRecipient)
	if err != nil {
		return nil, err
	}
	engine, err := escrow.NewEngine(escrow.Config{
		Operator:     operator,
		FeeRecipient: feeRecipient,
		FeeBps:       cfg.FeeBps,
	})
	if err != nil {
		return nil, err
	}
	engine.SetState(store)
	engine.SetEmitter(metrics.NewEmitter(metrics.Settlement()))
	return engine, nil
}

func buildStakingEngine(cfg config.StakingConfig, store *ledger.Store) (*staking.Engine, error) {
	operator, err := config.ParseAddress(cfg.Operator)
	if err != nil {
		return nil, err
	}
	feeRecipient, err := config.ParseAddress(cfg.FeeRecipient)
	if err != nil {
		return nil, err
	}
	minimum, ok := new(big.Int).SetString(strings.TrimSpace(cfg.MinimumStake), 10)
	if !ok {
		return nil, fmt.Errorf("invalid minimum stake %q", cfg.MinimumStake)
	}
	engine, err := staking.NewEngine(staking.Config{
		Operator:        operator,
		FeeRecipient:    feeRecipient,
		MinimumStake:    minimum,
		CooldownSeconds: cfg.CooldownSeconds,
	})
	if err != nil {
		return nil, err
	}
	engine.SetState(store)
	engine.SetEmitter(metrics.NewEmitter(metrics.Settlement()))
	return engine, nil
}

func resolveOperatorID(configured string) (uuid.UUID, error) {
	value := strings.TrimSpace(configured)
	if env := strings.TrimSpace(os.Getenv(operatorIDEnv)); env != "" {
		value = env
	}
	if value == "" {
		return uuid.UUID{}, fmt.Errorf("operator id is required (service.operator_id or %s)", operatorIDEnv)
	}
	return uuid.Parse(value)
}
