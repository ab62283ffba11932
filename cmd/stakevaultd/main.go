package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stakevault/config"
	"stakevault/native/credit"
	"stakevault/native/identity"
	"stakevault/native/ledger"
	"stakevault/native/mint"
	"stakevault/observability"
	"stakevault/observability/logging"
	"stakevault/rpc"
	"stakevault/state"
	"stakevault/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./stakevault.toml", "path to the stakevaultd config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup("stakevaultd", cfg.Environment)
	logger.Info("starting stakevaultd",
		slog.String("listen", cfg.ListenAddress),
		slog.String("dataDir", cfg.DataDir),
		slog.String("vault", cfg.VaultAddress),
	)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.String("dataDir", cfg.DataDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}()

	owner, err := cfg.Owner()
	if err != nil {
		logger.Error("invalid owner address", slog.String("error", err.Error()))
		os.Exit(1)
	}
	vault, err := cfg.Vault()
	if err != nil {
		logger.Error("invalid vault address", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := state.NewLedgerStore(db)
	identityReg := identity.NewRegistry(store, owner)
	creditReg := credit.NewRegistry(store, owner)
	minter := mint.NewMinter(store)

	engine := ledger.NewEngine(vault, owner, cfg.Params())
	engine.SetState(store)
	engine.SetCapabilities(identityReg, creditReg, minter)
	engine.SetEmitter(observability.LogEmitter{Logger: logger})

	if uri := strings.TrimSpace(cfg.IdentityBaseURI); uri != "" {
		if err := identityReg.SetBaseURI(owner, uri); err != nil {
			logger.Error("failed to seed identity base URI", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	server := rpc.NewServer(engine, identityReg, creditReg, minter, store, logger, cfg.RPCToken, cfg.RateLimitPerMin)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("addr", cfg.ListenAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("stakevaultd stopped")
}
