package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"petitions/internal/actions"
	"petitions/internal/api"
	"petitions/internal/cache"
	"petitions/internal/chain"
	"petitions/internal/config"
	"petitions/internal/ipfs"
	"petitions/internal/logging"
	"petitions/internal/metadata"
	"petitions/internal/petition"
	"petitions/internal/reconcile"
	"petitions/internal/retry"
	"petitions/internal/storage"
	"petitions/internal/txflow"
	"petitions/internal/upload"
)

func main() {
	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// 2. Configure logger
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "petitiond"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("contract", cfg.ContractAddress),
		zap.String("gateway", cfg.IPFSGateway),
		zap.Bool("read_only", cfg.ReadOnly()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to the chain
	client, err := chain.Dial(ctx, chain.EthConfig{
		RPCURL:          cfg.RPCURL,
		ChainID:         cfg.ChainID,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.SignerPrivateKey,
		PollInterval:    cfg.ReceiptPollInterval,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer client.Close()

	// 4. Read side: metadata resolution, normalization, cached list
	httpClient := &http.Client{Timeout: cfg.MetadataFetchTimeout}
	var fetcher ipfs.Fetcher = ipfs.NewGatewayFetcher(cfg.IPFSGateway, httpClient)
	if cfg.IPFSAPI != "" {
		fetcher = ipfs.NewShellFetcher(cfg.IPFSAPI, fetcher)
		logger.Info("Reading metadata through IPFS node", zap.String("api", cfg.IPFSAPI))
	}
	resolver := metadata.NewResolver(fetcher, cfg.IPFSGateway, cfg.MetadataFetchTimeout, logger)

	reader := petition.NewReader(client, petition.NewNormalizer(resolver), petition.ReaderOptions{
		Viewer:      viewer(cfg, client.From()),
		Concurrency: cfg.ReaderConcurrency,
		Logger:      logger,
	})

	petitions := cache.New(reader, logger)
	if err := petitions.Refresh(ctx); err != nil {
		logger.Warn("Initial petition load failed", zap.Error(err))
	}

	// 5. Transaction journal
	var journal storage.Repository
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		journal = pg
		logger.Info("Database connected successfully")
	} else {
		journal = storage.NewMemoryRepository()
		logger.Warn("DATABASE_URL not set, journal is kept in memory")
	}
	defer journal.Close()

	// 6. Write side, only with a signer
	var svc api.Actions
	if !cfg.ReadOnly() {
		reconciler := reconcile.New(journal, reader, petitions, retry.NewStrategy(cfg.ReconcileRetry, logger), logger)
		go func() {
			if err := reconciler.Run(ctx, cfg.ReconcileOnStart); err != nil {
				logger.Error("Reconciler stopped", zap.Error(err))
			}
		}()

		uploader := upload.NewProxyClient(cfg.PinProxyURL, &http.Client{Timeout: time.Minute}, logger)
		svc = actions.NewService(actions.Deps{
			Runner:     txflow.New(client, txflow.Options{Timeout: cfg.TxEventTimeout, Logger: logger}),
			Preparer:   upload.NewPreparer(uploader, nil, logger),
			Reader:     reader,
			Journal:    journal,
			Cache:      petitions,
			Reconciler: reconciler,
			Sender:     client.From().Hex(),
			Logger:     logger,
		})
		logger.Info("Write actions enabled", zap.String("from", client.From().Hex()))
	}

	// 7. HTTP API
	server := api.NewServer(cfg.APIPort, api.Deps{
		Cache:   petitions,
		Reader:  reader,
		Actions: svc,
		Journal: journal,
		Logger:  logger,
	})
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// 8. Wait for a signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Warn("Interrupt received, shutting down...")

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping API server", zap.Error(err))
	}

	logger.Info("petitiond stopped")
}

// viewer picks the address used for hasSigned lookups: VIEWER_ADDRESS, else
// the signer so the reconciler can confirm signatures.
func viewer(cfg *config.Config, from common.Address) *common.Address {
	if cfg.ViewerAddress != "" {
		a := common.HexToAddress(cfg.ViewerAddress)
		return &a
	}
	if from != (common.Address{}) {
		return &from
	}
	return nil
}
