package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"petitions/internal/config"
	"petitions/internal/ipfs"
	"petitions/internal/logging"
	"petitions/internal/pinproxy"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "pinproxy"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.ValidatePinProxy(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	node := shell.NewShell(cfg.PinProxy.NodeAPI)
	node.SetTimeout(time.Minute)
	if !node.IsUp() {
		logger.Warn("IPFS node not reachable yet", zap.String("api", cfg.PinProxy.NodeAPI))
	}

	// the local node first, then the public gateways in order
	sources := append(
		[]pinproxy.Source{{Name: "node", Fetcher: ipfs.NewShellFetcher(cfg.PinProxy.NodeAPI, nil)}},
		pinproxy.GatewaySources(cfg.PinProxy.Gateways, &http.Client{})...,
	)

	server := pinproxy.NewServer(cfg.PinProxy.Port, node, sources, pinproxy.Options{
		Gateways:     cfg.PinProxy.Gateways,
		MaxFileBytes: cfg.PinProxy.MaxFileBytes,
		AllowOrigins: cfg.PinProxy.AllowOrigins,
		Logger:       logger,
	})
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start pinning proxy", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Warn("Interrupt received, shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error stopping pinning proxy", zap.Error(err))
	}
	logger.Info("pinproxy stopped")
}
