package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"petitions/internal/chain"
	"petitions/internal/config"
	"petitions/internal/failure"
	"petitions/internal/ipfs"
	"petitions/internal/logging"
	"petitions/internal/metadata"
	"petitions/internal/petition"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		rpcURL   = flag.String("rpc", cfg.RPCURL, "RPC endpoint")
		contract = flag.String("contract", cfg.ContractAddress, "Petition contract address")
		id       = flag.String("id", "", "Petition id (bytes32 hex) or token id")
		category = flag.Int("category", -1, "Only list this category code")
		signers  = flag.Bool("signers", false, "Print the signers of -id instead of the petition")
		timeout  = flag.Duration("timeout", time.Minute, "Overall timeout")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := chain.Dial(ctx, chain.EthConfig{RPCURL: *rpcURL, ChainID: cfg.ChainID, ContractAddress: *contract}, logger)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	resolver := metadata.NewResolver(
		ipfs.NewGatewayFetcher(cfg.IPFSGateway, &http.Client{Timeout: cfg.MetadataFetchTimeout}),
		cfg.IPFSGateway, cfg.MetadataFetchTimeout, logger)
	reader := petition.NewReader(client, petition.NewNormalizer(resolver), petition.ReaderOptions{
		Concurrency: cfg.ReaderConcurrency,
		Logger:      logger,
	})

	var out any
	switch {
	case *id != "" && *signers:
		out, err = reader.GetSigners(ctx, *id)
	case *id != "":
		out, err = reader.GetOne(ctx, *id)
	case *category >= 0:
		out, err = reader.GetByCategory(ctx, *category)
	default:
		out, err = reader.GetAll(ctx)
	}
	if err != nil {
		logger.Debug("Read failed", zap.Error(err))
		fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	c := failure.Classify(err)
	fmt.Fprintf(os.Stderr, "error (%s): %s\n", c.Kind, c.Message)
	os.Exit(1)
}
