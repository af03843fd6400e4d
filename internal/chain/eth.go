package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"petitions/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// gasHeadroom is applied on top of eth_estimateGas, in percent
const gasHeadroom = 120

// EthConfig configures an EthClient
type EthConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKey      string // hex, optional
	PollInterval    time.Duration
}

// backend is the subset of ethclient.Client used here
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// EthClient implements Client against an EVM JSON-RPC node
type EthClient struct {
	backend      backend
	abi          abi.ABI
	address      common.Address
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	pollInterval time.Duration
	logger       *zap.Logger

	// serializes nonce lookup and send
	sendMu sync.Mutex
}

// Dial connects to the node and prepares the signer if a key is given
func Dial(ctx context.Context, cfg EthConfig, logger *zap.Logger) (*EthClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	rc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}

	c := &EthClient{
		backend:      rc,
		abi:          PetitionsABI,
		address:      common.HexToAddress(cfg.ContractAddress),
		chainID:      big.NewInt(cfg.ChainID),
		pollInterval: cfg.PollInterval,
		logger:       logger.Named("chain"),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to load signer key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		c.logger.Info("Signer loaded", zap.String("from", c.from.Hex()))
	}

	return c, nil
}

// From returns the signer address, or the zero address when read-only
func (c *EthClient) From() common.Address {
	return c.from
}

// Close releases the RPC connection
func (c *EthClient) Close() {
	c.backend.Close()
}

// ReadContract implements Client
func (c *EthClient) ReadContract(ctx context.Context, fn string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", fn, err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: input}, nil)
	if err != nil {
		if IsNoData(err) {
			metrics.ContractReads.WithLabelValues(fn, "empty").Inc()
			return nil, fmt.Errorf("%s: %w", fn, ErrNoData)
		}
		metrics.ContractReads.WithLabelValues(fn, "error").Inc()
		return nil, fmt.Errorf("failed to call %s: %w", fn, err)
	}
	if len(out) == 0 {
		metrics.ContractReads.WithLabelValues(fn, "empty").Inc()
		return nil, fmt.Errorf("%s: %w", fn, ErrNoData)
	}

	values, err := c.abi.Unpack(fn, out)
	if err != nil {
		metrics.ContractReads.WithLabelValues(fn, "error").Inc()
		return nil, fmt.Errorf("failed to unpack %s: %w", fn, err)
	}

	metrics.ContractReads.WithLabelValues(fn, "ok").Inc()
	return values, nil
}

// WriteContract implements Client. The transaction is an EIP-1559 dynamic
// fee transaction signed with the configured key.
func (c *EthClient) WriteContract(ctx context.Context, fn string, args ...any) (string, error) {
	if c.key == nil {
		return "", ErrReadOnly
	}

	input, err := c.abi.Pack(fn, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", fn, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: input})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas for %s: %w", fn, err)
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest tip: %w", err)
	}

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * gasHeadroom / 100,
		To:        &c.address,
		Data:      input,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", fn, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", fn, err)
	}

	c.logger.Info("Transaction submitted",
		zap.String("function", fn),
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce))

	return signed.Hash().Hex(), nil
}

// WaitForReceipt implements Client by polling eth_getTransactionReceipt
func (c *EthClient) WaitForReceipt(ctx context.Context, txID string) (*Receipt, error) {
	hash := common.HexToHash(txID)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				TxHash:      txID,
				BlockNumber: r.BlockNumber.Uint64(),
				Reverted:    r.Status == types.ReceiptStatusFailed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt %s: %w", txID, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WatchEvent implements Client. It subscribes when the transport supports
// notifications and falls back to polling eth_getLogs otherwise. Logs from
// FromBlock onwards are backfilled so an event mined before the
// subscription started is still delivered.
func (c *EthClient) WatchEvent(ctx context.Context, req WatchRequest, onLog func(Log)) (func(), error) {
	ev, ok := c.abi.Events[req.Event]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", req.Event)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(req.FromBlock),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	var sub ethereum.Subscription
	stop := func() {
		once.Do(func() {
			cancel()
			if sub != nil {
				sub.Unsubscribe()
			}
		})
	}

	ch := make(chan types.Log, 16)
	s, err := c.backend.SubscribeFilterLogs(watchCtx, query, ch)
	switch {
	case err == nil:
		sub = s
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		c.logger.Debug("Subscriptions unsupported, polling logs", zap.String("event", req.Event))
	default:
		stop()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", req.Event, err)
	}

	deliver := c.deliverer(ev, onLog)

	go func() {
		backfill, err := c.backend.FilterLogs(watchCtx, query)
		if err != nil && watchCtx.Err() == nil {
			c.logger.Warn("Failed to backfill logs", zap.String("event", req.Event), zap.Error(err))
		}
		next := req.FromBlock
		for _, l := range backfill {
			deliver(l)
			if l.BlockNumber+1 > next {
				next = l.BlockNumber + 1
			}
		}

		if sub != nil {
			c.consume(watchCtx, sub, ch, deliver)
			return
		}
		c.poll(watchCtx, query, next, deliver)
	}()

	return stop, nil
}

func (c *EthClient) consume(ctx context.Context, sub ethereum.Subscription, ch <-chan types.Log, deliver func(types.Log)) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				c.logger.Warn("Log subscription ended", zap.Error(err))
			}
			return
		case l := <-ch:
			deliver(l)
		}
	}
}

func (c *EthClient) poll(ctx context.Context, query ethereum.FilterQuery, next uint64, deliver func(types.Log)) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		query.FromBlock = new(big.Int).SetUint64(next)
		logs, err := c.backend.FilterLogs(ctx, query)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Failed to poll logs", zap.Error(err))
			}
			continue
		}
		for _, l := range logs {
			deliver(l)
			if l.BlockNumber+1 > next {
				next = l.BlockNumber + 1
			}
		}
	}
}

// deliverer decodes logs and drops removed (reorged) ones
func (c *EthClient) deliverer(ev abi.Event, onLog func(Log)) func(types.Log) {
	return func(l types.Log) {
		if l.Removed {
			return
		}
		decoded, err := DecodeLog(ev, l)
		if err != nil {
			c.logger.Warn("Failed to decode log",
				zap.String("event", ev.Name),
				zap.String("tx", l.TxHash.Hex()),
				zap.Error(err))
			return
		}
		onLog(decoded)
	}
}

// DecodeLog unpacks indexed and data fields of a raw log
func DecodeLog(ev abi.Event, l types.Log) (Log, error) {
	fields := make(map[string]any)

	if len(l.Data) > 0 {
		if err := ev.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
			return Log{}, fmt.Errorf("unpack data: %w", err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics) > 1 && len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			return Log{}, fmt.Errorf("parse topics: %w", err)
		}
	}

	return Log{
		Event:       ev.Name,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		Index:       l.Index,
		Fields:      fields,
	}, nil
}
