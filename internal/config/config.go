package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"petitions/internal/retry"
)

type Config struct {
	// JSON-RPC endpoint of the EVM node
	RPCURL string

	// Chain ID used to sign transactions
	ChainID int64

	// Petition contract address
	ContractAddress string

	// Hex private key for writes ( empty means read-only )
	SignerPrivateKey string

	// Address used for hasSigned lookups ( empty disables them )
	ViewerAddress string

	// Public gateway used to resolve ipfs:// URIs
	IPFSGateway string

	// Optional IPFS node API ( when set, metadata is read through the node )
	IPFSAPI string

	// Bounded time for a single metadata fetch
	MetadataFetchTimeout time.Duration

	// How long to wait for the confirming event after the receipt
	TxEventTimeout time.Duration

	// Receipt polling interval
	ReceiptPollInterval time.Duration

	// Max parallel normalizations per read
	ReaderConcurrency int

	// Base URL of the pinning proxy
	PinProxyURL string

	// Postgres DSN for the transaction journal ( empty uses memory )
	DatabaseURL string

	// HTTP API port
	APIPort int

	// zap level: debug, info, warn, error
	LogLevel string

	// Optional rotated log file
	LogFile string

	// Pick up TimedOut journal rows left by a previous run
	ReconcileOnStart bool

	// Backoff used while re-checking timed out actions
	ReconcileRetry retry.Config

	PinProxy PinProxyConfig
}

// PinProxyConfig configures the pinning proxy binary
type PinProxyConfig struct {
	Port         int
	NodeAPI      string
	Gateways     []string
	MaxFileBytes int64
	AllowOrigins []string
}

// Load returns the configuration read from the environment
func Load() *Config {
	return &Config{
		RPCURL:               getEnv("RPC_URL", "http://127.0.0.1:8545"),
		ChainID:              int64(getEnvAsInt("CHAIN_ID", 31337)),
		ContractAddress:      getEnv("CONTRACT_ADDRESS", ""),
		SignerPrivateKey:     getEnv("SIGNER_PRIVATE_KEY", ""),
		ViewerAddress:        getEnv("VIEWER_ADDRESS", ""),
		IPFSGateway:          strings.TrimRight(getEnv("IPFS_GATEWAY", "https://ipfs.io"), "/"),
		IPFSAPI:              getEnv("IPFS_API", ""),
		MetadataFetchTimeout: getEnvAsDuration("METADATA_FETCH_TIMEOUT", 10*time.Second),
		TxEventTimeout:       getEnvAsDuration("TX_EVENT_TIMEOUT", 30*time.Second),
		ReceiptPollInterval:  getEnvAsDuration("RECEIPT_POLL_INTERVAL", 2*time.Second),
		ReaderConcurrency:    getEnvAsInt("READER_CONCURRENCY", 8),
		PinProxyURL:          strings.TrimRight(getEnv("PIN_PROXY_URL", "http://127.0.0.1:3001"), "/"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		APIPort:              getEnvAsInt("API_PORT", 8080),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
		ReconcileOnStart:     getEnvAsBool("RECONCILE_ON_START", true),
		ReconcileRetry:       loadReconcileRetry(),
		PinProxy: PinProxyConfig{
			Port:         getEnvAsInt("PINPROXY_PORT", 3001),
			NodeAPI:      getEnv("PINPROXY_NODE_API", "localhost:5001"),
			Gateways:     getEnvAsList("PINPROXY_GATEWAYS", []string{"https://ipfs.io", "https://dweb.link", "https://cloudflare-ipfs.com"}),
			MaxFileBytes: int64(getEnvAsInt("PINPROXY_MAX_FILE_BYTES", 500*1024)),
			AllowOrigins: getEnvAsList("PINPROXY_ALLOW_ORIGINS", []string{"*"}),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS must be a hex address, got %q", c.ContractAddress)
	}
	if c.ViewerAddress != "" && !common.IsHexAddress(c.ViewerAddress) {
		return fmt.Errorf("VIEWER_ADDRESS must be a hex address, got %q", c.ViewerAddress)
	}
	if c.IPFSGateway == "" {
		return fmt.Errorf("IPFS_GATEWAY is required")
	}
	if c.MetadataFetchTimeout <= 0 {
		return fmt.Errorf("METADATA_FETCH_TIMEOUT must be positive")
	}
	if c.TxEventTimeout <= 0 {
		return fmt.Errorf("TX_EVENT_TIMEOUT must be positive")
	}
	if c.ReceiptPollInterval <= 0 {
		return fmt.Errorf("RECEIPT_POLL_INTERVAL must be positive")
	}
	if c.ReaderConcurrency < 1 {
		return fmt.Errorf("READER_CONCURRENCY must be at least 1")
	}
	if err := c.ReconcileRetry.Validate(); err != nil {
		return fmt.Errorf("RECONCILE_RETRY_*: %w", err)
	}
	return nil
}

// loadReconcileRetry reads RECONCILE_RETRY_* on top of retry.DefaultConfig
func loadReconcileRetry() retry.Config {
	def := retry.DefaultConfig()
	return retry.Config{
		Enabled:      getEnvAsBool("RECONCILE_RETRY_ENABLED", def.Enabled),
		MaxRetries:   getEnvAsInt("RECONCILE_RETRY_MAX_RETRIES", def.MaxRetries),
		InitialDelay: getEnvAsDuration("RECONCILE_RETRY_INITIAL_DELAY", def.InitialDelay),
		MaxDelay:     getEnvAsDuration("RECONCILE_RETRY_MAX_DELAY", def.MaxDelay),
	}
}

// ValidatePinProxy checks the settings the pinning proxy needs
func (c *Config) ValidatePinProxy() error {
	if c.PinProxy.NodeAPI == "" {
		return fmt.Errorf("PINPROXY_NODE_API is required")
	}
	if c.PinProxy.MaxFileBytes <= 0 {
		return fmt.Errorf("PINPROXY_MAX_FILE_BYTES must be positive")
	}
	return nil
}

// ReadOnly reports whether writes are disabled
func (c *Config) ReadOnly() bool {
	return c.SignerPrivateKey == ""
}

// Helper: get string from env
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get bool from env
func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get duration from env. Accepts "30s" style values or plain seconds.
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(valStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

// Helper: get comma separated list from env
func getEnvAsList(key string, defaultVal []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
