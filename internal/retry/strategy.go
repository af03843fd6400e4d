package retry

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried
type Operation func() error

// retryableError marks an error as worth retrying regardless of its text
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so strategies always treat it as recoverable.
// Used for conditions like "not visible on chain yet" that carry no
// network wording.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config, logger *zap.Logger) Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		logger.Info("Retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	logger.Info("Retry enabled, using ExponentialBackoffStrategy",
		zap.Int("max_retries", config.MaxRetries),
		zap.Duration("initial_delay", config.InitialDelay),
		zap.Duration("max_delay", config.MaxDelay),
	)

	return NewExponentialBackoffStrategy(
		config.MaxRetries,
		config.InitialDelay,
		config.MaxDelay,
		WithLogger(logger),
	)
}

func isMarkedRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
