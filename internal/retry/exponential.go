package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ExponentialBackoffStrategy implements retry with exponential backoff
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// Option configures an ExponentialBackoffStrategy
type Option func(*ExponentialBackoffStrategy)

// WithClock sets the clock used for backoff waits
func WithClock(c clock.Clock) Option {
	return func(s *ExponentialBackoffStrategy) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *ExponentialBackoffStrategy) { s.logger = l }
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration, opts ...Option) *ExponentialBackoffStrategy {
	s := &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		clock:        clock.New(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the operation with exponential backoff retry logic
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	var lastErr error
	delay := s.initialDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := operation()

		if err == nil {
			if attempt > 0 {
				s.logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("total_attempts", s.maxRetries+1))
			}
			return nil
		}

		lastErr = err

		if !isRecoverableError(err) {
			s.logger.Error("Non-recoverable error, failing immediately",
				zap.Error(err),
				zap.Int("attempt", attempt+1))
			return err
		}

		if attempt >= s.maxRetries {
			break
		}

		s.logger.Warn("Operation failed, retrying with exponential backoff",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.maxRetries+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		timer := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// isRecoverableError determines if an error is recoverable and worth retrying
func isRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	if isMarkedRetryable(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Network and RPC errors that are typically recoverable
	recoverablePatterns := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"i/o timeout",
		"eof",
		"tls handshake timeout",
		"no such host",
		"connection timed out",
		"dial tcp",
		"too many requests",
		"rate limit",
		"header not found",
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
