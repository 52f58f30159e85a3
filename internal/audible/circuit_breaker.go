// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

package audible

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/logging"
	"github.com/audiomark/audiomark/internal/metrics"
)

// BreakerClient wraps Client with a circuit breaker so a remote outage
// fails batches fast instead of burning the rate-limit budget on calls
// that will not succeed.
//
// DETERMINISM NOTE: the circuit breaker uses real time (via
// sony/gobreaker) for its interval and timeout calculations. Tests
// should mock the underlying client, not the breaker.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewBreakerClient creates a BreakerClient around an existing Client.
func NewBreakerClient(client *Client, cfg config.AudibleConfig) *BreakerClient {
	cbName := "audible-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= failures
			if shouldTrip {
				logging.Warn().
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// Absence is a valid answer; only real failures count.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRemoteNotFound)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
		},
	})

	return &BreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps a remote call with circuit breaker protection.
func (bc *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := bc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, &RemoteError{Op: "breaker", Retryable: true, Err: err}
		}
		return nil, err
	}
	return result, nil
}

// castResult safely type-casts the circuit breaker result with error checking
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// Available reports whether the breaker would admit a request.
func (bc *BreakerClient) Available() bool {
	return bc.cb.State() != gobreaker.StateOpen
}

// FetchPosition reads the remote position with circuit breaker protection.
func (bc *BreakerClient) FetchPosition(ctx context.Context, asin string) (int64, error) {
	return castResult[int64](bc.execute(func() (interface{}, error) {
		return bc.client.FetchPosition(ctx, asin)
	}))
}

// ObtainWriteAuthorization obtains a write token with circuit breaker protection.
func (bc *BreakerClient) ObtainWriteAuthorization(ctx context.Context, asin string) (string, error) {
	return castResult[string](bc.execute(func() (interface{}, error) {
		return bc.client.ObtainWriteAuthorization(ctx, asin)
	}))
}

// PushPosition uploads a position with circuit breaker protection.
func (bc *BreakerClient) PushPosition(ctx context.Context, asin string, positionMS int64, token string) error {
	_, err := bc.execute(func() (interface{}, error) {
		return nil, bc.client.PushPosition(ctx, asin, positionMS, token)
	})
	return err
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
