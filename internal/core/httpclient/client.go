package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"delivery-agent/internal/core/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// LoggingRoundTripper captures request details for debugging.
type LoggingRoundTripper struct {
	// Proxied is the underlying RoundTripper to execute the request.
	Proxied http.RoundTripper
}

// RoundTrip executes the request and logs details.
func (lrt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	logger.Get().Debug("HTTP Request Started",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	)

	resp, err := lrt.Proxied.RoundTrip(req)

	duration := time.Since(start)

	if err != nil {
		logger.Get().Error("HTTP Request Failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Get().Debug("HTTP Request Completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	return resp, nil
}

// RetryRoundTripper retries transport failures and 5xx responses with
// exponential backoff. Client errors (4xx) are never retried; they carry
// meaning for the caller. Requests whose body cannot be replayed are
// attempted once.
type RetryRoundTripper struct {
	// Proxied is the underlying RoundTripper to execute the request.
	Proxied http.RoundTripper
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries uint64
}

// RoundTrip executes the request, retrying on transient failures.
func (rrt *RetryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		// Body can only be consumed once; no safe way to retry.
		return rrt.Proxied.RoundTrip(req)
	}

	var resp *http.Response
	attempt := 0

	operation := func() error {
		attempt++

		r := req
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to rewind request body: %w", err))
			}
			r = req.Clone(req.Context())
			r.Body = body
		}

		var err error
		resp, err = rrt.Proxied.RoundTrip(r)
		if err != nil {
			return err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			// Drain so the connection can be reused by the next attempt.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			status := resp.StatusCode
			resp = nil
			return fmt.Errorf("backend returned status %d", status)
		}

		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), rrt.MaxRetries)

	if err := backoff.Retry(operation, backoff.WithContext(b, req.Context())); err != nil {
		if attempt > 1 {
			logger.Get().Warn("HTTP request retries exhausted",
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.Int("attempts", attempt),
			)
		}
		return nil, err
	}

	return resp, nil
}

// NewClient returns an http.Client with logging and bounded-retry middleware.
func NewClient(timeout time.Duration, maxRetries int) *http.Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &http.Client{
		Transport: &LoggingRoundTripper{
			Proxied: &RetryRoundTripper{
				Proxied:    http.DefaultTransport,
				MaxRetries: uint64(maxRetries),
			},
		},
		Timeout: timeout,
	}
}
