package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// maxAttempts bounds idempotent requests: one try plus three retries.
const maxAttempts = 4

// statusError is a transient HTTP status worth retrying.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// transient reports whether a response or transport error may succeed on a
// later attempt. A retried response's body is drained and closed.
func transient(resp *http.Response, err error) (bool, error) {
	if err != nil {
		return true, err
	}
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return true, &statusError{code: resp.StatusCode, body: string(body)}
}

// backoff grows quadratically with the attempt number, plus up to 50% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	wait := time.Duration(attempt*attempt) * base
	return wait + time.Duration(rand.Int64N(int64(wait/2)+1))
}

// doWithRetry sends an idempotent request, retrying network failures, 5xx
// and 429 responses. buildReq is called once per attempt.
func doWithRetry(ctx context.Context, client *http.Client, base time.Duration, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var cause error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff(base, attempt-1)
			logger.Warn("retrying backend request", "attempt", attempt, "backoff", wait, "err", cause)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		retry, reason := transient(resp, err)
		if !retry {
			return resp, nil
		}
		cause = reason
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, cause)
}
