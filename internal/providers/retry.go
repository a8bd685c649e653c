package providers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrClass classifies a failed attempt as worth retrying or not.
type ErrClass int

const (
	ErrFatal ErrClass = iota
	ErrRetryable
)

// ErrUpstreamUnavailable is returned when a provider's circuit breaker is
// OPEN and the caller has no cached fallback to offer instead.
var ErrUpstreamUnavailable = errors.New("providers: upstream unavailable (circuit open)")

// RetryPolicy implements spec.md's backoff: delay = base^attempt seconds,
// plus uniform jitter in [0,1) on 429 responses specifically, capped at
// MaxAttempts attempts.
type RetryPolicy struct {
	Base        float64
	MaxAttempts int
}

// DefaultRetryPolicy matches spec.md's "max attempts 5" default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2.0, MaxAttempts: 5}
}

func (p RetryPolicy) delay(attempt int, statusCode int) time.Duration {
	d := math.Pow(p.Base, float64(attempt))
	if statusCode == http.StatusTooManyRequests {
		d += rand.Float64()
	}
	return time.Duration(d * float64(time.Second))
}

// classify maps a resty outcome to a retry decision per spec.md's
// retryable (429, 5xx, network timeout) vs fatal (other 4xx, schema
// violation) split.
func classify(resp *resty.Response, err error) ErrClass {
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return ErrFatal // body did not decode into the expected shape
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrRetryable
		}
		return ErrRetryable // connection-level failures are treated as transient
	}
	code := resp.StatusCode()
	if code == http.StatusTooManyRequests || code >= 500 {
		return ErrRetryable
	}
	return ErrFatal
}

// FetchOp performs one HTTP attempt and returns the raw response for
// classification alongside any decoded/application error.
type FetchOp func(ctx context.Context) (*resty.Response, error)

// Do runs op under the retry policy, retrying retryable failures with
// backoff+jitter and surfacing fatal failures immediately.
func (p RetryPolicy) Do(ctx context.Context, op FetchOp) (*resty.Response, error) {
	var lastResp *resty.Response
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		resp, err := op(ctx)
		lastResp, lastErr = resp, err

		if err == nil && resp != nil && resp.IsSuccess() {
			return resp, nil
		}

		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode()
		}
		if classify(resp, err) == ErrFatal {
			return resp, fatalErr(resp, err)
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(p.delay(attempt, statusCode)):
		}
	}
	return lastResp, retryExhaustedErr(lastResp, lastErr)
}

func fatalErr(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	return &httpStatusError{status: resp.StatusCode(), body: resp.String()}
}

func retryExhaustedErr(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	return &httpStatusError{status: resp.StatusCode(), body: resp.String()}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return "providers: upstream returned status " + http.StatusText(e.status)
}
