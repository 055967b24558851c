package core

import (
	"io"
	"net/http"
	"time"
)

// retryTransport retries idempotent-safe failures: transport errors, 429 and
// 5xx responses. Backoff doubles per attempt and respects the request context.
type retryTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
}

func newRetryTransport(base http.RoundTripper, retries int, backoff time.Duration) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if retries <= 0 {
		return base
	}
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	return &retryTransport{base: base, retries: retries, backoff: backoff}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	replayable := req.Body == nil || req.GetBody != nil
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req = req.Clone(req.Context())
			req.Body = body
		}

		resp, err := t.base.RoundTrip(req)
		if !replayable || !retryable(resp, err) || attempt >= t.retries {
			return resp, err
		}
		if resp != nil {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}

		timer := time.NewTimer(t.backoff * time.Duration(1<<attempt))
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}
