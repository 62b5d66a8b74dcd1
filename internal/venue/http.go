package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP TRANSPORT - Shared rate-limited, retrying request path
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every venue client owns one Transport. Token bucket first, then the request,
// then classification. 429 sleeps 3s/6s/12s before surfacing; transport errors
// retry up to 3 times with the same backoff; auth and business errors surface
// immediately.
//
// ═══════════════════════════════════════════════════════════════════════════════

const maxRetries = 3

var backoffSteps = []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second}

// Transport is the shared request path for one venue.
type Transport struct {
	venueName string
	client    *http.Client
	limiter   *rate.Limiter

	// SignFunc mutates the request with venue-specific auth headers.
	// Nil for public venues.
	SignFunc func(req *http.Request, body []byte) error
}

// NewTransport builds a transport with a token-bucket limiter.
func NewTransport(venueName string, rps float64, burst int, timeout time.Duration) *Transport {
	return &Transport{
		venueName: venueName,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Do performs one request with rate limiting, signing, retry and backoff.
// The returned bytes are the response body on 2xx.
func (t *Transport) Do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	return t.DoWithHeaders(ctx, method, url, body, nil)
}

// DoWithHeaders is Do with extra request headers, for venues whose auth
// material is computed per request rather than via SignFunc.
func (t *Transport) DoWithHeaders(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, Wrap(t.venueName, method+" "+url, KindTransport, err)
		}

		data, err := t.once(ctx, method, url, body, headers)
		if err == nil {
			return data, nil
		}

		if !Retryable(err) || attempt >= maxRetries-1 {
			return nil, err
		}

		step := backoffSteps[attempt]
		if KindOf(err) == KindRateLimit {
			log.Warn().
				Str("venue", t.venueName).
				Dur("backoff", step).
				Msg("Rate limited, backing off")
		}
		select {
		case <-time.After(step):
		case <-ctx.Done():
			return nil, Wrap(t.venueName, method+" "+url, KindTransport, ctx.Err())
		}
	}
}

func (t *Transport) once(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, Wrap(t.venueName, method, KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if t.SignFunc != nil {
		if err := t.SignFunc(req, body); err != nil {
			return nil, Wrap(t.venueName, method, KindAuth, err)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, Wrap(t.venueName, method+" "+url, KindTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(t.venueName, method+" "+url, KindTransport, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Wrap(t.venueName, method+" "+url, KindRateLimit,
			fmt.Errorf("HTTP 429"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Wrap(t.venueName, method+" "+url, KindAuth,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode >= 500:
		return nil, Wrap(t.venueName, method+" "+url, KindTransport,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	default:
		return nil, Wrap(t.venueName, method+" "+url, KindBusiness,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
