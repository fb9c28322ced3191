package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"finpath-insight/internal/config"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultRetryWaitTime    = 500 * time.Millisecond
	defaultRetryMaxWaitTime = 10 * time.Second
	maxErrorBody            = 200
)

// NewHTTPClient creates a resty client with retry and backoff for one provider.
func NewHTTPClient(cfg config.ProviderConfig, logger zerolog.Logger) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = defaultRetryWaitTime
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "finpath/1.0"
	}

	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook(logger))
}

// retryCondition retries network errors, 5xx, 429 and 408.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

func retryHook(logger zerolog.Logger) func(*resty.Response, error) {
	return func(r *resty.Response, err error) {
		event := logger.Debug().
			Str("url", r.Request.URL).
			Int("attempt", r.Request.Attempt)
		if err != nil {
			event.Err(err).Msg("retrying request after error")
			return
		}
		event.Int("status_code", r.StatusCode()).Msg("retrying request after status")
	}
}

// endpoint bundles what every provider needs to call its API.
type endpoint struct {
	name     string
	http     *resty.Client
	throttle *Throttle
	logger   zerolog.Logger
	apiKey   string
}

func newEndpoint(name string, cfg config.ProviderConfig, logger zerolog.Logger) endpoint {
	log := logger.With().Str("component", "fetcher").Str("provider", name).Logger()
	return endpoint{
		name:     name,
		http:     NewHTTPClient(cfg, log),
		throttle: NewThrottle(cfg.RequestsPerSecond),
		logger:   log,
		apiKey:   cfg.APIKey,
	}
}

// getJSON issues a GET and decodes a 2xx body into dst.
func (e endpoint) getJSON(ctx context.Context, path string, query, headers map[string]string, dst any) error {
	if err := e.throttle.Wait(ctx); err != nil {
		return NewTimeoutError(err)
	}

	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeaders(headers).
		Get(path)
	if err != nil {
		return classifyTransportError(err)
	}

	body := resp.String()
	if !resp.IsSuccess() {
		fe := ClassifyHTTPError(resp.StatusCode())
		if fe.Type == ErrorTypeClient {
			if msg := strings.TrimSpace(body); msg != "" {
				fe.Message = truncate(msg, maxErrorBody)
			}
		}
		return fe
	}

	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return &FetchError{Type: ErrorTypeValidation, Message: "malformed JSON response", Cause: err}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
