package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ruralpay/tourwallet/internal/config"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// railClient is the HTTP plumbing shared by the API-based adapters
type railClient struct {
	key           ProviderKey
	baseURL       string
	apiKey        string
	webhookSecret string
	timeout       time.Duration
	http          *http.Client
	logger        *zap.Logger
}

func newRailClient(key ProviderKey, cfg config.ProviderConfig, client *http.Client) railClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return railClient{
		key:           key,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		http:          client,
		logger:        zap.L().Named("provider").With(zap.String("provider", string(key))),
	}
}

func (c railClient) Key() ProviderKey { return c.key }

func (c railClient) WebhookSecret() string { return c.webhookSecret }

type railError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *railError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// post sends body under the per-provider timeout and classifies the answer.
// A 2xx JSON body is decoded into out when out is not nil.
func (c railClient) post(ctx context.Context, path, idempotencyKey, contentType string, body []byte, out any) (int, Result) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, Result{Provider: c.key, Outcome: OutcomeFatal, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("rail call failed", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		return 0, Result{Provider: c.key, Outcome: OutcomeRetryable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, Result{Provider: c.key, Outcome: OutcomeRetryable, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				// accepted by the rail, a retry with the same key is deduplicated there
				return resp.StatusCode, Result{Provider: c.key, Outcome: OutcomeRetryable, Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return resp.StatusCode, Result{Provider: c.key, Outcome: OutcomeOK}

	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		c.logger.Warn("rail unavailable",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("status", resp.StatusCode))
		return resp.StatusCode, Result{
			Provider:   c.key,
			Outcome:    OutcomeRetryable,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("status %d", resp.StatusCode),
		}

	default:
		return resp.StatusCode, Result{Provider: c.key, Outcome: OutcomeFatal, Err: decodeRailError(resp.StatusCode, respBody)}
	}
}

func (c railClient) postJSON(ctx context.Context, path, idempotencyKey string, payload, out any) (int, Result) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, Result{Provider: c.key, Outcome: OutcomeFatal, Err: err}
	}
	return c.post(ctx, path, idempotencyKey, "application/json", body, out)
}

func decodeRailError(status int, body []byte) error {
	var re railError
	if err := json.Unmarshal(body, &re); err == nil && (re.Code != "" || re.Message != "") {
		return &re
	}
	if len(body) == 0 {
		return fmt.Errorf("status %d", status)
	}
	return errors.New(strings.TrimSpace(string(body)))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
