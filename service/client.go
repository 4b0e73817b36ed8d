package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AnTengye/esignflow/config"
	"github.com/AnTengye/esignflow/pkg/logger"
	"github.com/avast/retry-go/v4"
)

// Client issues one logical provider action per Call. Every attempt first
// passes the shared rate limiter; transient failures are retried with
// exponential backoff, terminal ones surface immediately.
type Client struct {
	signer     *Signer
	httpClient *http.Client
	limiter    *SlidingWindowLimiter
	endpoint   string

	maxAttempts uint
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewClient(cfg *config.ESSConfig, limiter *SlidingWindowLimiter) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://" + cfg.Host
	}
	return &Client{
		signer: NewSigner(cfg),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter:     limiter,
		endpoint:    endpoint,
		maxAttempts: uint(cfg.Retry.MaxAttempts),
		baseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		maxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}
}

// apiError is the error block of the provider response envelope
type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// Call performs one provider action and decodes the action-specific part
// of the response into result. Errors are always one of the typed
// classifications from errors.go.
func (c *Client) Call(ctx context.Context, action string, params any, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	return retry.Do(
		func() error {
			return c.doCall(ctx, action, payload, result)
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.baseDelay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn(ctx, "provider call failed, retrying",
				"action", action,
				"attempt", attempt+1,
				"error", err,
			)
		}),
	)
}

// doCall is a single attempt: rate-limit gate, sign, send, classify.
// Exactly one limiter timestamp is recorded per attempt.
func (c *Client) doCall(ctx context.Context, action string, payload []byte, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Err: err}
	}

	signed := c.signer.Sign(action, payload, time.Now())

	req, err := http.NewRequestWithContext(ctx, signed.Method, c.endpoint, bytes.NewReader(signed.Body))
	if err != nil {
		return &NetworkError{Err: err}
	}
	for key, value := range signed.Headers {
		if key == "Host" {
			req.Host = value
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	var outer struct {
		Response json.RawMessage `json:"Response"`
	}
	if err := json.Unmarshal(body, &outer); err != nil || len(outer.Response) == 0 {
		return &ProviderError{
			Code:    fmt.Sprintf("HTTPError.%d", resp.StatusCode),
			Message: fmt.Sprintf("provider returned HTTP %d without a response envelope", resp.StatusCode),
		}
	}

	var meta struct {
		Error     *apiError `json:"Error"`
		RequestID string    `json:"RequestId"`
	}
	if err := json.Unmarshal(outer.Response, &meta); err != nil {
		return &DataShapeError{Reason: fmt.Sprintf("malformed %s response envelope", action)}
	}

	if meta.Error != nil {
		provErr := &ProviderError{
			Code:      meta.Error.Code,
			RequestID: meta.RequestID,
		}
		if retryableCodes[provErr.Code] {
			provErr.Message = meta.Error.Message
		} else {
			provErr.Message = MessageForCode(provErr.Code)
		}
		return provErr
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Code:      fmt.Sprintf("HTTPError.%d", resp.StatusCode),
			Message:   fmt.Sprintf("provider returned HTTP %d", resp.StatusCode),
			RequestID: meta.RequestID,
		}
	}

	if result != nil {
		if err := json.Unmarshal(outer.Response, result); err != nil {
			return &DataShapeError{Reason: fmt.Sprintf("malformed %s response body", action)}
		}
	}

	return nil
}
