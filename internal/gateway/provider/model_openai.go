package provider

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

	"agentrade/internal/logger"

	"golang.org/x/time/rate"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// ErrEmptyChoices 表示接口返回 2xx 但没有任何候选内容。
var ErrEmptyChoices = errors.New("empty choices")

// OpenAIChatClient 兼容 OpenAI / Gemini OpenAI 兼容层 / DeepSeek 的 /chat/completions。
type OpenAIChatClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// 429/5xx 的重试次数，0 表示默认 2 次，负数表示不重试。
	MaxRetries   int
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
	// Limiter 为空时不限速。
	Limiter *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

var _ ModelProvider = (*OpenAIChatClient)(nil)

func (c *OpenAIChatClient) ID() string { return c.Model }

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = defaultOpenAIBase
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) retries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return 2
	default:
		return c.MaxRetries
	}
}

func (c *OpenAIChatClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	if payload.ExpectJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := c.endpoint()
	logger.Debugf("[AI] 请求: POST %s model=%s auth=%s bytes=%d", url, c.Model, maskKey(c.APIKey), len(raw))

	httpc := c.httpClient()
	maxRetries := c.retries()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		out, retryAfter, err := c.do(ctx, httpc, url, raw)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if retryAfter < 0 || attempt == maxRetries {
			break
		}
		wait := retryAfter
		if wait == 0 {
			wait = backoff(attempt)
		}
		logger.Warnf("[AI] %s 第 %d 次请求失败，%s 后重试: %v", c.Model, attempt+1, wait, err)
		if err := c.wait(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// do returns retryAfter < 0 for non-retryable failures, 0 for "use backoff".
func (c *OpenAIChatClient) do(ctx context.Context, httpc *http.Client, url string, body []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", -1, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", -1, ctx.Err()
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		var r chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return "", -1, fmt.Errorf("decode chat response: %w", err)
		}
		if len(r.Choices) == 0 {
			return "", -1, ErrEmptyChoices
		}
		return r.Choices[0].Message.Content, 0, nil
	}

	var eresp errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &eresp)
	msg := strings.TrimSpace(eresp.Error.Message)
	if msg == "" {
		msg = resp.Status
	}
	err = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	if !retryable(resp.StatusCode) {
		return "", -1, err
	}
	wait := time.Duration(0)
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	return "", wait, err
}

func (c *OpenAIChatClient) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff: 0.8s, 1.6s, 3.2s ... 封顶 8s
func backoff(attempt int) time.Duration {
	wait := (800 * time.Millisecond) << attempt
	if wait > 8*time.Second || wait <= 0 {
		wait = 8 * time.Second
	}
	return wait
}

func maskKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
