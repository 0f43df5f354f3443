package taskqueue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studify/video-pipeline/internal/platform/httpx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

// Client talks to the durable message queue service that drives the
// pipeline. Each step handler persists its result and then enqueues the
// next step; the queue's redelivery budget is the retry mechanism for
// transient failures.
type Client interface {
	EnsureQueue(ctx context.Context, name string, parallelism int) error
	Enqueue(ctx context.Context, queue string, targetURL string, payload any, opts EnqueueOptions) (string, error)
	GetQueue(ctx context.Context, name string) (*Queue, error)
	ListQueues(ctx context.Context) ([]Queue, error)
	DeleteQueue(ctx context.Context, name string) error
}

type EnqueueOptions struct {
	// Redelivery budget for the message. Zero means the service default.
	Retries int
	// Optional delivery delay.
	Delay time.Duration
}

type Queue struct {
	Name        string `json:"name"`
	Parallelism int    `json:"parallelism"`
	Lag         int64  `json:"lag,omitempty"`
}

type enqueueResponse struct {
	MessageID string `json:"messageId"`
}

type queueUpsertRequest struct {
	QueueName   string `json:"queueName"`
	Parallelism int    `json:"parallelism"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("task queue http %d: %s", e.StatusCode, e.Body)
}
func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	token := strings.TrimSpace(os.Getenv("TASK_QUEUE_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("missing TASK_QUEUE_TOKEN")
	}
	baseURL := strings.TrimSpace(os.Getenv("TASK_QUEUE_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://qstash.upstash.io"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 30
	if v := strings.TrimSpace(os.Getenv("TASK_QUEUE_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 2
	if v := strings.TrimSpace(os.Getenv("TASK_QUEUE_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "TaskQueueClient"),
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

// QueueNameForUser derives the per-user queue name. One queue per user with
// parallelism 1 keeps a single user's jobs ordered while different users'
// jobs run in parallel.
func QueueNameForUser(userID uuid.UUID) string {
	sum := sha256.Sum256([]byte(userID.String()))
	return "video_" + hex.EncodeToString(sum[:])[:12]
}

func (c *client) EnsureQueue(ctx context.Context, name string, parallelism int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("queue name required")
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	// Upsert: the service treats an existing name as an update, so the
	// call is safe to repeat on every job start.
	err := c.do(ctx, http.MethodPost, "/v2/queues/", nil, queueUpsertRequest{
		QueueName:   name,
		Parallelism: parallelism,
	}, nil)
	if err != nil {
		var he *httpError
		if asHTTPError(err, &he) && he.StatusCode == http.StatusPreconditionFailed {
			return fmt.Errorf("queue quota exceeded creating %q: %w", name, err)
		}
		return fmt.Errorf("ensure queue %q: %w", name, err)
	}
	return nil
}

func (c *client) Enqueue(ctx context.Context, queue string, targetURL string, payload any, opts EnqueueOptions) (string, error) {
	if strings.TrimSpace(queue) == "" {
		return "", fmt.Errorf("queue name required")
	}
	if strings.TrimSpace(targetURL) == "" {
		return "", fmt.Errorf("target url required")
	}

	headers := map[string]string{}
	if opts.Retries > 0 {
		headers["Upstash-Retries"] = strconv.Itoa(opts.Retries)
	}
	if opts.Delay > 0 {
		headers["Upstash-Delay"] = fmt.Sprintf("%ds", int(opts.Delay.Seconds()))
	}

	path := "/v2/enqueue/" + url.PathEscape(queue) + "/" + url.QueryEscape(targetURL)
	var out enqueueResponse
	if err := c.do(ctx, http.MethodPost, path, headers, payload, &out); err != nil {
		return "", fmt.Errorf("enqueue to %q: %w", queue, err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("enqueue to %q: empty message id", queue)
	}
	return out.MessageID, nil
}

func (c *client) GetQueue(ctx context.Context, name string) (*Queue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("queue name required")
	}
	var out Queue
	err := c.do(ctx, http.MethodGet, "/v2/queues/"+url.PathEscape(name), nil, nil, &out)
	if err != nil {
		var he *httpError
		if asHTTPError(err, &he) && he.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get queue %q: %w", name, err)
	}
	return &out, nil
}

func (c *client) ListQueues(ctx context.Context) ([]Queue, error) {
	var out []Queue
	if err := c.do(ctx, http.MethodGet, "/v2/queues/", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return out, nil
}

func (c *client) DeleteQueue(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("queue name required")
	}
	err := c.do(ctx, http.MethodDelete, "/v2/queues/"+url.PathEscape(name), nil, nil, nil)
	if err != nil {
		var he *httpError
		if asHTTPError(err, &he) && he.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("delete queue %q: %w", name, err)
	}
	return nil
}

func (c *client) doOnce(ctx context.Context, method, path string, headers map[string]string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, headers map[string]string, body any, out any) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, method, path, headers, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("task queue decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.Retryable(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.NextDelay(resp, attempt, 500*time.Millisecond, 5*time.Second)
		c.log.Warn("task queue request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
	}
	return fmt.Errorf("unreachable retry loop")
}

func asHTTPError(err error, target **httpError) bool {
	return errors.As(err, target)
}
