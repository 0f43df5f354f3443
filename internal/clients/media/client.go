package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/studify/video-pipeline/internal/platform/httpx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

// Transformer is the media transformation service that does the actual
// video compression and audio extraction. The pipeline never touches raw
// media bytes itself; it hands over URLs and records the returned ones.
type Transformer interface {
	CompressVideo(ctx context.Context, req CompressRequest) (*CompressResult, error)
	ExtractAudio(ctx context.Context, req ExtractAudioRequest) (*ExtractAudioResult, error)
}

type CompressRequest struct {
	SourceURL string `json:"source_url"`
	// Folder/key prefix under which the service stores the derived asset.
	OutputPrefix string `json:"output_prefix,omitempty"`
}

type CompressResult struct {
	CompressedURL  string `json:"compressed_url"`
	CompressedSize int64  `json:"compressed_size"`
}

type ExtractAudioRequest struct {
	VideoURL     string `json:"video_url"`
	Format       string `json:"format,omitempty"`
	OutputPrefix string `json:"output_prefix,omitempty"`
}

type ExtractAudioResult struct {
	AudioURL  string `json:"audio_url"`
	AudioSize int64  `json:"audio_size"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("media transform http %d: %s", e.StatusCode, e.Body)
}
func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Transformer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("MEDIA_TRANSFORM_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing MEDIA_TRANSFORM_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	apiKey := strings.TrimSpace(os.Getenv("MEDIA_TRANSFORM_API_KEY"))

	// Transcodes are slow; the per-request timeout has to cover a full
	// compression pass, not a typical API roundtrip.
	timeoutSec := 600
	if v := strings.TrimSpace(os.Getenv("MEDIA_TRANSFORM_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 1
	if v := strings.TrimSpace(os.Getenv("MEDIA_TRANSFORM_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "MediaTransformClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) CompressVideo(ctx context.Context, req CompressRequest) (*CompressResult, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, fmt.Errorf("source url required")
	}
	var out CompressResult
	if err := c.do(ctx, "/v1/video/compress", req, &out); err != nil {
		return nil, fmt.Errorf("compress video: %w", err)
	}
	if out.CompressedURL == "" {
		return nil, fmt.Errorf("compress video: empty result url")
	}
	return &out, nil
}

func (c *client) ExtractAudio(ctx context.Context, req ExtractAudioRequest) (*ExtractAudioResult, error) {
	if strings.TrimSpace(req.VideoURL) == "" {
		return nil, fmt.Errorf("video url required")
	}
	if req.Format == "" {
		req.Format = "mp3"
	}
	var out ExtractAudioResult
	if err := c.do(ctx, "/v1/video/extract-audio", req, &out); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	if out.AudioURL == "" {
		return nil, fmt.Errorf("extract audio: empty result url")
	}
	return &out, nil
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

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

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("media transform decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.Retryable(err) || attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.NextDelay(resp, attempt, 2*time.Second, 30*time.Second)
		c.log.Warn("media transform request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
	}
	return fmt.Errorf("unreachable retry loop")
}
