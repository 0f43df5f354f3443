package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/studify/video-pipeline/internal/platform/ctxutil"
	"github.com/studify/video-pipeline/internal/platform/httpx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type whisperHTTPError struct {
	StatusCode int
	Body       string
}

func (e *whisperHTTPError) Error() string {
	return fmt.Sprintf("whisper http %d: %s", e.StatusCode, e.Body)
}
func (e *whisperHTTPError) HTTPStatusCode() int { return e.StatusCode }

type whisperService struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewWhisper(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("WHISPER_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing WHISPER_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	model := strings.TrimSpace(os.Getenv("WHISPER_MODEL"))
	if model == "" {
		model = "whisper-1"
	}

	timeoutSec := 900
	if v := strings.TrimSpace(os.Getenv("WHISPER_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 2
	if v := strings.TrimSpace(os.Getenv("WHISPER_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &whisperService{
		log:        log.With("service", "WhisperClient"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("WHISPER_API_KEY")),
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (s *whisperService) Close() error { return nil }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (s *whisperService) Transcribe(ctx context.Context, req Request) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(req.AudioURL) == "" {
		return nil, fmt.Errorf("audio url required")
	}

	audio, fileName, err := s.fetchAudio(ctx, req.AudioURL)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}

	resp, err := s.transcribeBytes(ctx, audio, fileName, req.Language)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Text)
	return &Result{
		Provider:        "whisper",
		Text:            text,
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
		WordCount:       len(strings.Fields(text)),
	}, nil
}

func (s *whisperService) fetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &whisperHTTPError{StatusCode: resp.StatusCode, Body: "audio download failed"}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	name := path.Base(audioURL)
	if name == "" || name == "." || name == "/" {
		name = "audio.mp3"
	}
	return raw, name, nil
}

func (s *whisperService) transcribeBytes(ctx context.Context, audio []byte, fileName string, language string) (*whisperResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, raw, err := s.postOnce(ctx, audio, fileName, language)
		if err == nil {
			var out whisperResponse
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				return nil, fmt.Errorf("whisper decode error: %w; raw=%s", uErr, string(raw))
			}
			return &out, nil
		}
		lastErr = err
		if !httpx.Retryable(err) || attempt == s.maxRetries {
			return nil, err
		}
		sleepFor := httpx.NextDelay(resp, attempt, 2*time.Second, 30*time.Second)
		s.log.Warn("whisper request retrying",
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
	}
	return nil, lastErr
}

func (s *whisperService) postOnce(ctx context.Context, audio []byte, fileName string, language string) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, nil, err
	}
	if err := mw.WriteField("model", s.model); err != nil {
		return nil, nil, err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, nil, err
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &whisperHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
