package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/studify/video-pipeline/internal/platform/ctxutil"
	"github.com/studify/video-pipeline/internal/platform/gcp"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type gcpService struct {
	log        *logger.Logger
	client     *gspeech.Client
	httpClient *http.Client
	maxRetries int
}

func NewGCP(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Speech")

	ctx := context.Background()
	opts := append([]option.ClientOption{}, gcp.ClientOptionsFromEnv()...)
	c, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &gcpService{
		log:        slog,
		client:     c,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		maxRetries: 4,
	}, nil
}

func (s *gcpService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *gcpService) Transcribe(ctx context.Context, req Request) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if strings.TrimSpace(req.AudioURL) == "" {
		return nil, fmt.Errorf("audio url required")
	}

	rcfg := buildRecognitionConfig(req.MimeType, req.AudioURL, req.Language)

	var audioSource *speechpb.RecognitionAudio
	if strings.HasPrefix(req.AudioURL, "gs://") {
		audioSource = &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: req.AudioURL},
		}
	} else {
		raw, err := s.downloadAudio(ctx, req.AudioURL)
		if err != nil {
			return nil, fmt.Errorf("fetch audio: %w", err)
		}
		audioSource = &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: raw},
		}
	}

	lrReq := &speechpb.LongRunningRecognizeRequest{Config: rcfg, Audio: audioSource}
	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, lrReq)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	return parseRecognizeResponse(resp, rcfg.LanguageCode), nil
}

func (s *gcpService) downloadAudio(ctx context.Context, audioURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("audio download http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func buildRecognitionConfig(mimeType string, audioURL string, language string) *speechpb.RecognitionConfig {
	if language == "" {
		language = "en-US"
	}
	return &speechpb.RecognitionConfig{
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   inferEncoding(mimeType, audioURL),
	}
}

func inferEncoding(mimeType string, audioURL string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(audioURL))

	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func parseRecognizeResponse(resp *speechpb.LongRunningRecognizeResponse, language string) *Result {
	out := &Result{Provider: "gcp_speech", Language: language}
	if resp == nil || len(resp.Results) == 0 {
		return out
	}

	var full strings.Builder
	var lastEnd float64
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(strings.TrimSpace(alt.Transcript))

		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			if end := durToSec(w.EndTime); end > lastEnd {
				lastEnd = end
			}
		}
	}

	out.Text = strings.TrimSpace(full.String())
	out.DurationSeconds = lastEnd
	out.WordCount = len(strings.Fields(out.Text))
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *gcpService) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}
		s.log.Warn("speech request retrying",
			"attempt", attempt+1,
			"code", code.String(),
			"backoff", backoff.String(),
		)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
