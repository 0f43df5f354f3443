package speech

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/studify/video-pipeline/internal/platform/logger"
)

// Transcriber converts an audio artifact into transcript text. Two
// implementations exist: a Whisper-style REST server and Google Cloud
// Speech-to-Text, selected with SPEECH_PROVIDER.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
	Close() error
}

type Request struct {
	AudioURL string
	// BCP-47 language hint, e.g. "en-US". Empty lets the provider detect.
	Language string
	MimeType string
}

type Result struct {
	Provider        string  `json:"provider"`
	Text            string  `json:"text"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	WordCount       int     `json:"word_count,omitempty"`
}

func NewFromEnv(log *logger.Logger) (Transcriber, error) {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("SPEECH_PROVIDER")))
	switch provider {
	case "", "whisper":
		return NewWhisper(log)
	case "gcp", "google":
		return NewGCP(log)
	default:
		return nil, fmt.Errorf("unknown SPEECH_PROVIDER %q", provider)
	}
}
