package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/studify/video-pipeline/internal/data/repos/testutil"
)

func newWhisperTestServer(t *testing.T, transcription whisperResponse) (Transcriber, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/lecture.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake-mp3-bytes"))
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format: %q", got)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model: %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file part missing: %v", err)
		}
		_ = json.NewEncoder(w).Encode(transcription)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("WHISPER_BASE_URL", srv.URL)
	t.Setenv("WHISPER_API_KEY", "wk")
	t.Setenv("WHISPER_MAX_RETRIES", "0")

	c, err := NewWhisper(testutil.Logger(t))
	if err != nil {
		t.Fatalf("new whisper client: %v", err)
	}
	return c, srv
}

func TestWhisperTranscribe(t *testing.T) {
	c, srv := newWhisperTestServer(t, whisperResponse{
		Text:     "  Hello class. Today we cover queues.  ",
		Language: "en",
		Duration: 92.5,
	})

	res, err := c.Transcribe(context.Background(), Request{
		AudioURL: srv.URL + "/audio/lecture.mp3",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Provider != "whisper" {
		t.Fatalf("provider: %q", res.Provider)
	}
	if res.Text != "Hello class. Today we cover queues." {
		t.Fatalf("text not trimmed: %q", res.Text)
	}
	if res.DurationSeconds != 92.5 {
		t.Fatalf("duration: %v", res.DurationSeconds)
	}
	if res.WordCount != 6 {
		t.Fatalf("word count: %d", res.WordCount)
	}
}

func TestWhisperTranscribeEmptyURL(t *testing.T) {
	c, _ := newWhisperTestServer(t, whisperResponse{})
	if _, err := c.Transcribe(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error for empty audio url")
	}
}

func TestWhisperAudioFetchFailure(t *testing.T) {
	c, srv := newWhisperTestServer(t, whisperResponse{})
	_, err := c.Transcribe(context.Background(), Request{AudioURL: srv.URL + "/audio/missing.mp3"})
	if err == nil {
		t.Fatalf("expected error when audio download fails")
	}
	if !strings.Contains(err.Error(), "fetch audio") {
		t.Fatalf("error should mention fetch: %v", err)
	}
}

func TestNewFromEnvProviderSelection(t *testing.T) {
	t.Setenv("WHISPER_BASE_URL", "https://whisper.internal")
	t.Setenv("SPEECH_PROVIDER", "")
	c, err := NewFromEnv(testutil.Logger(t))
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*whisperService); !ok {
		t.Fatalf("default provider must be whisper, got %T", c)
	}

	t.Setenv("SPEECH_PROVIDER", "parakeet")
	if _, err := NewFromEnv(testutil.Logger(t)); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
