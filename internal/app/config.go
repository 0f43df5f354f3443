package app

import (
	"time"

	"github.com/studify/video-pipeline/internal/platform/envutil"
)

type Config struct {
	Port          string
	PublicBaseURL string

	// Queue webhook signature keys. Two keys are accepted so the queue
	// provider can rotate without dropping in-flight deliveries.
	QueueCurrentSigningKey string
	QueueNextSigningKey    string

	MaxRetries     int
	EnqueueRetries int
	StepTimeout    time.Duration

	Environment string
	Version     string
}

func LoadConfig() Config {
	return Config{
		Port:                   envutil.Str("PORT", "8080"),
		PublicBaseURL:          envutil.Str("PUBLIC_BASE_URL", "http://localhost:8080"),
		QueueCurrentSigningKey: envutil.Str("QUEUE_CURRENT_SIGNING_KEY", ""),
		QueueNextSigningKey:    envutil.Str("QUEUE_NEXT_SIGNING_KEY", ""),
		MaxRetries:             envutil.Int("PIPELINE_MAX_RETRIES", 3),
		EnqueueRetries:         envutil.Int("PIPELINE_ENQUEUE_RETRIES", 3),
		StepTimeout:            envutil.Dur("PIPELINE_STEP_TIMEOUT", 15*time.Minute),
		Environment:            envutil.Str("APP_ENV", "development"),
		Version:                envutil.Str("APP_VERSION", ""),
	}
}
