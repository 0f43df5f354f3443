package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SegmenterConfig controls how a transcript is cut into time-bounded
// segments for the embedding queue. Timing comes from a words-per-second
// estimate, rescaled to the real media duration when the speech provider
// reported one.
type SegmenterConfig struct {
	TargetSegmentSeconds float64
	MaxSegmentSeconds    float64
	MinSegmentSeconds    float64
	OverlapSeconds       float64
	WordsPerSecond       float64
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		TargetSegmentSeconds: 600,
		MaxSegmentSeconds:    900,
		MinSegmentSeconds:    300,
		OverlapSeconds:       10,
		WordsPerSecond:       2.5,
	}
}

type SegmentDraft struct {
	Index     int
	StartSec  float64
	EndSec    float64
	Text      string
	WordCount int
}

// ContentHash is the dedup key for embedding queue rows. Deterministic for
// identical text, so re-running the final stage cannot enqueue duplicates.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// SegmentTranscript splits a transcript into segments of roughly
// TargetSegmentSeconds, never exceeding MaxSegmentSeconds, breaking only at
// sentence boundaries. A short tail below MinSegmentSeconds is merged into
// the previous segment.
func SegmentTranscript(text string, totalDurationSec float64, cfg SegmenterConfig) []SegmentDraft {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if cfg.WordsPerSecond <= 0 {
		cfg.WordsPerSecond = 2.5
	}
	if cfg.TargetSegmentSeconds <= 0 {
		cfg.TargetSegmentSeconds = 600
	}
	if cfg.MaxSegmentSeconds < cfg.TargetSegmentSeconds {
		cfg.MaxSegmentSeconds = cfg.TargetSegmentSeconds * 1.5
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	totalWords := 0
	words := make([]int, len(sentences))
	for i, s := range sentences {
		words[i] = len(strings.Fields(s))
		totalWords += words[i]
	}
	if totalWords == 0 {
		return nil
	}

	// Seconds per word, rescaled so estimated time spans the real duration
	// when it is known.
	secPerWord := 1.0 / cfg.WordsPerSecond
	if totalDurationSec > 0 {
		secPerWord = totalDurationSec / float64(totalWords)
	}

	type chunk struct {
		text  []string
		words int
		start float64
		end   float64
	}

	var out []SegmentDraft
	cur := chunk{}
	cursor := 0.0

	flush := func() {
		if cur.words == 0 {
			return
		}
		out = append(out, SegmentDraft{
			Index:     len(out),
			StartSec:  round2(cur.start),
			EndSec:    round2(cur.end),
			Text:      strings.Join(cur.text, " "),
			WordCount: cur.words,
		})
		cur = chunk{}
	}

	for i, s := range sentences {
		dur := float64(words[i]) * secPerWord
		if cur.words == 0 {
			cur.start = cursor - cfg.OverlapSeconds
			if cur.start < 0 || len(out) == 0 {
				cur.start = cursor
			}
			cur.end = cursor
		}

		segDur := cur.end + dur - cur.start
		if cur.words > 0 && segDur > cfg.MaxSegmentSeconds {
			flush()
			cur.start = cursor - cfg.OverlapSeconds
			if cur.start < 0 {
				cur.start = cursor
			}
			cur.end = cursor
		}

		cur.text = append(cur.text, s)
		cur.words += words[i]
		cur.end = cursor + dur
		cursor += dur

		if cur.end-cur.start >= cfg.TargetSegmentSeconds {
			flush()
		}
	}
	flush()

	// Merge an undersized tail into its predecessor.
	if n := len(out); n >= 2 && cfg.MinSegmentSeconds > 0 {
		last := out[n-1]
		if last.EndSec-last.StartSec < cfg.MinSegmentSeconds {
			prev := &out[n-2]
			prev.Text = prev.Text + " " + last.Text
			prev.WordCount += last.WordCount
			prev.EndSec = last.EndSec
			out = out[:n-1]
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Sentence ends only when followed by whitespace or EOF, so
			// "3.14" stays intact.
			if i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(b.String()); s != "" {
					out = append(out, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
