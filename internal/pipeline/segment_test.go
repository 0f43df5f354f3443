package pipeline

import (
	"fmt"
	"strings"
	"testing"
)

func transcriptOfSentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about the lecture topic in some detail here. ", i)
	}
	return b.String()
}

func TestSegmentTranscript_Empty(t *testing.T) {
	if got := SegmentTranscript("", 120, DefaultSegmenterConfig()); got != nil {
		t.Fatalf("expected nil for empty transcript, got %d segments", len(got))
	}
	if got := SegmentTranscript("   \n\t ", 120, DefaultSegmenterConfig()); got != nil {
		t.Fatalf("expected nil for whitespace transcript, got %d segments", len(got))
	}
}

func TestSegmentTranscript_ShortTranscriptSingleSegment(t *testing.T) {
	text := "This is a short lecture. It has only two sentences."
	segs := SegmentTranscript(text, 30, DefaultSegmenterConfig())
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].StartSec != 0 {
		t.Fatalf("first segment must start at 0, got %v", segs[0].StartSec)
	}
	if segs[0].WordCount != len(strings.Fields(text)) {
		t.Fatalf("word count: got %d want %d", segs[0].WordCount, len(strings.Fields(text)))
	}
}

func TestSegmentTranscript_Deterministic(t *testing.T) {
	text := transcriptOfSentences(400)
	a := SegmentTranscript(text, 3600, DefaultSegmenterConfig())
	b := SegmentTranscript(text, 3600, DefaultSegmenterConfig())
	if len(a) != len(b) {
		t.Fatalf("segment counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("segment %d differs between runs", i)
		}
	}
}

func TestSegmentTranscript_BoundsAndOrdering(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	text := transcriptOfSentences(1200)
	total := 7200.0
	segs := SegmentTranscript(text, total, cfg)
	if len(segs) < 2 {
		t.Fatalf("expected a long transcript to produce multiple segments, got %d", len(segs))
	}

	for i, s := range segs {
		if s.Index != i {
			t.Fatalf("segment %d has index %d", i, s.Index)
		}
		if s.EndSec <= s.StartSec {
			t.Fatalf("segment %d has non-positive span [%v, %v]", i, s.StartSec, s.EndSec)
		}
		if span := s.EndSec - s.StartSec; span > cfg.MaxSegmentSeconds+1 {
			t.Fatalf("segment %d span %v exceeds max %v", i, span, cfg.MaxSegmentSeconds)
		}
		if strings.TrimSpace(s.Text) == "" {
			t.Fatalf("segment %d has empty text", i)
		}
		if i > 0 && s.StartSec >= s.EndSec {
			t.Fatalf("segment %d not ordered", i)
		}
	}

	// Later segments start before the previous one ends by at most the
	// configured overlap.
	for i := 1; i < len(segs); i++ {
		gap := segs[i-1].EndSec - segs[i].StartSec
		if gap < 0 {
			t.Fatalf("segment %d leaves a gap of %v seconds", i, -gap)
		}
		if gap > cfg.OverlapSeconds+0.01 {
			t.Fatalf("segment %d overlap %v exceeds configured %v", i, gap, cfg.OverlapSeconds)
		}
	}

	lastEnd := segs[len(segs)-1].EndSec
	if lastEnd < total-1 || lastEnd > total+1 {
		t.Fatalf("final segment end %v does not cover duration %v", lastEnd, total)
	}
}

func TestSegmentTranscript_TailMerge(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	// 3600s over segments targeting 600s leaves a tail; a tail shorter than
	// MinSegmentSeconds must be folded into its predecessor.
	text := transcriptOfSentences(900)
	segs := SegmentTranscript(text, 3650, cfg)
	last := segs[len(segs)-1]
	if span := last.EndSec - last.StartSec; span < cfg.MinSegmentSeconds && len(segs) > 1 {
		t.Fatalf("tail segment of %v seconds survived the merge", span)
	}
}

func TestSegmentTranscript_UnknownDurationUsesEstimate(t *testing.T) {
	cfg := DefaultSegmenterConfig()
	text := transcriptOfSentences(100)
	segs := SegmentTranscript(text, 0, cfg)
	if len(segs) == 0 {
		t.Fatalf("expected segments without a known duration")
	}
	totalWords := len(strings.Fields(text))
	wantEnd := float64(totalWords) / cfg.WordsPerSecond
	gotEnd := segs[len(segs)-1].EndSec
	if gotEnd < wantEnd-1 || gotEnd > wantEnd+1 {
		t.Fatalf("estimated end %v, want about %v", gotEnd, wantEnd)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third one? Trailing text without period")
	if len(got) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %v", len(got), got)
	}

	// Decimal points are not sentence boundaries.
	got = splitSentences("Pi is 3.14 approximately. Next sentence.")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "3.14") {
		t.Fatalf("decimal split apart: %v", got)
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("hello world")
	b := ContentHash("  hello world \n")
	if a != b {
		t.Fatalf("hash must ignore surrounding whitespace")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
	if a == ContentHash("hello worlds") {
		t.Fatalf("different text must hash differently")
	}
}
