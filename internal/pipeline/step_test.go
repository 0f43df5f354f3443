package pipeline

import "testing"

func TestParseStep(t *testing.T) {
	for _, s := range AllSteps() {
		got, err := ParseStep(s.String())
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got != s {
			t.Fatalf("parse %q: got %q", s, got)
		}
	}

	if got, err := ParseStep("  Compress "); err != nil || got != StepCompress {
		t.Fatalf("expected case/space tolerant parse, got %q err=%v", got, err)
	}

	if _, err := ParseStep("upload"); err == nil {
		t.Fatalf("expected error for unknown step")
	}
	if _, err := ParseStep(""); err == nil {
		t.Fatalf("expected error for empty step")
	}
}

func TestStepChainOrder(t *testing.T) {
	want := []Step{StepCompress, StepAudioConvert, StepTranscribe, StepEnqueueEmbeddings}

	cur := StepCompress
	for i := 0; ; i++ {
		if cur != want[i] {
			t.Fatalf("position %d: got %q want %q", i, cur, want[i])
		}
		next, ok := cur.Next()
		if !ok {
			if i != len(want)-1 {
				t.Fatalf("chain ended early at %q", cur)
			}
			break
		}
		cur = next
	}

	if _, ok := StepEnqueueEmbeddings.Next(); ok {
		t.Fatalf("final step must have no successor")
	}
	if _, ok := StepCompress.Prev(); ok {
		t.Fatalf("first step must have no predecessor")
	}
	if prev, ok := StepTranscribe.Prev(); !ok || prev != StepAudioConvert {
		t.Fatalf("transcribe prev: got %q ok=%v", prev, ok)
	}
}

func TestStepProgressValues(t *testing.T) {
	cases := []struct {
		step  Step
		begin int
		done  int
	}{
		{StepCompress, 10, 25},
		{StepAudioConvert, 35, 45},
		{StepTranscribe, 50, 65},
		{StepEnqueueEmbeddings, 65, 100},
	}
	for _, tc := range cases {
		if got := tc.step.Progress(); got != tc.begin {
			t.Errorf("%s begin progress: got %d want %d", tc.step, got, tc.begin)
		}
		if got := tc.step.DoneProgress(); got != tc.done {
			t.Errorf("%s done progress: got %d want %d", tc.step, got, tc.done)
		}
	}

	// Progress must never move backwards across the chain.
	last := 0
	for _, s := range AllSteps() {
		if s.Progress() < last {
			t.Fatalf("begin progress for %s regressed", s)
		}
		if s.DoneProgress() < s.Progress() {
			t.Fatalf("done progress for %s below begin progress", s)
		}
		last = s.DoneProgress()
	}
}
