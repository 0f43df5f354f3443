package pipeline

import (
	"fmt"
	"strings"
)

// Step is one stage of the video pipeline. The set is closed: handlers
// parse inbound step names through ParseStep and chaining goes through
// Next, so an unknown name can never reach the database.
type Step string

const (
	StepCompress          Step = "compress"
	StepAudioConvert      Step = "audio_convert"
	StepTranscribe        Step = "transcribe"
	StepEnqueueEmbeddings Step = "enqueue_embeddings"
)

var stepOrder = []Step{StepCompress, StepAudioConvert, StepTranscribe, StepEnqueueEmbeddings}

func AllSteps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

func ParseStep(raw string) (Step, error) {
	s := Step(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range stepOrder {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline step %q", raw)
}

func (s Step) String() string { return string(s) }

// Next returns the step that follows s. ok is false for the final step.
func (s Step) Next() (Step, bool) {
	for i, known := range stepOrder {
		if s == known && i+1 < len(stepOrder) {
			return stepOrder[i+1], true
		}
	}
	return "", false
}

// Prev returns the step before s. Used to recover a missing input artifact
// from the previous step's recorded output.
func (s Step) Prev() (Step, bool) {
	for i, known := range stepOrder {
		if s == known && i > 0 {
			return stepOrder[i-1], true
		}
	}
	return "", false
}

// Progress is the job progress recorded when the step begins processing.
func (s Step) Progress() int {
	switch s {
	case StepCompress:
		return 10
	case StepAudioConvert:
		return 35
	case StepTranscribe:
		return 50
	case StepEnqueueEmbeddings:
		return 65
	default:
		return 0
	}
}

// DoneProgress is the job progress recorded once the step has completed
// and the next step has been queued. The final step carries the job to 100.
func (s Step) DoneProgress() int {
	switch s {
	case StepCompress:
		return 25
	case StepAudioConvert:
		return 45
	case StepTranscribe:
		return 65
	case StepEnqueueEmbeddings:
		return 100
	default:
		return 0
	}
}
