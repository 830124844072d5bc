package pipeline

import (
	"log/slog"
	"time"
)

// State is a position in the extraction state machine.
type State string

const (
	StateStart         State = "start"
	StatePreprocessing State = "preprocessing"
	StateRecognizing   State = "recognizing"
	StateFusing        State = "fusing"
	StateRefining      State = "refining"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage names the step a run failed in.
type Stage string

const (
	StagePreprocessing Stage = "preprocessing"
	StageRecognition   Stage = "recognition"
	StageFusion        Stage = "fusion"
	StageRefinement    Stage = "refinement"
)

// stageOf maps a non-terminal state to the stage it performs.
func stageOf(s State) Stage {
	switch s {
	case StateRecognizing:
		return StageRecognition
	case StateFusing:
		return StageFusion
	case StateRefining:
		return StageRefinement
	default:
		return StagePreprocessing
	}
}

// Transition is one state change of a run.
type Transition struct {
	RequestID string
	From      State
	To        State
	Elapsed   time.Duration // Time spent in From
	Err       error         // Set when To is StateFailed
}

// Observer receives every transition of every run.
// It is called synchronously from the run's goroutine.
type Observer func(Transition)

// LogObserver logs transitions at debug level and failures at warn.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(t Transition) {
		attrs := []any{"request_id", t.RequestID, "from", t.From, "stage", t.To, "elapsed", t.Elapsed}
		if t.Err != nil {
			logger.Warn("pipeline failed", append(attrs, "error", t.Err)...)
			return
		}
		logger.Debug("pipeline transition", attrs...)
	}
}
