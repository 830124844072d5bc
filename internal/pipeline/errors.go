package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/glean/internal/providers"
)

// ErrNoEngines is returned when a pipeline is built without engines.
var ErrNoEngines = errors.New("pipeline has no OCR engines")

// StageError wraps the terminal failure of a run.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// AllEnginesFailedError is returned when no engine produced a result.
type AllEnginesFailedError struct {
	Failures []*providers.EngineFailure
}

func (e *AllEnginesFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("all %d OCR engines failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual engine failures to errors.Is and errors.As.
func (e *AllEnginesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
