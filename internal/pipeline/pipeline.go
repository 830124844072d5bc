// Package pipeline sequences preprocessing, OCR, fusion and refinement for one image.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/glean/internal/fusion"
	"github.com/jackzampolin/glean/internal/preprocess"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/refine"
)

// DefaultEngineTimeout bounds a single engine call.
const DefaultEngineTimeout = 2 * time.Minute

// Input is an image to extract text from.
type Input struct {
	Data      []byte
	Name      string // Original file name; used for the processed image name
	RequestID string // Generated when empty
}

// Result is the outcome of one run.
type Result struct {
	RequestID string  `json:"request_id"`
	State     State   `json:"state"`
	Trace     []State `json:"trace"`

	// Text is the refined text, or the fused text when Degraded.
	Text           string `json:"text"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	Fused      fusion.FusedText      `json:"fused"`
	FusedText  string                `json:"fused_text"`
	OCR        []providers.OCRResult `json:"ocr"`
	Refinement *refine.Result        `json:"refinement,omitempty"`

	ProcessedPath string                  `json:"processed_path,omitempty"`
	Timings       map[State]time.Duration `json:"timings"`

	FailedStage Stage  `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Config configures a Pipeline.
type Config struct {
	Engines       *providers.EngineSet
	Preprocessor  *preprocess.Preprocessor
	Refiner       refine.Refiner // Optional; without it every result is degraded
	EngineTimeout time.Duration
	Observer      Observer
	Logger        *slog.Logger
}

// Pipeline runs extractions. It is safe for concurrent use.
type Pipeline struct {
	engines       *providers.EngineSet
	pre           *preprocess.Preprocessor
	engineTimeout time.Duration
	observer      Observer
	logger        *slog.Logger

	mu      sync.RWMutex
	refiner refine.Refiner
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engines == nil || cfg.Engines.Len() == 0 {
		return nil, ErrNoEngines
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Preprocessor == nil {
		cfg.Preprocessor = preprocess.New(preprocess.Config{Logger: cfg.Logger})
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = DefaultEngineTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = LogObserver(cfg.Logger)
	}
	return &Pipeline{
		engines:       cfg.Engines,
		pre:           cfg.Preprocessor,
		engineTimeout: cfg.EngineTimeout,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		refiner:       cfg.Refiner,
	}, nil
}

// SetRefiner swaps the refiner used by subsequent runs.
func (p *Pipeline) SetRefiner(r refine.Refiner) {
	p.mu.Lock()
	p.refiner = r
	p.mu.Unlock()
}

// Refiner returns the current refiner, or nil.
func (p *Pipeline) Refiner() refine.Refiner {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refiner
}

// EngineNames returns the engines in fan-out order.
func (p *Pipeline) EngineNames() []string {
	return p.engines.Names()
}

// run tracks the state of one extraction.
type run struct {
	p       *Pipeline
	result  *Result
	state   State
	entered time.Time
}

func (r *run) enter(next State, err error) {
	now := time.Now()
	elapsed := now.Sub(r.entered)
	if r.state != StateStart {
		r.result.Timings[r.state] = elapsed
	}
	r.p.observer(Transition{
		RequestID: r.result.RequestID,
		From:      r.state,
		To:        next,
		Elapsed:   elapsed,
		Err:       err,
	})
	r.state = next
	r.entered = now
	r.result.State = next
	r.result.Trace = append(r.result.Trace, next)
}

// fail moves the run to StateFailed from its current state.
func (r *run) fail(cause error) (*Result, error) {
	stage := stageOf(r.state)
	err := &StageError{Stage: stage, Cause: cause}
	r.result.FailedStage = stage
	r.result.Error = err.Error()
	r.enter(StateFailed, err)
	return r.result, err
}

// Run extracts text from in. The returned error is a *StageError when the run
// ends in StateFailed; the Result is always non-nil.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if in.RequestID == "" {
		in.RequestID = uuid.New().String()
	}
	r := &run{
		p:       p,
		state:   StateStart,
		entered: time.Now(),
		result: &Result{
			RequestID: in.RequestID,
			State:     StateStart,
			Trace:     []State{StateStart},
			Timings:   make(map[State]time.Duration),
		},
	}
	logger := p.logger.With("request_id", in.RequestID)

	// preprocessing
	r.enter(StatePreprocessing, nil)
	img, err := p.pre.Preprocess(ctx, in.Data)
	if err != nil {
		return r.fail(err)
	}
	name := in.Name
	if name == "" {
		name = in.RequestID
	}
	if path, err := p.pre.Save(img, in.RequestID, name); err != nil {
		logger.Warn("failed to save processed image", "error", err)
	} else {
		r.result.ProcessedPath = path
	}

	// recognizing
	r.enter(StateRecognizing, nil)
	results, failures := p.recognize(ctx, img.PNG, logger)
	r.result.OCR = results
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	if len(failures) == len(results) {
		return r.fail(&AllEnginesFailedError{Failures: failures})
	}

	// fusing
	r.enter(StateFusing, nil)
	r.result.Fused = fusion.Fuse(results)
	r.result.FusedText = r.result.Fused.Text()

	// refining
	r.enter(StateRefining, nil)
	if err := p.refine(ctx, r.result, logger); err != nil {
		return r.fail(err)
	}

	r.enter(StateDone, nil)
	logger.Info("extraction complete",
		"engines", len(results),
		"failed_engines", len(failures),
		"degraded", r.result.Degraded,
		"chars", len(r.result.Text))
	return r.result, nil
}

// recognize fans the image out to every engine. Each goroutine writes only
// its own slot, so results keep engine order.
func (p *Pipeline) recognize(ctx context.Context, image []byte, logger *slog.Logger) ([]providers.OCRResult, []*providers.EngineFailure) {
	engines := p.engines.Engines()
	results := make([]providers.OCRResult, len(engines))
	failed := make([]*providers.EngineFailure, len(engines))

	var g errgroup.Group
	for i, engine := range engines {
		g.Go(func() error {
			res, err := p.recognizeOne(ctx, engine, image)
			results[i] = *res
			if err != nil {
				failed[i] = &providers.EngineFailure{Engine: engine.Name(), Err: err}
				logger.Warn("engine failed", "engine", engine.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []*providers.EngineFailure
	for _, f := range failed {
		if f != nil {
			failures = append(failures, f)
		}
	}
	return results, failures
}

func (p *Pipeline) recognizeOne(ctx context.Context, engine providers.Engine, image []byte) (*providers.OCRResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.engineTimeout)
	defer cancel()

	res, err := engine.Recognize(ctx, image)
	if err == nil && (res == nil || !res.Success) {
		msg := "engine reported failure"
		if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		err = errors.New(msg)
	}
	if err != nil {
		failed := providers.Failed(engine.Name(), err, time.Since(start))
		if res != nil && res.Metadata != nil {
			failed.Metadata = res.Metadata
		}
		return failed, err
	}
	if res.Engine == "" {
		res.Engine = engine.Name()
	}
	return res, nil
}

// refine fills in the final text. It returns an error only when ctx itself
// ended; refiner failures degrade the result instead.
func (p *Pipeline) refine(ctx context.Context, result *Result, logger *slog.Logger) error {
	degrade := func(reason string) {
		result.Text = result.FusedText
		result.Degraded = true
		result.DegradedReason = reason
	}

	if result.Fused.Empty {
		result.Text = result.FusedText
		return nil
	}

	refiner := p.Refiner()
	if refiner == nil {
		degrade("no refiner configured")
		return nil
	}

	res, err := refiner.Refine(ctx, result.FusedText)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("refinement failed, using fused text", "error", err)
		degrade(err.Error())
		return nil
	}

	result.Refinement = res
	if !res.Refined {
		degrade(fmt.Sprintf("unrefined: %s", strings.TrimSpace(res.Reason)))
		return nil
	}
	result.Text = res.Text
	return nil
}
