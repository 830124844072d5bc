// Package tesseract provides the classical OCR engine backed by libtesseract.
// Importing it registers the "tesseract" engine type.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/glean/internal/providers"
)

const (
	EngineType = "tesseract"

	defaultLanguage = "eng"
	defaultPSM      = int(gosseract.PSM_SINGLE_BLOCK)
	defaultPoolSize = 2
)

func init() {
	providers.RegisterEngineType(EngineType, func(name string, cfg providers.EngineConfig) (providers.Engine, error) {
		return New(Config{
			Name:      name,
			Languages: cfg.Languages,
			PSM:       cfg.PSM,
			PoolSize:  cfg.PoolSize,
		})
	})
}

// Config configures the Tesseract engine.
type Config struct {
	Name      string   // Engine name reported in results (default "tesseract")
	Languages []string // Traineddata languages (default ["eng"])
	PSM       int      // Page segmentation mode (default 6, single uniform block)
	PoolSize  int      // Loaded clients; bounds concurrent recognitions
}

// Engine runs Tesseract over a fixed pool of clients.
// A gosseract client is not safe for concurrent use, so each Recognize call
// checks one out of the pool and returns it afterwards.
type Engine struct {
	name string
	pool chan *gosseract.Client

	closeOnce sync.Once
	all       []*gosseract.Client
}

// New loads PoolSize clients with the configured language and segmentation mode.
func New(cfg Config) (*Engine, error) {
	if cfg.Name == "" {
		cfg.Name = EngineType
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{defaultLanguage}
	}
	if cfg.PSM == 0 {
		cfg.PSM = defaultPSM
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	e := &Engine{
		name: cfg.Name,
		pool: make(chan *gosseract.Client, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		c := gosseract.NewClient()
		if err := c.SetLanguage(cfg.Languages...); err != nil {
			c.Close()
			e.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
		if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
			c.Close()
			e.Close()
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
		e.all = append(e.all, c)
		e.pool <- c
	}
	return e, nil
}

// Name returns the engine identifier.
func (e *Engine) Name() string { return e.name }

// Recognize runs OCR on an encoded image. Word confidences are normalized to 0..1
// and the result confidence is their mean.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*providers.OCRResult, error) {
	start := time.Now()

	var c *gosseract.Client
	select {
	case c = <-e.pool:
	case <-ctx.Done():
		return providers.Failed(e.name, ctx.Err(), time.Since(start)), ctx.Err()
	}
	defer func() { e.pool <- c }()

	if err := c.SetImageFromBytes(image); err != nil {
		err = fmt.Errorf("set image: %w", err)
		return providers.Failed(e.name, err, time.Since(start)), err
	}

	text, err := c.Text()
	if err != nil {
		err = fmt.Errorf("recognize text: %w", err)
		return providers.Failed(e.name, err, time.Since(start)), err
	}

	result := &providers.OCRResult{
		Engine:  e.name,
		Success: true,
		Text:    strings.TrimSpace(text),
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil {
		result.Tokens, result.Confidence = tokensFromBoxes(boxes)
	}

	// Tesseract is not interruptible; report the deadline if it passed while we ran.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return providers.Failed(e.name, ctxErr, time.Since(start)), ctxErr
	}

	result.ExecutionTime = time.Since(start)
	return result, nil
}

// Close releases every pooled client.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for _, c := range e.all {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func tokensFromBoxes(boxes []gosseract.BoundingBox) ([]providers.Token, *float64) {
	tokens := make([]providers.Token, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		conf := b.Confidence / 100.0
		sum += conf
		tokens = append(tokens, providers.Token{
			Text:       word,
			Confidence: conf,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			Width:      b.Box.Dx(),
			Height:     b.Box.Dy(),
		})
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	mean := sum / float64(len(tokens))
	return tokens, &mean
}

var _ providers.Engine = (*Engine)(nil)
