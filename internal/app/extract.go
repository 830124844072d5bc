package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// Page is the pipeline result for one image of an input.
type Page struct {
	Page   int              `json:"page,omitempty"`
	Name   string           `json:"name"`
	Result *pipeline.Result `json:"result"`
}

// Extraction is the text of a whole input. PDFs have one Page per rendered page.
type Extraction struct {
	Name     string `json:"name"`
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
	Pages    []Page `json:"pages"`
}

// PlainText returns the extracted text.
func (e *Extraction) PlainText() string { return e.Text }

// Extract runs every page of src through the pipeline in order. A failed page
// stops the extraction; the pages finished so far are returned with the error.
// An empty requestID falls back to the source ID.
func Extract(ctx context.Context, s *svcctx.Services, src *ingest.Source, requestID string) (*Extraction, error) {
	if s == nil || s.Pipeline == nil || s.Ingester == nil {
		return nil, errors.New("extraction services not initialized")
	}
	if requestID == "" {
		requestID = src.ID
	}
	pages, err := s.Ingester.Pages(ctx, src)
	if err != nil {
		return nil, err
	}

	ext := &Extraction{Name: src.Name}
	texts := make([]string, 0, len(pages))
	for _, pg := range pages {
		id := requestID
		if id != "" && pg.Page > 0 {
			id = fmt.Sprintf("%s-p%d", requestID, pg.Page)
		}
		res, err := s.Pipeline.Run(ctx, pipeline.Input{Data: pg.Data, Name: pg.Name, RequestID: id})
		ext.Pages = append(ext.Pages, Page{Page: pg.Page, Name: pg.Name, Result: res})
		if err != nil {
			if pg.Page > 0 {
				return ext, fmt.Errorf("page %d: %w", pg.Page, err)
			}
			return ext, err
		}
		texts = append(texts, res.Text)
		ext.Degraded = ext.Degraded || res.Degraded
	}
	ext.Text = strings.Join(texts, "\n\n")
	return ext, nil
}
