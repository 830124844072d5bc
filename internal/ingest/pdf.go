package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return n, nil
}

// renderPage renders one page of pdfPath to PNG using pdftoppm (poppler-utils)
// and writes it to outDir as page_NNNN.png.
func renderPage(ctx context.Context, pdfPath, outDir string, page, dpi int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "glean-page-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// -singlefile writes exactly <prefix>.png
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return "", fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	dstPath := filepath.Join(outDir, fmt.Sprintf("page_%04d.png", page))
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write page image: %w", err)
	}
	return dstPath, nil
}
