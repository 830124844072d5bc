// Package preprocess normalizes input images for OCR: decode, grayscale,
// Otsu binarization and median denoising.
package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMedianWindow is the side of the square median filter.
	DefaultMedianWindow = 3

	// DefaultMaxPixels caps decoded image area. Each stage holds a full frame,
	// the widest at four bytes per pixel.
	DefaultMaxPixels = 50_000_000
)

// ErrTooManyPixels is wrapped in a DecodeError when the declared image
// dimensions exceed the pixel limit.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// DecodeError reports input bytes that are not a decodable raster image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Image is a preprocessed page. Gray holds only the intensities 0 and 255
// and has the bounds of the decoded input.
type Image struct {
	Gray      *image.Gray
	PNG       []byte // Gray encoded as PNG; what engines receive
	Threshold uint8  // Otsu threshold used for binarization
}

// Config configures a Preprocessor.
type Config struct {
	MedianWindow  int    // Odd window size >= 3 (default 3)
	MaxPixels     int64  // Largest accepted width*height (default DefaultMaxPixels)
	SaveProcessed bool   // Write processed_<name>.png into OutputDir
	OutputDir     string // Processed image directory
	Logger        *slog.Logger
}

// Preprocessor turns raw image bytes into a binarized, denoised image.
type Preprocessor struct {
	window    int
	maxPixels int64
	save      bool
	outDir    string
	logger    *slog.Logger
}

// New creates a Preprocessor.
func New(cfg Config) *Preprocessor {
	if cfg.MedianWindow < 3 {
		cfg.MedianWindow = DefaultMedianWindow
	}
	if cfg.MedianWindow%2 == 0 {
		cfg.MedianWindow++
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Preprocessor{
		window:    cfg.MedianWindow,
		maxPixels: cfg.MaxPixels,
		save:      cfg.SaveProcessed && cfg.OutputDir != "",
		outDir:    cfg.OutputDir,
		logger:    cfg.Logger,
	}
}

// Preprocess decodes data and produces the binarized image.
func (p *Preprocessor) Preprocess(ctx context.Context, data []byte) (*Image, error) {
	src, err := Decode(data, p.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := ToGray(src)
	t := OtsuThreshold(gray)
	bin := Binarize(gray, t)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := Median(bin, p.window)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode processed image: %w", err)
	}

	return &Image{Gray: out, PNG: buf.Bytes(), Threshold: t}, nil
}

// Save writes processed_<id>_<name>.png when saving is enabled and returns its
// path. It returns "" when saving is disabled.
func (p *Preprocessor) Save(img *Image, id, name string) (string, error) {
	if !p.save || img == nil {
		return "", nil
	}
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create processed dir: %w", err)
	}
	path := filepath.Join(p.outDir, ProcessedName(id, name))
	if err := imaging.Save(img.Gray, path); err != nil {
		return "", fmt.Errorf("save processed image: %w", err)
	}
	p.logger.Debug("saved processed image", "path", path)
	return path, nil
}

// ProcessedName maps a request id and input name to processed_<id>_<stem>.png.
// Characters outside [A-Za-z0-9_-] in id are replaced.
func ProcessedName(id, name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "image"
	}
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, id)
	if id == "" || strings.HasPrefix(stem, id) {
		return "processed_" + stem + ".png"
	}
	return "processed_" + id + "_" + stem + ".png"
}

// Decode decodes any registered raster format, applying EXIF orientation.
// Images whose declared width*height exceeds maxPixels are rejected before
// any pixel data is allocated; maxPixels <= 0 disables the check.
func Decode(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d > %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	return img, nil
}

// ToGray flattens transparency onto white and converts to single-channel intensity.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
	g := imaging.Grayscale(flat)

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return out
}

// Histogram counts pixels per intensity.
func Histogram(g *image.Gray) [256]int {
	var h [256]int
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, v := range row {
			h[v]++
		}
	}
	return h
}

// OtsuThreshold returns the threshold for g. See ThresholdFromHistogram.
func OtsuThreshold(g *image.Gray) uint8 {
	return ThresholdFromHistogram(Histogram(g))
}

// ThresholdFromHistogram selects the threshold maximizing between-class variance.
// Ties resolve to the lowest threshold. A single-intensity histogram yields 0.
func ThresholdFromHistogram(h [256]int) uint8 {
	var total, sum float64
	for i, n := range h {
		total += float64(n)
		sum += float64(i) * float64(n)
	}
	if total == 0 {
		return 0
	}

	var (
		wB, sumB float64
		best     float64
		t        int
	)
	for i := 0; i < 256; i++ {
		wB += float64(h[i])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * float64(h[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			t = i
		}
	}
	return uint8(t)
}

// Binarize maps pixels above t to 255 and the rest to 0.
func Binarize(g *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, v := range g.Pix {
		if v > t {
			out.Pix[i] = 255
		}
	}
	return out
}

// Median applies a window x window median filter, replicating edge pixels.
func Median(g *image.Gray, window int) *image.Gray {
	if window < 3 {
		window = DefaultMedianWindow
	}
	r := window / 2
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	buf := make([]uint8, 0, window*window)

	at := func(x, y int) uint8 {
		x = clamp(x, 0, w-1)
		y = clamp(y, 0, h-1)
		return g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)]
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf = buf[:0]
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					buf = append(buf, at(x+dx, y+dy))
				}
			}
			insertionSort(buf)
			out.Pix[y*out.Stride+x] = buf[len(buf)/2]
		}
	}
	return out
}

func insertionSort(a []uint8) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
