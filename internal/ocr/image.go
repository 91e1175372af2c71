package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/doseocr/internal/pdf"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists the report file types a local backend can read.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp", ".pdf"}

// IsSupportedImage reports whether the path has a supported extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// LoadReportImage opens a report image from disk. For PDFs the last image of
// the selected pages is used.
func LoadReportImage(path, pdfPages string) (image.Image, error) {
	if path == "" {
		return nil, errors.New("empty image reference")
	}
	if !IsSupportedImage(path) {
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdf.ReportImage(path, pdfPages)
	}

	f, err := os.Open(path) //nolint:gosec // G304: image references are operator-supplied paths
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// PreprocessOptions tunes image preparation before recognition.
type PreprocessOptions struct {
	Enabled   bool
	MinHeight int     // images shorter than this are upscaled
	Contrast  float64 // percentage, -100..100
	Sharpen   float64 // sigma, 0 disables
}

// DefaultPreprocessOptions suits screen-captured dose reports.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Enabled:   true,
		MinHeight: 1200,
		Contrast:  20,
		Sharpen:   0.8,
	}
}

// Preprocess converts to grayscale, upscales small captures and boosts
// contrast so small report fonts survive recognition.
func Preprocess(img image.Image, opts PreprocessOptions) image.Image {
	if !opts.Enabled || img == nil {
		return img
	}
	out := imaging.Grayscale(img)
	if h := out.Bounds().Dy(); opts.MinHeight > 0 && h > 0 && h < opts.MinHeight {
		out = imaging.Resize(out, 0, opts.MinHeight, imaging.Lanczos)
	}
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	if opts.Sharpen > 0 {
		out = imaging.Sharpen(out, opts.Sharpen)
	}
	return out
}

// EncodePNG encodes img as PNG bytes for backends that take encoded images.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
