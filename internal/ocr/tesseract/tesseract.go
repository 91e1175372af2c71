// Package tesseract is the local OCR backend. It is kept apart from package
// ocr because gosseract needs cgo with the tesseract and leptonica headers.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// Config configures the local tesseract backend.
type Config struct {
	TessdataPrefix string
	PDFPages       string
	Preprocess     ocr.PreprocessOptions
}

// Recognizer recognizes local report files with tesseract.
// Image references are file paths.
type Recognizer struct {
	cfg           Config
	clean         ocr.CleanOptions
	clientFactory func() *gosseract.Client
}

// New creates a tesseract-backed recognizer.
func New(cfg Config) *Recognizer {
	return &Recognizer{
		cfg:           cfg,
		clean:         ocr.DefaultCleanOptions(),
		clientFactory: gosseract.NewClient,
	}
}

// Recognize runs tesseract on one report. A fresh client is used per call
// because gosseract clients are not safe for concurrent use.
func (t *Recognizer) Recognize(ctx context.Context, imageRef string, opts ocr.Options) (*ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := ocr.LoadReportImage(imageRef, t.cfg.PDFPages)
	if err != nil {
		return &ocr.Recognition{Success: false, Error: err.Error()}, nil
	}
	data, err := ocr.EncodePNG(ocr.Preprocess(img, t.cfg.Preprocess))
	if err != nil {
		return nil, err
	}

	lang, ok := ocr.LookupLanguage(opts.Language)
	if !ok {
		lang, _ = ocr.LookupLanguage(ocr.DefaultLanguage)
	}

	c := t.clientFactory()
	defer func() { _ = c.Close() }()

	if t.cfg.TessdataPrefix != "" {
		c.TessdataPrefix = t.cfg.TessdataPrefix
	}
	if err := c.SetLanguage(strings.Split(lang.Tesseract, "+")...); err != nil {
		return nil, &ocr.ServiceError{ImageRef: imageRef, Err: fmt.Errorf("set language: %w", err)}
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, &ocr.ServiceError{ImageRef: imageRef, Err: fmt.Errorf("set page segmentation: %w", err)}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, &ocr.ServiceError{ImageRef: imageRef, Err: fmt.Errorf("set image: %w", err)}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, &ocr.ServiceError{ImageRef: imageRef, Err: fmt.Errorf("recognize text: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := make([]ocr.Line, 0, len(boxes))
	for _, b := range boxes {
		lines = append(lines, ocr.Line{Text: b.Word, Confidence: b.Confidence / 100.0})
	}
	lines = ocr.FilterLines(lines, opts.ConfidenceThreshold, t.clean)

	return &ocr.Recognition{
		Success: true,
		Text:    ocr.JoinLines(lines),
		Lines:   lines,
	}, nil
}
