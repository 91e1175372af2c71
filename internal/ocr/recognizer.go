// Package ocr defines the OCR service contract and its backends.
package ocr

import (
	"context"
	"fmt"
	"strings"
)

// DefaultLanguage is used when a request does not name one.
const DefaultLanguage = "korean"

// Line is one recognized text line.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Options are passed with every recognition call.
type Options struct {
	Language            string  `json:"language"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Recognition is the response of the OCR service for one image.
type Recognition struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Lines   []Line `json:"lines"`
	Error   string `json:"error,omitempty"`
}

// Recognizer recognizes the text of one report image.
type Recognizer interface {
	Recognize(ctx context.Context, imageRef string, opts Options) (*Recognition, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, imageRef string, opts Options) (*Recognition, error)

func (f RecognizerFunc) Recognize(ctx context.Context, imageRef string, opts Options) (*Recognition, error) {
	return f(ctx, imageRef, opts)
}

// ServiceError reports a failed recognition call.
type ServiceError struct {
	ImageRef   string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ocr service failed for %s (status %d): %v", e.ImageRef, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ocr service failed for %s: %v", e.ImageRef, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Language describes a supported recognition language.
type Language struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Tesseract string `json:"-"`
}

// Languages lists the supported recognition languages.
var Languages = []Language{
	{Code: "korean", Name: "Korean", Tesseract: "kor+eng"},
	{Code: "en", Name: "English", Tesseract: "eng"},
	{Code: "japan", Name: "Japanese", Tesseract: "jpn+eng"},
	{Code: "ch", Name: "Chinese (Simplified)", Tesseract: "chi_sim+eng"},
	{Code: "chinese_cht", Name: "Chinese (Traditional)", Tesseract: "chi_tra+eng"},
}

// LookupLanguage finds a supported language by code, case-insensitively.
func LookupLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageCodes returns the codes of all supported languages.
func LanguageCodes() []string {
	codes := make([]string, len(Languages))
	for i, l := range Languages {
		codes[i] = l.Code
	}
	return codes
}
