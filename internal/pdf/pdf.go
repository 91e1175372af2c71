// Package pdf pulls embedded report images out of PDF files.
package pdf

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/tiff"
)

// ErrNoImages is returned when the selected pages contain no images.
var ErrNoImages = errors.New("no images found in PDF")

// PageImage is one image extracted from a PDF page.
type PageImage struct {
	Page  int
	Index int
	Image image.Image
}

// ExtractImages extracts the images of the selected pages, ordered by page and
// then by position on the page. An empty page range selects all pages.
func ExtractImages(filename string, pageRange string) ([]PageImage, error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "doseocr-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var selected []string
	for _, n := range pageNumbers {
		selected = append(selected, strconv.Itoa(n))
	}

	if err := api.ExtractImagesFile(filename, tempDir, selected, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	images, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	return images, nil
}

// ReportImage returns the last image of the selected pages. Imaging archives
// append the dose report as the final image of a series.
func ReportImage(filename string, pageRange string) (image.Image, error) {
	images, err := ExtractImages(filename, pageRange)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	return images[len(images)-1].Image, nil
}

func loadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: path comes from our own temp dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	return img, err
}

// collectExtractedImages loads pdfcpu output files named page_<n>_image_<m>.<ext>.
// Unparseable names and undecodable files are skipped.
func collectExtractedImages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []PageImage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		page, index, err := parseExtractedName(e.Name())
		if err != nil {
			continue
		}
		img, err := loadImageFile(filepath.Join(dir, e.Name()))
		if err != nil || img == nil {
			continue
		}
		out = append(out, PageImage{Page: page, Index: index, Image: img})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// parseExtractedName reads page and image numbers from "page_3_image_2.png".
// The image number defaults to 0 when pdfcpu uses a different suffix.
func parseExtractedName(filename string) (int, int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, 0, errors.New("not a page file")
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return 0, 0, errors.New("invalid filename format")
	}
	page, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.New("invalid page number")
	}
	index := 0
	if len(parts) >= 4 && parts[2] == "image" {
		if n, err := strconv.Atoi(parts[3]); err == nil {
			index = n
		}
	}
	return page, index, nil
}

// parsePageRange parses "1-5", "1,3,5" or a mix. Empty means all pages.
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if !strings.Contains(part, "-") {
		page, err := strconv.Atoi(part)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{page}, nil
	}

	bounds := strings.Split(part, "-")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid start page: %s", bounds[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid end page: %s", bounds[1])
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
