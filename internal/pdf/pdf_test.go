package pdf

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		name        string
		pageRange   string
		want        []int
		expectError bool
	}{
		{name: "empty range returns nil", pageRange: "", want: nil},
		{name: "single page", pageRange: "1", want: []int{1}},
		{name: "multiple single pages", pageRange: "1,3,5", want: []int{1, 3, 5}},
		{name: "simple range", pageRange: "1-5", want: []int{1, 2, 3, 4, 5}},
		{name: "mixed pages and ranges", pageRange: "1,3-5,7", want: []int{1, 3, 4, 5, 7}},
		{name: "range with spaces", pageRange: " 1 - 3 , 5 ", want: []int{1, 2, 3, 5}},
		{name: "invalid page number", pageRange: "abc", expectError: true},
		{name: "zero page", pageRange: "0", expectError: true},
		{name: "invalid range format", pageRange: "1-2-3", expectError: true},
		{name: "start greater than end", pageRange: "5-1", expectError: true},
		{name: "invalid end page", pageRange: "1-xyz", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePageRange(tt.pageRange)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseExtractedName(t *testing.T) {
	tests := []struct {
		filename    string
		page, index int
		expectError bool
	}{
		{filename: "page_1_image_1.png", page: 1, index: 1},
		{filename: "page_10_image_2.jpg", page: 10, index: 2},
		{filename: "page_4_Im0.tif", page: 4, index: 0},
		{filename: "image_1.png", expectError: true},
		{filename: "page_abc_image_1.png", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			page, index, err := parseExtractedName(tt.filename)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.index, index)
		})
	}
}

func writeImage(t *testing.T, path string, width int, enc string) {
	t.Helper()
	f, err := os.Create(path) //nolint:gosec // controlled test path
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	img := image.NewRGBA(image.Rect(0, 0, width, 6))
	for y := range 6 {
		for x := range width {
			img.Set(x, y, color.RGBA{uint8(10 * x), uint8(10 * y), 0, 255})
		}
	}
	switch enc {
	case "png":
		require.NoError(t, png.Encode(f, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 80}))
	}
}

func TestCollectExtractedImages_Ordering(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "page_2_image_1.png"), 4, "png")
	writeImage(t, filepath.Join(dir, "page_1_image_2.jpg"), 5, "jpeg")
	writeImage(t, filepath.Join(dir, "page_1_image_1.png"), 6, "png")
	writeImage(t, filepath.Join(dir, "page_10_image_1.png"), 7, "png")
	writeImage(t, filepath.Join(dir, "not_a_match.png"), 8, "png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_3_image_1.png"), []byte("corrupt"), 0o644))

	images, err := collectExtractedImages(dir)
	require.NoError(t, err)
	require.Len(t, images, 4)

	var order [][2]int
	for _, img := range images {
		order = append(order, [2]int{img.Page, img.Index})
	}
	assert.Equal(t, [][2]int{{1, 1}, {1, 2}, {2, 1}, {10, 1}}, order)
	assert.Equal(t, 7, images[3].Image.Bounds().Dx())
}

func TestExtractImages_ErrorCases(t *testing.T) {
	t.Run("non-existent file", func(t *testing.T) {
		_, err := ExtractImages("/non/existent/file.pdf", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to extract images from PDF")
	})

	t.Run("invalid page range", func(t *testing.T) {
		_, err := ReportImage("dummy.pdf", "invalid-range")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid page range")
	})
}
