package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// DiscoverItems turns report files and directories into work items. File
// names follow the "<patient id>_<patient name>.<ext>" convention; a name
// without a separator is used as the patient id alone.
func DiscoverItems(paths []string, recursive bool, includePatterns, excludePatterns []string) ([]jobs.WorkItem, error) {
	files, err := discoverImageFiles(paths, recursive, includePatterns, excludePatterns)
	if err != nil {
		return nil, err
	}
	items := make([]jobs.WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, itemFromFile(f))
	}
	return items, nil
}

func itemFromFile(path string) jobs.WorkItem {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, name, _ := strings.Cut(stem, "_")
	return jobs.WorkItem{
		ImageRef:    path,
		PatientID:   strings.TrimSpace(id),
		PatientName: strings.TrimSpace(strings.ReplaceAll(name, "_", " ")),
	}
}

// discoverImageFiles finds all report files matching the given patterns.
func discoverImageFiles(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var imageFiles []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			files, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
			if err != nil {
				return nil, err
			}
			imageFiles = append(imageFiles, files...)
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			imageFiles = append(imageFiles, arg)
		}
	}

	return imageFiles, nil
}

// discoverInDirectory walks dir, descending only when recursive. Results are
// sorted so batches are reproducible.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}

		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// shouldIncludeFile applies exclude patterns first; without include patterns
// any supported report format is accepted.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return ocr.IsSupportedImage(path)
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern checks if a file path matches any of the given patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
