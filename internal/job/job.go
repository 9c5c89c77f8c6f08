// Package job discovers and executes the strategy notebooks of a daily run.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// PrimaryNotebook is the well-known name of the primary data-preparation
// job. Every other notebook in the strategies directory is a dependent.
const PrimaryNotebook = "CRACEN.ipynb"

// Job is one executable notebook in the strategies checkout.
type Job struct {
	Name string // notebook filename without the .ipynb extension
	Path string
}

// Stem strips the notebook extension from a filename.
func Stem(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

// Primary returns the primary job rooted at the strategies directory. The
// path may not exist; the runner treats that as a primary failure.
func Primary(strategiesDir string) Job {
	return Job{
		Name: Stem(PrimaryNotebook),
		Path: filepath.Join(strategiesDir, PrimaryNotebook),
	}
}

// DiscoverDependents lists every notebook directly inside the strategies
// directory except the primary, sorted by name for deterministic execution
// order.
func DiscoverDependents(strategiesDir string) ([]Job, error) {
	entries, err := os.ReadDir(strategiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies directory: %w", err)
	}

	notebooks := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() &&
			strings.EqualFold(filepath.Ext(e.Name()), ".ipynb") &&
			e.Name() != PrimaryNotebook
	})

	jobs := lo.Map(notebooks, func(e os.DirEntry, _ int) Job {
		return Job{
			Name: Stem(e.Name()),
			Path: filepath.Join(strategiesDir, e.Name()),
		}
	})

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs, nil
}
