// Package publish pushes produced signal and status trees to the results
// repository.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	cp "github.com/otiai10/copy"

	"github.com/bohdan6992/orion-daily/internal/config"
	"github.com/bohdan6992/orion-daily/internal/git"
)

// transientSuffixes are file patterns excluded from publishing.
var transientSuffixes = []string{".tmp", ".lock"}

// Result is the outcome of one publish attempt.
type Result struct {
	Pushed bool
	Commit string
}

// Publisher clones the results remote fresh each run and overlays the
// signals and status trees into it.
type Publisher struct {
	git     git.Client
	logger  *slog.Logger
	tmpBase string
}

// New creates a Publisher
func New(client git.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		git:     client,
		logger:  logger,
		tmpBase: os.TempDir(),
	}
}

// Push clones the results remote into a temporary directory, overlays the
// signals/ and status/ trees from home into the configured layout, and
// commits and pushes only when the staged diff is non-empty. The temporary
// clone is removed on every exit path.
func (p *Publisher) Push(ctx context.Context, remote, branch, token, home string, layout config.Layout, subdir string) (Result, error) {
	tmpClone := filepath.Join(p.tmpBase, "orion_stats_"+uuid.NewString()[:8])
	defer func() {
		_ = os.RemoveAll(tmpClone)
	}()

	if err := p.git.CloneDepth1(ctx, remote, branch, tmpClone, token); err != nil {
		return Result{}, fmt.Errorf("failed to clone results repo: %w", err)
	}

	if !dirExists(config.SignalsDir(home)) && !dirExists(config.StatusDir(home)) {
		return Result{}, errors.New("no signals/ or status/ to push")
	}

	subdir = strings.Trim(strings.TrimSpace(subdir), "/\\")
	useSubdir := layout == config.LayoutSubdir || subdir != ""

	base := tmpClone
	if useSubdir {
		base = filepath.Join(tmpClone, subdir)
		if err := os.MkdirAll(base, 0755); err != nil {
			return Result{}, fmt.Errorf("failed to create destination base: %w", err)
		}
	}

	var addPaths []string
	for _, name := range []string{config.SignalsDirname, config.StatusDirname} {
		src := filepath.Join(home, name)
		if !dirExists(src) {
			continue
		}

		dest := filepath.Join(base, name)
		if err := os.RemoveAll(dest); err != nil {
			return Result{}, fmt.Errorf("failed to clear previous %s: %w", name, err)
		}
		if err := cp.Copy(src, dest, cp.Options{Skip: skipTransient}); err != nil {
			return Result{}, fmt.Errorf("failed to copy %s: %w", name, err)
		}

		rel := name
		if useSubdir {
			rel = path.Join(subdir, name)
		}
		addPaths = append(addPaths, rel)
	}

	message := fmt.Sprintf("orion: update signals/status %s",
		time.Now().UTC().Truncate(time.Second).Format(time.RFC3339))

	commit, pushed, err := p.git.AddCommitPush(ctx, tmpClone, addPaths, message, branch)
	if err != nil {
		return Result{Commit: commit}, err
	}

	if pushed {
		p.logger.Info("results pushed", "commit", commit, "branch", branch)
	} else {
		p.logger.Info("results unchanged, nothing to push")
	}
	return Result{Pushed: pushed, Commit: commit}, nil
}

// skipTransient excludes temporary and lock files from the copied tree.
func skipTransient(srcinfo os.FileInfo, src, dest string) (bool, error) {
	if srcinfo.IsDir() {
		return false, nil
	}
	for _, suffix := range transientSuffixes {
		if strings.HasSuffix(src, suffix) {
			return true, nil
		}
	}
	return false, nil
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
