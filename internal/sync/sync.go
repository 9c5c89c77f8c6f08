// Package sync brings the local strategies checkout in line with its
// remote branch, either via an atomic clone-and-swap or via an in-place
// fetch/checkout/pull.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bohdan6992/orion-daily/internal/git"
)

// Result describes the outcome of one synchronization attempt.
type Result struct {
	Updated bool
	SHA     string
	Backup  string
}

// ContentCheck validates a freshly cloned staging tree before it is allowed
// to replace the destination. A non-nil error aborts the swap; the
// destination is left untouched.
type ContentCheck func(dir string) error

// HasNotebooks rejects staging trees that contain no notebook anywhere
// under them. This guards against swapping in an empty or broken clone.
func HasNotebooks(dir string) error {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".ipynb") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to inspect staging clone: %w", err)
	}
	if !found {
		return errors.New("no notebooks found in strategies repo")
	}
	return nil
}

// Synchronizer updates a local checkout from a remote branch.
type Synchronizer struct {
	git    git.Client
	logger *slog.Logger
	check  ContentCheck
	rename func(oldpath, newpath string) error
}

// New creates a Synchronizer. check may be nil to skip content validation.
func New(client git.Client, logger *slog.Logger, check ContentCheck) *Synchronizer {
	return &Synchronizer{
		git:    client,
		logger: logger,
		check:  check,
		rename: os.Rename,
	}
}

// CloneSwap updates dst atomically: the new tree is cloned into a staging
// directory and swapped into place with two directory renames, so dst is
// always either the full previous checkout or the full new one.
//
// When local and remote heads already match, no clone is performed and
// Updated is false. The previous checkout, if any, is preserved under a
// collision-safe backup name and never deleted.
func (s *Synchronizer) CloneSwap(ctx context.Context, url, branch, dst, token string) (Result, error) {
	remote, err := s.git.LsRemoteHead(ctx, url, branch, token)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve remote head: %w", err)
	}
	res := Result{SHA: remote}

	local := ""
	if _, err := os.Stat(dst); err == nil {
		if _, err := os.Stat(filepath.Join(dst, ".git")); err != nil {
			return res, fmt.Errorf("destination exists but is not a git repository: %s", dst)
		}
		if head, err := s.git.LocalHead(ctx, dst); err == nil {
			local = head
		}
	}

	if local != "" && local == remote {
		s.logger.Info("checkout already at remote head", "sha", remote)
		return res, nil
	}

	// The staging clone is a sibling of dst so both renames below stay on
	// the same filesystem. A clone under os.TempDir would make the final
	// rename fail with EXDEV whenever /tmp is a separate mount.
	staging := fmt.Sprintf("%s_staging_%s_%s", dst, remote, uuid.NewString()[:8])
	if err := s.git.CloneDepth1(ctx, url, branch, staging, token); err != nil {
		return res, fmt.Errorf("failed to clone into staging: %w", err)
	}

	if s.check != nil {
		if err := s.check(staging); err != nil {
			_ = os.RemoveAll(staging)
			return res, err
		}
	}

	if _, err := os.Stat(dst); err == nil {
		backup := backupPath(dst, local)
		if err := s.rename(dst, backup); err != nil {
			_ = os.RemoveAll(staging)
			return res, fmt.Errorf("failed to move previous checkout aside: %w", err)
		}
		res.Backup = backup
		s.logger.Info("previous checkout preserved", "backup", backup)
	}

	if err := s.rename(staging, dst); err != nil {
		_ = os.RemoveAll(staging)
		if res.Backup != "" {
			if rbErr := s.rename(res.Backup, dst); rbErr != nil {
				s.logger.Error("failed to restore previous checkout",
					"backup", res.Backup, "error", rbErr)
			} else {
				s.logger.Warn("swap failed, previous checkout restored", "dest", dst)
				res.Backup = ""
			}
		}
		return res, fmt.Errorf("failed to swap staging into place: %w", err)
	}

	res.Updated = true
	s.logger.Info("checkout updated", "sha", remote, "dest", dst)
	return res, nil
}

// EnsureCheckout updates dst in place without the swap protocol. An absent
// destination is shallow-cloned; an existing one gets fetch, checkout, pull.
// A mid-sequence failure leaves the checkout at whatever revision the last
// successful step produced.
func (s *Synchronizer) EnsureCheckout(ctx context.Context, url, branch, dst, token string) (Result, error) {
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		if err := s.git.CloneDepth1(ctx, url, branch, dst, token); err != nil {
			return Result{}, fmt.Errorf("failed to clone: %w", err)
		}
		head, _ := s.git.LocalHead(ctx, dst)
		return Result{Updated: true, SHA: head}, nil
	}

	if _, err := os.Stat(filepath.Join(dst, ".git")); err != nil {
		return Result{}, fmt.Errorf("destination exists but is not a git repository: %s", dst)
	}

	if err := s.git.FetchCheckoutPull(ctx, dst, branch); err != nil {
		return Result{}, err
	}

	head, _ := s.git.LocalHead(ctx, dst)
	return Result{Updated: true, SHA: head}, nil
}

// backupPath derives a free sibling name for the previous checkout from the
// local revision (or a timestamp when none is known), appending an
// incrementing numeric suffix until the name is unused.
func backupPath(dst, localSHA string) string {
	suffix := localSHA
	if suffix == "" {
		suffix = strconv.FormatInt(time.Now().Unix(), 10)
	}

	candidate := fmt.Sprintf("%s_backup_%s", dst, suffix)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_backup_%s_%d", dst, suffix, i)
	}
}
