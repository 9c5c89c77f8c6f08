package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeGitClient implements git.Client for testing.
type fakeGitClient struct {
	remoteSHA  string
	remoteErr  error
	localSHA   string
	localErr   error
	cloneErr   error
	fetchErr   error
	populate   func(dest string)
	cloneCalls int
	cloneDest  string
}

func (f *fakeGitClient) LsRemoteHead(_ context.Context, _, _, _ string) (string, error) {
	return f.remoteSHA, f.remoteErr
}

func (f *fakeGitClient) CloneDepth1(_ context.Context, _, _, dest, _ string) error {
	f.cloneCalls++
	f.cloneDest = dest
	if f.cloneErr != nil {
		return f.cloneErr
	}
	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0755); err != nil {
		return err
	}
	if f.populate != nil {
		f.populate(dest)
	}
	return nil
}

func (f *fakeGitClient) LocalHead(_ context.Context, _ string) (string, error) {
	return f.localSHA, f.localErr
}

func (f *fakeGitClient) FetchCheckoutPull(_ context.Context, _, _ string) error {
	return f.fetchErr
}

func (f *fakeGitClient) AddCommitPush(_ context.Context, _ string, _ []string, _, _ string) (string, bool, error) {
	return "", false, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSynchronizer(t *testing.T, client *fakeGitClient, check ContentCheck) *Synchronizer {
	t.Helper()
	return New(client, testLogger(), check)
}

func writeNotebook(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
}

// existingCheckout creates a destination directory with git metadata.
func existingCheckout(t *testing.T, marker string) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "STRATEGIES")
	if err := os.MkdirAll(filepath.Join(dst, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dst, marker), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	return dst
}

func TestCloneSwap_EqualRevisionsIsNoOp(t *testing.T) {
	client := &fakeGitClient{remoteSHA: "abc123def456", localSHA: "abc123def456"}
	s := newTestSynchronizer(t, client, nil)
	dst := existingCheckout(t, "keep.ipynb")

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err != nil {
		t.Fatalf("CloneSwap failed: %v", err)
	}
	if res.Updated {
		t.Error("expected Updated=false for equal revisions")
	}
	if res.SHA != "abc123def456" {
		t.Errorf("expected sha to be reported, got %q", res.SHA)
	}
	if client.cloneCalls != 0 {
		t.Errorf("expected no clone, got %d", client.cloneCalls)
	}
	if _, err := os.Stat(filepath.Join(dst, "keep.ipynb")); err != nil {
		t.Error("destination was touched")
	}
}

func TestCloneSwap_AbsentDestination(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "ff00aa11bb22",
		populate:  func(dest string) { writeNotebook(t, dest, "CRACEN.ipynb") },
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := filepath.Join(t.TempDir(), "STRATEGIES")

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err != nil {
		t.Fatalf("CloneSwap failed: %v", err)
	}
	if !res.Updated {
		t.Error("expected Updated=true")
	}
	if res.SHA != "ff00aa11bb22" {
		t.Errorf("unexpected sha %q", res.SHA)
	}
	if res.Backup != "" {
		t.Errorf("expected no backup for absent destination, got %q", res.Backup)
	}
	if client.cloneCalls != 1 {
		t.Errorf("expected exactly one clone, got %d", client.cloneCalls)
	}
	if _, err := os.Stat(filepath.Join(dst, "CRACEN.ipynb")); err != nil {
		t.Error("destination missing cloned content")
	}
}

func TestCloneSwap_ExistingDestinationIsSwapped(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "newnewnewnew",
		localSHA:  "oldoldoldold",
		populate:  func(dest string) { writeNotebook(t, dest, "CRACEN.ipynb") },
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := existingCheckout(t, "previous.ipynb")

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err != nil {
		t.Fatalf("CloneSwap failed: %v", err)
	}
	if !res.Updated {
		t.Fatal("expected Updated=true")
	}
	if res.Backup == "" {
		t.Fatal("expected a backup path")
	}
	if !strings.HasPrefix(filepath.Base(res.Backup), "STRATEGIES_backup_oldoldoldold") {
		t.Errorf("unexpected backup name %q", res.Backup)
	}
	// Backup holds the previous tree, destination holds the new one.
	if _, err := os.Stat(filepath.Join(res.Backup, "previous.ipynb")); err != nil {
		t.Error("backup missing previous content")
	}
	if _, err := os.Stat(filepath.Join(dst, "CRACEN.ipynb")); err != nil {
		t.Error("destination missing new content")
	}
	if _, err := os.Stat(filepath.Join(dst, "previous.ipynb")); err == nil {
		t.Error("destination still holds previous content")
	}
}

func TestCloneSwap_BackupNameCollision(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "newnewnewnew",
		localSHA:  "oldoldoldold",
		populate:  func(dest string) { writeNotebook(t, dest, "CRACEN.ipynb") },
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := existingCheckout(t, "previous.ipynb")

	// Occupy the first two candidate backup names.
	for _, name := range []string{"STRATEGIES_backup_oldoldoldold", "STRATEGIES_backup_oldoldoldold_1"} {
		if err := os.MkdirAll(filepath.Join(filepath.Dir(dst), name), 0755); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err != nil {
		t.Fatalf("CloneSwap failed: %v", err)
	}
	want := filepath.Join(filepath.Dir(dst), "STRATEGIES_backup_oldoldoldold_2")
	if res.Backup != want {
		t.Errorf("expected collision-free backup %q, got %q", want, res.Backup)
	}
}

func TestCloneSwap_SanityCheckFailureLeavesDestinationUntouched(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "newnewnewnew",
		localSHA:  "oldoldoldold",
		// Staging tree has no notebooks at all.
		populate: func(dest string) {},
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := existingCheckout(t, "previous.ipynb")

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err == nil {
		t.Fatal("expected sanity check error")
	}
	if res.Updated {
		t.Error("expected Updated=false")
	}
	if _, err := os.Stat(filepath.Join(dst, "previous.ipynb")); err != nil {
		t.Error("destination was modified despite failed sanity check")
	}

	// The staging clone must have been removed.
	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "_staging_") {
			t.Errorf("staging directory %s left behind", e.Name())
		}
	}
}

func TestCloneSwap_StagesNextToDestination(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "ff00aa11bb22",
		populate:  func(dest string) { writeNotebook(t, dest, "CRACEN.ipynb") },
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := filepath.Join(t.TempDir(), "STRATEGIES")

	if _, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok"); err != nil {
		t.Fatalf("CloneSwap failed: %v", err)
	}

	// Staging next to dst keeps both renames on one filesystem; a clone
	// under /tmp would cross devices whenever /tmp is a separate mount.
	if filepath.Dir(client.cloneDest) != filepath.Dir(dst) {
		t.Errorf("staging clone %q is not a sibling of %q", client.cloneDest, dst)
	}
	if !strings.HasPrefix(filepath.Base(client.cloneDest), "STRATEGIES_staging_ff00aa11bb22") {
		t.Errorf("unexpected staging name %q", client.cloneDest)
	}
}

func TestCloneSwap_FailedSwapRestoresPreviousCheckout(t *testing.T) {
	client := &fakeGitClient{
		remoteSHA: "newnewnewnew",
		localSHA:  "oldoldoldold",
		populate:  func(dest string) { writeNotebook(t, dest, "CRACEN.ipynb") },
	}
	s := newTestSynchronizer(t, client, HasNotebooks)
	dst := existingCheckout(t, "previous.ipynb")

	// Fail only the staging-to-destination rename, as a cross-device link
	// error would.
	s.rename = func(oldpath, newpath string) error {
		if strings.Contains(filepath.Base(oldpath), "_staging_") {
			return errors.New("invalid cross-device link")
		}
		return os.Rename(oldpath, newpath)
	}

	res, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err == nil {
		t.Fatal("expected swap error")
	}
	if res.Updated {
		t.Error("expected Updated=false")
	}
	if res.Backup != "" {
		t.Errorf("restored checkout must not be reported as backup, got %q", res.Backup)
	}

	// The previous checkout is back in place.
	if _, err := os.Stat(filepath.Join(dst, "previous.ipynb")); err != nil {
		t.Error("destination missing previous content after failed swap")
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "_staging_") || strings.Contains(e.Name(), "_backup_") {
			t.Errorf("leftover directory %s after restored swap", e.Name())
		}
	}
}

func TestCloneSwap_DestinationWithoutGitMetadata(t *testing.T) {
	client := &fakeGitClient{remoteSHA: "abc123def456"}
	s := newTestSynchronizer(t, client, nil)

	dst := filepath.Join(t.TempDir(), "STRATEGIES")
	if err := os.MkdirAll(dst, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := s.CloneSwap(context.Background(), "url", "main", dst, "tok")
	if err == nil || !strings.Contains(err.Error(), "not a git repository") {
		t.Fatalf("expected not-a-git-repository error, got %v", err)
	}
	if client.cloneCalls != 0 {
		t.Error("no clone should happen for a broken destination")
	}
}

func TestCloneSwap_RemoteHeadFailure(t *testing.T) {
	client := &fakeGitClient{remoteErr: errors.New("remote unreachable")}
	s := newTestSynchronizer(t, client, nil)

	_, err := s.CloneSwap(context.Background(), "url", "main", filepath.Join(t.TempDir(), "dst"), "tok")
	if err == nil {
		t.Fatal("expected error")
	}
	if client.cloneCalls != 0 {
		t.Error("no clone should happen when the remote head cannot be resolved")
	}
}

func TestEnsureCheckout(t *testing.T) {
	t.Run("absent destination clones", func(t *testing.T) {
		client := &fakeGitClient{localSHA: "abc123def456"}
		s := newTestSynchronizer(t, client, nil)
		dst := filepath.Join(t.TempDir(), "repo")

		res, err := s.EnsureCheckout(context.Background(), "url", "main", dst, "tok")
		if err != nil {
			t.Fatalf("EnsureCheckout failed: %v", err)
		}
		if !res.Updated || res.SHA != "abc123def456" {
			t.Errorf("unexpected result %+v", res)
		}
		if client.cloneCalls != 1 {
			t.Errorf("expected one clone, got %d", client.cloneCalls)
		}
	})

	t.Run("existing destination pulls", func(t *testing.T) {
		client := &fakeGitClient{localSHA: "abc123def456"}
		s := newTestSynchronizer(t, client, nil)
		dst := existingCheckout(t, "keep.ipynb")

		res, err := s.EnsureCheckout(context.Background(), "url", "main", dst, "tok")
		if err != nil {
			t.Fatalf("EnsureCheckout failed: %v", err)
		}
		if !res.Updated {
			t.Error("expected Updated=true")
		}
		if client.cloneCalls != 0 {
			t.Error("expected no clone for existing checkout")
		}
	})

	t.Run("pull failure reported without rollback", func(t *testing.T) {
		client := &fakeGitClient{fetchErr: errors.New("git pull failed: conflict")}
		s := newTestSynchronizer(t, client, nil)
		dst := existingCheckout(t, "keep.ipynb")

		res, err := s.EnsureCheckout(context.Background(), "url", "main", dst, "tok")
		if err == nil {
			t.Fatal("expected error")
		}
		if res.Updated {
			t.Error("expected Updated=false")
		}
	})

	t.Run("not a git repository", func(t *testing.T) {
		client := &fakeGitClient{}
		s := newTestSynchronizer(t, client, nil)
		dst := filepath.Join(t.TempDir(), "repo")
		if err := os.MkdirAll(dst, 0755); err != nil {
			t.Fatal(err)
		}

		if _, err := s.EnsureCheckout(context.Background(), "url", "main", dst, "tok"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestHasNotebooks(t *testing.T) {
	t.Run("nested notebook found", func(t *testing.T) {
		dir := t.TempDir()
		writeNotebook(t, filepath.Join(dir, "sub", "deeper"), "strategy.ipynb")
		if err := HasNotebooks(dir); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("no notebooks", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := HasNotebooks(dir); err == nil {
			t.Error("expected error for tree without notebooks")
		}
	})
}

func TestBackupPath_TimestampFallback(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "STRATEGIES")
	got := backupPath(dst, "")
	base := filepath.Base(got)
	if !strings.HasPrefix(base, "STRATEGIES_backup_") {
		t.Errorf("unexpected backup name %q", got)
	}
	// The suffix must be purely numeric (a unix timestamp).
	suffix := strings.TrimPrefix(base, "STRATEGIES_backup_")
	if suffix == "" {
		t.Fatalf("empty backup suffix in %q", got)
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			t.Errorf("expected numeric timestamp suffix, got %q", suffix)
			break
		}
	}
}
