package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Bot identity used for commits made by the daily run.
const (
	botName  = "orion-bot"
	botEmail = "orion-bot@local"
)

// Client provides the git operations used for strategy sync and results
// publishing. All methods block until the underlying git process exits.
type Client interface {
	// LsRemoteHead returns the short (12 character) revision of the branch
	// head on the remote.
	LsRemoteHead(ctx context.Context, url, branch, token string) (string, error)
	// CloneDepth1 clones the branch tip into dest, replacing dest if it
	// already exists.
	CloneDepth1(ctx context.Context, url, branch, dest, token string) error
	// LocalHead returns the short revision of HEAD in an existing checkout.
	LocalHead(ctx context.Context, dir string) (string, error)
	// FetchCheckoutPull updates an existing checkout in place: fetch the
	// branch, check it out, pull. The first failing step's error is
	// returned; no rollback is attempted.
	FetchCheckoutPull(ctx context.Context, dir, branch string) error
	// AddCommitPush stages paths and, when the staged diff is non-empty,
	// commits under the bot identity and pushes the branch. An empty diff
	// returns pushed=false with no error.
	AddCommitPush(ctx context.Context, dir string, paths []string, message, branch string) (commit string, pushed bool, err error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct{}

// NewShellClient creates a new git client that uses the git command
func NewShellClient() *ShellClient {
	return &ShellClient{}
}

// LsRemoteHead queries the remote's branch head via ls-remote.
func (c *ShellClient) LsRemoteHead(ctx context.Context, url, branch, token string) (string, error) {
	stdout, stderr, err := c.run(ctx, os.TempDir(),
		"ls-remote", withToken(url, token), "refs/heads/"+branch)
	if err != nil {
		return "", commandError("ls-remote", stdout, stderr, err, token)
	}
	out := strings.TrimSpace(stdout)
	if out == "" {
		return "", fmt.Errorf("git ls-remote returned empty output (branch %q missing?)", branch)
	}
	sha := strings.Fields(out)[0]
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return sha, nil
}

// CloneDepth1 performs a shallow clone of a single branch into dest.
func (c *ShellClient) CloneDepth1(ctx context.Context, url, branch, dest, token string) error {
	if _, err := os.Stat(dest); err == nil {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to empty clone destination: %w", err)
		}
	}
	stdout, stderr, err := c.run(ctx, os.TempDir(),
		"clone", "--depth", "1", "--branch", branch, withToken(url, token), dest)
	if err != nil {
		return commandError("clone", stdout, stderr, err, token)
	}
	return nil
}

// LocalHead resolves the short HEAD revision of an existing checkout.
func (c *ShellClient) LocalHead(ctx context.Context, dir string) (string, error) {
	stdout, stderr, err := c.run(ctx, dir, "rev-parse", "--short=12", "HEAD")
	if err != nil {
		return "", commandError("rev-parse", stdout, stderr, err, "")
	}
	return strings.TrimSpace(stdout), nil
}

// FetchCheckoutPull runs fetch, checkout and pull in sequence.
func (c *ShellClient) FetchCheckoutPull(ctx context.Context, dir, branch string) error {
	steps := [][]string{
		{"fetch", "origin", branch},
		{"checkout", branch},
		{"pull", "origin", branch},
	}
	for _, args := range steps {
		stdout, stderr, err := c.run(ctx, dir, args...)
		if err != nil {
			return commandError(args[0], stdout, stderr, err, "")
		}
	}
	return nil
}

// AddCommitPush stages the given paths, commits and pushes. If the staged
// diff is empty it returns ("", false, nil) without committing.
func (c *ShellClient) AddCommitPush(ctx context.Context, dir string, paths []string, message, branch string) (string, bool, error) {
	for _, p := range paths {
		// Paths may be absent on this run; git add failures here are not
		// themselves fatal, the diff check below decides.
		_, _, _ = c.run(ctx, dir, "add", p)
	}

	// Exit 0 means the staged diff is empty: nothing to do.
	if _, _, err := c.run(ctx, dir, "diff", "--cached", "--quiet"); err == nil {
		return "", false, nil
	}

	_, _, _ = c.run(ctx, dir, "config", "user.name", botName)
	_, _, _ = c.run(ctx, dir, "config", "user.email", botEmail)

	if stdout, stderr, err := c.run(ctx, dir, "commit", "-m", message); err != nil {
		return "", false, commandError("commit", stdout, stderr, err, "")
	}

	commit := ""
	if stdout, _, err := c.run(ctx, dir, "rev-parse", "HEAD"); err == nil {
		commit = strings.TrimSpace(stdout)
	}

	if stdout, stderr, err := c.run(ctx, dir, "push", "origin", branch); err != nil {
		return commit, false, commandError("push", stdout, stderr, err, "")
	}

	return commit, true, nil
}

// run executes git with the given args, capturing stdout and stderr.
func (c *ShellClient) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// commandError folds the git process output into a single error message.
// The token (if any) is redacted so it never reaches logs or status files.
func commandError(op, stdout, stderr string, err error, token string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("git %s failed: %s", op, redact(msg, token))
}

// redact masks the token anywhere it appears in s.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

// normalizeHTTPS converts a git@github.com: remote to its HTTPS form.
// HTTPS URLs and local paths pass through unchanged.
func normalizeHTTPS(url string) string {
	s := strings.TrimSpace(url)
	if strings.HasPrefix(s, "git@github.com:") {
		return "https://github.com/" + strings.TrimPrefix(s, "git@github.com:")
	}
	return s
}

// withToken injects the token into an HTTPS remote URL as a basic-auth
// prefix: https://github.com/u/r.git -> https://<token>@github.com/u/r.git
func withToken(url, token string) string {
	u := normalizeHTTPS(url)
	if token == "" || !strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + token + "@" + strings.TrimPrefix(u, "https://")
}
