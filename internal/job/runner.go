package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// maxErrorLen bounds the diagnostic text captured into a job result.
const maxErrorLen = 2000

// Result is the outcome of one executed job.
type Result struct {
	OK          bool
	DurationSec float64
	Err         string
}

// Runner executes jobs and isolates their failures.
type Runner struct {
	exec   Executor
	logger *slog.Logger
}

// NewRunner creates a new job runner
func NewRunner(exec Executor, logger *slog.Logger) *Runner {
	return &Runner{exec: exec, logger: logger}
}

// Run executes one job and reports its outcome. The error text is the
// job's trimmed stderr, falling back to stdout, falling back to a generic
// exit message, truncated to a bounded size.
func (r *Runner) Run(ctx context.Context, j Job, workDir string, env []string) Result {
	start := time.Now()
	exitCode, stdout, stderr, err := r.exec.Run(ctx, j.Path, workDir, env)
	res := Result{DurationSec: time.Since(start).Seconds()}

	if err != nil {
		res.Err = truncate(err.Error())
		return res
	}
	if exitCode != 0 {
		res.Err = truncate(diagnostic(stdout, stderr, exitCode))
		return res
	}

	res.OK = true
	return res
}

// RunPrimary executes the primary job and verifies its declared output
// artifact. A zero exit with a missing artifact is still a failure.
func (r *Runner) RunPrimary(ctx context.Context, j Job, workDir, artifact string, env []string) Result {
	if _, err := os.Stat(j.Path); err != nil {
		return Result{Err: fmt.Sprintf("Missing: %s", j.Path)}
	}

	r.logger.Info("running primary job", "name", j.Name)
	res := r.Run(ctx, j, workDir, env)
	if !res.OK {
		return res
	}

	if _, err := os.Stat(artifact); err != nil {
		res.OK = false
		res.Err = truncate(fmt.Sprintf("%s finished but missing artifact: %s", j.Name, artifact))
	}
	return res
}

// RunDependents executes each dependent job in order. One job's failure is
// recorded and does not prevent subsequent jobs from running.
func (r *Runner) RunDependents(ctx context.Context, jobs []Job, workDir string, env []string) map[string]Result {
	results := make(map[string]Result, len(jobs))
	for _, j := range jobs {
		r.logger.Info("running strategy job", "name", j.Name)
		res := r.Run(ctx, j, workDir, env)
		if !res.OK {
			r.logger.Warn("strategy job failed", "name", j.Name, "error", res.Err)
		}
		results[j.Name] = res
	}
	return results
}

// diagnostic picks the most useful failure text from captured output.
func diagnostic(stdout, stderr string, exitCode int) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(stdout); s != "" {
		return s
	}
	return fmt.Sprintf("exit %d", exitCode)
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
