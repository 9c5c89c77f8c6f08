package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bohdan6992/orion-daily/internal/config"
)

// Executor runs a single notebook to completion.
type Executor interface {
	// Run executes the notebook with workDir as working directory and env
	// as the full process environment. A non-zero exit code is reported
	// through exitCode, not err; err is reserved for failures to run the
	// process at all.
	Run(ctx context.Context, notebook, workDir string, env []string) (exitCode int, stdout, stderr string, err error)
}

// PapermillExecutor implements Executor by shelling out to papermill
// through the python interpreter. The executed copy of each notebook is
// written to status/last_<name>_out.ipynb for inspection.
type PapermillExecutor struct {
	// Python is the interpreter to invoke, "python3" when empty.
	Python string
}

// Run executes the notebook via papermill.
func (e *PapermillExecutor) Run(ctx context.Context, notebook, workDir string, env []string) (int, string, string, error) {
	outNotebook := filepath.Join(config.StatusDir(workDir), fmt.Sprintf("last_%s_out.ipynb", Stem(notebook)))
	if err := os.MkdirAll(filepath.Dir(outNotebook), 0755); err != nil {
		return 0, "", "", fmt.Errorf("failed to create status directory: %w", err)
	}

	python := e.Python
	if python == "" {
		python = "python3"
	}

	cmd := exec.CommandContext(ctx, python, "-m", "papermill", notebook, outNotebook, "-k", "python3")
	cmd.Dir = workDir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}

	return exitCode, stdout.String(), stderr.String(), err
}
