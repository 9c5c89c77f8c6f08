// Package daily orchestrates one full run: sync the strategies checkout,
// stage secrets, run the primary job and its dependents, publish results,
// and persist the status report after every phase.
package daily

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bohdan6992/orion-daily/internal/config"
	"github.com/bohdan6992/orion-daily/internal/git"
	"github.com/bohdan6992/orion-daily/internal/job"
	"github.com/bohdan6992/orion-daily/internal/publish"
	"github.com/bohdan6992/orion-daily/internal/secrets"
	"github.com/bohdan6992/orion-daily/internal/status"
	syncer "github.com/bohdan6992/orion-daily/internal/sync"
	"github.com/bohdan6992/orion-daily/internal/token"
)

// maxErrorLen bounds error text recorded into the status report.
const maxErrorLen = 2000

// Engine runs the daily pipeline.
type Engine struct {
	home      string
	sync      *syncer.Synchronizer
	runner    *job.Runner
	publisher *publish.Publisher
	reporter  *status.Reporter
	logger    *slog.Logger
}

// NewEngine creates an engine rooted at home. The git client and job
// executor are injected so the pipeline can be exercised without a network
// or a notebook runtime.
func NewEngine(home string, gitClient git.Client, exec job.Executor, logger *slog.Logger) *Engine {
	return &Engine{
		home:      home,
		sync:      syncer.New(gitClient, logger, syncer.HasNotebooks),
		runner:    job.NewRunner(exec, logger),
		publisher: publish.New(gitClient, logger),
		reporter:  status.NewReporter(home, logger),
		logger:    logger,
	}
}

// Run executes one full daily cycle and returns the process exit code:
// 0 on full success, 1 when the primary job failed, its artifact is
// missing, the publish step reported an error, or anything fatal occurred.
func (e *Engine) Run(ctx context.Context) (code int) {
	start := time.Now()
	host, _ := os.Hostname()

	rep := status.NewReport(host)
	rep.Cracen.FinalPath = config.FinalArtifactPath(e.home)

	defer func() {
		if r := recover(); r != nil {
			rep.FatalError = truncate(fmt.Sprint(r))
			e.reporter.Persist(rep)
			e.logger.Error("fatal error", "error", r)
			code = 1
		}
	}()

	code, err := e.run(ctx, rep, start)
	if err != nil {
		rep.FatalError = truncate(err.Error())
		e.reporter.Persist(rep)
		e.logger.Error("run aborted", "error", err)
		return 1
	}
	return code
}

// run walks the phases in order. A returned error is fatal; phase failures
// that must not abort the run are recorded into rep instead.
func (e *Engine) run(ctx context.Context, rep *status.Report, start time.Time) (int, error) {
	for _, dir := range []string{config.SignalsDir(e.home), config.StatusDir(e.home)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cfg, err := config.Load(config.OpsConfigPath(e.home))
	if err != nil {
		return 0, err
	}
	tok, err := token.Read(e.home)
	if err != nil {
		return 0, err
	}

	rep.GitHub.StrategiesRepo = cfg.StrategiesRepo
	rep.GitHub.ResultsRepo = cfg.ResultsRepo
	rep.GitHub.ResultsLayout = string(cfg.ResultsLayout)
	rep.GitHub.ResultsSubdir = cfg.ResultsSubdir

	// Phase 1: sync the strategies checkout, atomically by default, in
	// place when clone-swap is disabled. Sync failures are recorded and
	// the run proceeds with whatever checkout is present.
	syncFn := e.sync.CloneSwap
	if !cfg.UseCloneSwap {
		syncFn = e.sync.EnsureCheckout
	}
	res, err := syncFn(ctx, cfg.StrategiesRepo, cfg.StrategiesBranch,
		config.StrategiesDir(e.home), tok)
	rep.GitHub.StrategiesSHA = res.SHA
	rep.GitHub.StrategiesUpdated = boolPtr(res.Updated)
	if err != nil {
		rep.GitHub.StrategiesError = truncate(err.Error())
		e.logger.Warn("strategies sync failed, continuing with existing checkout",
			"error", err)
	}
	e.reporter.Persist(rep)

	// Phase 2: resolve and stage the Datum API secrets.
	repoRoot := config.RepoRoot(e.home)
	cfgPath, credsPath, err := secrets.Resolve(repoRoot, e.home)
	if err != nil {
		return 0, err
	}
	rep.DatumAPI.ConfigPath = cfgPath
	rep.DatumAPI.CredentialsPath = credsPath

	if filepath.Dir(cfgPath) == repoRoot {
		stagedCfg, stagedCreds, err := secrets.Stage(repoRoot, e.home)
		if err != nil {
			return 0, err
		}
		defer secrets.Cleanup(e.home)
		rep.DatumAPI.StagedConfigPath = stagedCfg
		rep.DatumAPI.StagedCredentialsPath = stagedCreds
	} else {
		rep.DatumAPI.StagedConfigPath = cfgPath
		rep.DatumAPI.StagedCredentialsPath = credsPath
	}
	rep.DatumAPI.OK = true
	e.reporter.Persist(rep)

	env := e.buildEnv(cfgPath, credsPath)

	// Phase 3: the primary job. Its failure is the single early-abort
	// condition; dependents and publish are skipped.
	primary := job.Primary(config.StrategiesDir(e.home))
	primaryRes := e.runner.RunPrimary(ctx, primary, e.home, rep.Cracen.FinalPath, env)
	rep.DurationsSec["cracen"] = primaryRes.DurationSec
	rep.Cracen.OK = primaryRes.OK
	rep.Cracen.Error = primaryRes.Err
	e.reporter.Persist(rep)

	if !primaryRes.OK {
		e.logger.Error("primary job failed", "error", primaryRes.Err)
		return 1, nil
	}

	// Phase 4: dependent jobs, each isolated.
	deps, err := job.DiscoverDependents(config.StrategiesDir(e.home))
	if err != nil {
		return 0, err
	}
	for name, res := range e.runner.RunDependents(ctx, deps, e.home, env) {
		rep.Strategies[name] = status.JobStatus{
			OK:          res.OK,
			DurationSec: res.DurationSec,
			Error:       res.Err,
		}
	}
	rep.DurationsSec["total"] = time.Since(start).Seconds()
	e.reporter.Persist(rep)

	// Phase 5: publish results. Errors are recorded and turn the exit
	// code non-zero, but the final status persist still happens.
	pubRes, pubErr := e.publisher.Push(ctx, cfg.ResultsRepo, cfg.ResultsBranch, tok,
		e.home, cfg.ResultsLayout, cfg.ResultsSubdir)
	rep.GitHub.ResultsPushed = boolPtr(pubRes.Pushed)
	rep.GitHub.ResultsCommit = pubRes.Commit
	if pubErr != nil {
		rep.GitHub.ResultsError = truncate(pubErr.Error())
	}
	e.reporter.Persist(rep)

	if rep.GitHub.ResultsError != "" {
		return 1, nil
	}
	return 0, nil
}

// buildEnv assembles the environment exposed to every job. The Datum API
// paths are exported under several synonymous names for compatibility with
// varying notebook expectations.
func (e *Engine) buildEnv(datumCfg, datumCreds string) []string {
	return append(os.Environ(),
		"ORION_HOME="+e.home,
		"FINAL_PARQUET_PATH="+config.FinalArtifactPath(e.home),
		"SIGNALS_DIR="+config.SignalsDir(e.home),
		"DATUM_API_CONFIG_PATH="+datumCfg,
		"DATUM_API_CREDENTIALS_PATH="+datumCreds,
		"DATUM_CONFIG_PATH="+datumCfg,
		"DATUM_CREDENTIALS_PATH="+datumCreds,
		"DATUM_API_CFG_PATH="+datumCfg,
		"DATUM_API_CREDS_PATH="+datumCreds,
	)
}

func boolPtr(b bool) *bool { return &b }

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
