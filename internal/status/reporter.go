package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/bohdan6992/orion-daily/internal/config"
)

// Reporter persists the report after each phase of the run.
type Reporter struct {
	home   string
	logger *slog.Logger
}

// NewReporter creates a Reporter rooted at the OriON home directory.
func NewReporter(home string, logger *slog.Logger) *Reporter {
	return &Reporter{home: home, logger: logger}
}

// Persist writes the whole report to status/latest.json and its
// human-readable rendering to status/latest.md. Each file is a single
// whole-document write. Write failures are logged, never fatal: the run
// must not die because its own progress record could not be saved.
func (rep *Reporter) Persist(r *Report) {
	r.Touch()

	dir := config.StatusDir(rep.home)
	if err := os.MkdirAll(dir, 0755); err != nil {
		rep.logger.Error("failed to create status directory", "error", err)
		return
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		rep.logger.Error("failed to marshal status report", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "latest.json"), append(data, '\n'), 0644); err != nil {
		rep.logger.Error("failed to write status report", "error", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "latest.md"), []byte(renderMarkdown(r)), 0644); err != nil {
		rep.logger.Error("failed to write status markdown", "error", err)
	}
}

// renderMarkdown produces the human-readable status rendering.
func renderMarkdown(r *Report) string {
	var b strings.Builder

	b.WriteString("# OriON Daily Status\n\n")
	fmt.Fprintf(&b, "- Updated (UTC): **%s**\n", r.UpdatedAtUTC)
	fmt.Fprintf(&b, "- Host: **%s**\n\n", r.Host)

	b.WriteString("## GitHub\n")
	fmt.Fprintf(&b, "- strategies repo: `%s`\n", r.GitHub.StrategiesRepo)
	if r.GitHub.StrategiesSHA != "" {
		fmt.Fprintf(&b, "- strategies sha: `%s`\n", r.GitHub.StrategiesSHA)
	}
	if r.GitHub.StrategiesUpdated != nil {
		fmt.Fprintf(&b, "- strategies updated: **%t**\n", *r.GitHub.StrategiesUpdated)
	}
	if r.GitHub.StrategiesError != "" {
		fmt.Fprintf(&b, "- strategies error: `%s`\n", r.GitHub.StrategiesError)
	}
	fmt.Fprintf(&b, "- results repo: `%s`\n", r.GitHub.ResultsRepo)
	if r.GitHub.ResultsCommit != "" {
		fmt.Fprintf(&b, "- results commit: `%s`\n", r.GitHub.ResultsCommit)
	}
	if r.GitHub.ResultsPushed != nil {
		fmt.Fprintf(&b, "- results pushed: **%t**\n", *r.GitHub.ResultsPushed)
	}
	if r.GitHub.ResultsError != "" {
		fmt.Fprintf(&b, "- results error: `%s`\n", r.GitHub.ResultsError)
	}
	if r.GitHub.ResultsLayout != "" {
		fmt.Fprintf(&b, "- results layout: `%s`\n", r.GitHub.ResultsLayout)
	}
	fmt.Fprintf(&b, "- results subdir: `%s`\n\n", r.GitHub.ResultsSubdir)

	b.WriteString("## Datum API\n")
	fmt.Fprintf(&b, "- ok: **%t**\n", r.DatumAPI.OK)
	if r.DatumAPI.ConfigPath != "" {
		fmt.Fprintf(&b, "- config: `%s`\n", r.DatumAPI.ConfigPath)
	}
	if r.DatumAPI.CredentialsPath != "" {
		fmt.Fprintf(&b, "- credentials: `%s`\n", r.DatumAPI.CredentialsPath)
	}
	if r.DatumAPI.StagedConfigPath != "" {
		fmt.Fprintf(&b, "- staged config: `%s`\n", r.DatumAPI.StagedConfigPath)
	}
	if r.DatumAPI.StagedCredentialsPath != "" {
		fmt.Fprintf(&b, "- staged credentials: `%s`\n", r.DatumAPI.StagedCredentialsPath)
	}
	if r.DatumAPI.Error != "" {
		fmt.Fprintf(&b, "- error: `%s`\n", r.DatumAPI.Error)
	}
	b.WriteString("\n")

	b.WriteString("## CRACEN\n")
	fmt.Fprintf(&b, "- ok: **%t**\n", r.Cracen.OK)
	if r.Cracen.Error != "" {
		fmt.Fprintf(&b, "- error: `%s`\n", r.Cracen.Error)
	}
	fmt.Fprintf(&b, "- final: `%s`\n\n", r.Cracen.FinalPath)

	b.WriteString("## Strategies\n")
	names := lo.Keys(r.Strategies)
	sort.Strings(names)
	for _, name := range names {
		s := r.Strategies[name]
		mark := "❌"
		if s.OK {
			mark = "✅"
		}
		extra := ""
		if s.DurationSec > 0 {
			extra = fmt.Sprintf(" (%ds)", int(s.DurationSec))
		}
		if s.Error != "" {
			extra += " - " + s.Error
		}
		fmt.Fprintf(&b, "- %s **%s**%s\n", mark, name, extra)
	}

	if r.FatalError != "" {
		b.WriteString("\n## Fatal\n")
		fmt.Fprintf(&b, "- `%s`\n", r.FatalError)
	}

	return b.String()
}
