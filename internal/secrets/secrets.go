// Package secrets stages the externally supplied Datum API credential
// files into the working directory for the duration of a run.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/bohdan6992/orion-daily/internal/config"
)

// The two well-known Datum API secret files.
const (
	ConfigFilename      = "datum_api_config.json"
	CredentialsFilename = "datum_api_credentials.json"
)

// Resolve returns the paths of the Datum API config and credentials files.
// Candidate locations are checked in order: the repo root (one level above
// home), then home itself. Both files must exist in the same location.
func Resolve(repoRoot, home string) (cfgPath, credsPath string, err error) {
	candidates := []string{repoRoot, home}

	var checked []string
	for _, dir := range candidates {
		cfg := filepath.Join(dir, ConfigFilename)
		creds := filepath.Join(dir, CredentialsFilename)
		if fileExists(cfg) && fileExists(creds) {
			return cfg, creds, nil
		}
		checked = append(checked, cfg, creds)
	}

	return "", "", fmt.Errorf("%w: Datum API secrets not found, expected both %s and %s, checked: %s",
		config.ErrCredential, ConfigFilename, CredentialsFilename, strings.Join(checked, ", "))
}

// Stage copies both secret files from srcDir into home and returns the
// staged paths. The copies exist only for the duration of the run; Cleanup
// must be invoked on every exit path afterwards.
func Stage(srcDir, home string) (stagedCfg, stagedCreds string, err error) {
	srcCfg := filepath.Join(srcDir, ConfigFilename)
	srcCreds := filepath.Join(srcDir, CredentialsFilename)
	if !fileExists(srcCfg) {
		return "", "", fmt.Errorf("%w: missing %s", config.ErrCredential, srcCfg)
	}
	if !fileExists(srcCreds) {
		return "", "", fmt.Errorf("%w: missing %s", config.ErrCredential, srcCreds)
	}

	stagedCfg = filepath.Join(home, ConfigFilename)
	stagedCreds = filepath.Join(home, CredentialsFilename)

	if err := cp.Copy(srcCfg, stagedCfg); err != nil {
		return "", "", fmt.Errorf("failed to stage %s: %w", ConfigFilename, err)
	}
	if err := cp.Copy(srcCreds, stagedCreds); err != nil {
		_ = os.Remove(stagedCfg)
		return "", "", fmt.Errorf("failed to stage %s: %w", CredentialsFilename, err)
	}

	return stagedCfg, stagedCreds, nil
}

// Cleanup removes the staged copies from home, tolerating their absence.
func Cleanup(home string) {
	for _, name := range []string{ConfigFilename, CredentialsFilename} {
		_ = os.Remove(filepath.Join(home, name))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
