// Package token resolves the GitHub access token used for both the
// strategies and results remotes.
//
// The token is read ONLY from <home>/ops/access_token.json. The similarly
// named access_token.json directly under the home directory belongs to the
// Datum API and must never be used for GitHub access.
package token

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bohdan6992/orion-daily/internal/config"
)

// acceptedKeys are the equivalent JSON keys the token may live under.
// The first key holding a non-empty string wins.
var acceptedKeys = []string{"token", "github_pat", "pat"}

// Read resolves the GitHub token from the ops token file. The file is
// re-read on every call; nothing is cached.
func Read(home string) (string, error) {
	path := config.TokenFilePath(home)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: missing GitHub token file: %s", config.ErrCredential, path)
		}
		return "", fmt.Errorf("%w: failed to read %s: %v", config.ErrCredential, path, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: failed to parse %s: %v", config.ErrCredential, path, err)
	}

	for _, key := range acceptedKeys {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}

	return "", fmt.Errorf("%w: GitHub token not found in %s (expected key: token/github_pat/pat)", config.ErrCredential, path)
}
