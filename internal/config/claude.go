package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// claudeClientState is the minimal ~/.claude.json that lets the Claude CLI
// skip onboarding when pointed at this gateway.
type claudeClientState struct {
	NumStartups            int            `json:"numStartups"`
	AutoUpdaterStatus      string         `json:"autoUpdaterStatus"`
	UserID                 string         `json:"userID"`
	HasCompletedOnboarding bool           `json:"hasCompletedOnboarding"`
	LastOnboardingVersion  string         `json:"lastOnboardingVersion"`
	Projects               map[string]any `json:"projects"`
}

// EnsureClaudeClientConfig writes <home>/.claude.json when it does not exist.
// It reports whether a file was created.
func EnsureClaudeClientConfig(home string) (bool, error) {
	path := filepath.Join(home, ".claude.json")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("config: stat %s: %w", path, err)
	}

	state := claudeClientState{
		NumStartups:            184,
		AutoUpdaterStatus:      "enabled",
		UserID:                 newUserID(),
		HasCompletedOnboarding: true,
		LastOnboardingVersion:  "1.0.17",
		Projects:               map[string]any{},
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return true, nil
}

// EnsureHomeDir creates the gateway's home directory.
func EnsureHomeDir() error {
	return os.MkdirAll(HomeDir(), 0o755)
}

// newUserID returns 64 lowercase hex characters.
func newUserID() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
