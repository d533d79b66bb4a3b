package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile is the identity the CLI plays as.
type Profile struct {
	PlayerID string `json:"player_id"`
	Token    string `json:"token,omitempty"`
}

// BaseDir returns ~/.tap, creating it if needed. TAP_HOME overrides it.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("TAP_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tap")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func profilePath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

func SaveProfile(p Profile) error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

// LoadProfile reads the saved profile. A non-empty override, usually from
// TAP_PLAYER, wins over the file.
func LoadProfile(override string) (Profile, error) {
	var p Profile
	path, err := profilePath()
	if err != nil {
		return Profile{}, err
	}
	body, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &p); err != nil {
			return Profile{}, err
		}
	case !os.IsNotExist(err):
		return Profile{}, err
	}
	if override = strings.TrimSpace(override); override != "" {
		p.PlayerID = override
	}
	if strings.TrimSpace(p.PlayerID) == "" && strings.TrimSpace(p.Token) == "" {
		return Profile{}, fmt.Errorf("no player selected, run `tap use <player>`")
	}
	return p, nil
}

func ClearProfile() error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
