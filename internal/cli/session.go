package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials are what `arenactl login` stores for later commands.
type Credentials struct {
	APIBaseURL string `json:"api_base_url"`
	AdminToken string `json:"admin_token"`
}

// HomeDir overrides the user's home directory; tests point it at a temp dir.
var HomeDir = os.UserHomeDir

func baseDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".arenactl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func credentialsPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}

func SaveCredentials(c Credentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return err
	}
	return nil
}

func LoadCredentials() (Credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return Credentials{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := json.Unmarshal(body, &c); err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(c.AdminToken) == "" {
		return Credentials{}, fmt.Errorf("no admin token found in credentials")
	}
	return c, nil
}

func ClearCredentials() error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
