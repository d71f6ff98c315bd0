package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crucial707/equipment-manager/internal/apiclient"
)

const (
	defaultAPIURL = "http://localhost:8080"
	tokenFileName = ".equipctl_token"
)

// ErrNotLoggedIn is returned when no token is stored.
var ErrNotLoggedIn = errors.New("not logged in, run: equipctl login --username <name>")

// APIURL returns the base URL for the equipment API.
// It can be overridden with the EQUIPMENT_API_URL environment variable.
func APIURL() string {
	if v := os.Getenv("EQUIPMENT_API_URL"); v != "" {
		return v
	}
	return defaultAPIURL
}

// TokenPath is ~/.equipctl_token unless EQUIPCTL_TOKEN_FILE is set.
func TokenPath() string {
	if v := os.Getenv("EQUIPCTL_TOKEN_FILE"); v != "" {
		return v
	}
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, tokenFileName)
}

func SaveToken(token string) error {
	return os.WriteFile(TokenPath(), []byte(token), 0600)
}

func LoadToken() (string, error) {
	data, err := os.ReadFile(TokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// ClearToken removes the stored token. It reports false when none was stored.
func ClearToken() (bool, error) {
	err := os.Remove(TokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Client returns an API client carrying the stored token.
func Client() (*apiclient.Client, error) {
	token, err := LoadToken()
	if err != nil {
		return nil, err
	}
	return apiclient.New(APIURL()).WithToken(token), nil
}

// Explain rewrites a 401 into a hint to log in again.
func Explain(err error) error {
	if apiclient.IsUnauthorized(err) {
		return fmt.Errorf("session expired or invalid, run: equipctl login (%w)", err)
	}
	return err
}
