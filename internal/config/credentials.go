package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotConfigured means setup has not been run yet.
var ErrNotConfigured = errors.New("jackpoint is not configured: run `jackpoint setup` first")

const credentialsFile = "credentials.json"

// Credentials is the bot account used to reach the homeserver and the
// account that receives notifications.
type Credentials struct {
	Homeserver string `json:"homeserver"`
	UserID     string `json:"user_id"`
	Password   string `json:"password"`
	Recipient  string `json:"recipient"`
}

func (c *Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Homeserver) == "" {
		missing = append(missing, "homeserver")
	}
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(c.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if len(missing) > 0 {
		return fmt.Errorf("credentials missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadCredentials reads credentials.json from dir. Absence, or a record
// that fails validation, is reported as ErrNotConfigured.
func LoadCredentials(dir string) (*Credentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrNotConfigured, err)
	}
	return &creds, nil
}

// SaveCredentials writes credentials.json with 0600 permissions.
func SaveCredentials(dir string, creds *Credentials) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, credentialsFile), data, 0600)
}
