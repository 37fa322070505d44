package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"

	"github.com/covekit/cove/pkg/errdefs"
)

// Config is the persisted service configuration. It is a small JSON object;
// the owner UUID is the only required field.
type Config struct {
	OwnerUUID string `json:"owner_uuid"`
}

// WriteError reports a failure to persist the configuration. It carries the
// exact path so the CLI can name it when reporting the failure.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing config file %s failed: %s", e.Path, e.Reason())
}

func (e *WriteError) Unwrap() error { return e.Err }

// Reason returns a human-readable cause, with permission failures reported
// in the fixed form the CLI contract requires.
func (e *WriteError) Reason() string {
	if errors.Is(e.Err, fs.ErrPermission) {
		return "Permission denied"
	}
	return e.Err.Error()
}

// Store reads and writes the service configuration at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store for the configuration file at path. The file is
// not touched until Load, Save, or LoadOrCreate is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the configuration file location.
func (s *Store) Path() string { return s.path }

// Load reads the configuration. A missing file is reported as
// errdefs.ErrNotFound.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", s.path, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("reading config file %s: %w", s.path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", s.path, err)
	}
	if cfg.OwnerUUID == "" {
		return nil, fmt.Errorf("config file %s: missing owner_uuid", s.path)
	}
	return &cfg, nil
}

// Save writes the configuration with 0600 permissions. Any failure is
// returned as a *WriteError naming the path.
func (s *Store) Save(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

// LoadOrCreate loads the configuration, generating and persisting a fresh
// owner UUID if no file exists yet. A given path always yields the same
// identity once created.
func (s *Store) LoadOrCreate() (*Config, error) {
	cfg, err := s.Load()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	cfg = &Config{OwnerUUID: uuid.NewString()}
	if err := s.Save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
