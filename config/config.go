// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads, saves and validates the claimd daemon configuration.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// MinSecretBytes is the minimum decoded length of the authority secret.
const MinSecretBytes = 32

// Config holds the daemon configuration.
type Config struct {
	DataDir         string `toml:"data_dir"`
	ListenAddr      string `toml:"listen_addr"`
	LogLevel        string `toml:"log_level"`
	LogFile         string `toml:"log_file"`
	ProgramID       string `toml:"program_id"`
	AuthoritySecret string `toml:"authority_secret"` // hex
	AdminToken      string `toml:"admin_token"`
	StrictWindow    bool   `toml:"strict_window"`
}

// Environment variables that override file values.
const (
	EnvDataDir         = "CLAIMD_DATA_DIR"
	EnvListenAddr      = "CLAIMD_LISTEN_ADDR"
	EnvLogLevel        = "CLAIMD_LOG_LEVEL"
	EnvLogFile         = "CLAIMD_LOG_FILE"
	EnvProgramID       = "CLAIMD_PROGRAM_ID"
	EnvAuthoritySecret = "CLAIMD_AUTHORITY_SECRET"
	EnvAdminToken      = "CLAIMD_ADMIN_TOKEN"
	EnvStrictWindow    = "CLAIMD_STRICT_WINDOW"
)

// DefaultConfig returns a Config populated with default values.
// AuthoritySecret is left empty; see GenerateSecret.
func DefaultConfig() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		ListenAddr: ":8080",
		LogLevel:   "info",
		ProgramID:  "claim",
	}
}

// DefaultDataDir returns ~/.claimd, or .claimd when the home directory
// cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claimd"
	}
	return filepath.Join(home, ".claimd")
}

// ConfigPath returns the configuration file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// LoadConfig reads the TOML file at path over DefaultConfig. Keys absent
// from the file keep their defaults; unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfigFile, perr.Message)
		}
		if errors.Is(err, fs.ErrPermission) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating parent directories.
// The file holds the authority secret and is written with mode 0600.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# claimd configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg fields with any CLAIMD_* variables that are set.
func ApplyEnv(cfg *Config) error {
	str := map[string]*string{
		EnvDataDir:         &cfg.DataDir,
		EnvListenAddr:      &cfg.ListenAddr,
		EnvLogLevel:        &cfg.LogLevel,
		EnvLogFile:         &cfg.LogFile,
		EnvProgramID:       &cfg.ProgramID,
		EnvAuthoritySecret: &cfg.AuthoritySecret,
		EnvAdminToken:      &cfg.AdminToken,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvStrictWindow); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnv, EnvStrictWindow, v)
		}
		cfg.StrictWindow = b
	}
	return nil
}

// Secret returns the decoded authority secret.
func (c Config) Secret() ([]byte, error) {
	b, err := hex.DecodeString(c.AuthoritySecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	return b, nil
}

// GenerateSecret returns a fresh random authority secret, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, MinSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
