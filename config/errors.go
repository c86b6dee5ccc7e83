// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", \"error\", or \"disabled\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrEmptyProgramID indicates the program identifier is empty.
	ErrEmptyProgramID = errors.New("config: program id must not be empty")

	// ErrInvalidSecret indicates the authority secret is not valid hex or too short.
	ErrInvalidSecret = errors.New("config: invalid authority secret")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the config file is not valid TOML.
	ErrInvalidConfigFile = errors.New("config: invalid configuration file")

	// ErrInvalidEnv indicates an environment override could not be parsed.
	ErrInvalidEnv = errors.New("config: invalid environment override")
)
