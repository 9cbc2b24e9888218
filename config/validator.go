// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error", "warning", "info"
}

// ValidateConfiguration validates the entire configuration.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	if cfg.Session != nil {
		errors = append(errors, validateSessionConfig(cfg.Session)...)
	}

	errors = append(errors, validateEnvironment(cfg.Environment)...)

	return errors
}

func validateSessionConfig(cfg *SessionConfig) []ValidationError {
	var errors []ValidationError

	switch cfg.Mechanism {
	case "", "key-transport", "key-agreement", "group":
	default:
		errors = append(errors, ValidationError{
			Field:   "Session.Mechanism",
			Message: fmt.Sprintf("unknown mechanism %q (expected key-transport, key-agreement, or group)", cfg.Mechanism),
			Level:   "error",
		})
	}

	if cfg.Mechanism == "key-transport" && cfg.RSABits != 0 && cfg.RSABits < 2048 {
		errors = append(errors, ValidationError{
			Field:   "Session.RSABits",
			Message: "RSA modulus below 2048 bits does not meet the handshake's minimum strength",
			Level:   "error",
		})
	}

	if cfg.RekeyIntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "Session.RekeyIntervalSeconds",
			Message: "rekey interval cannot be negative",
			Level:   "error",
		})
	}

	if cfg.Mechanism == "group" && len(cfg.Members) == 0 {
		errors = append(errors, ValidationError{
			Field:   "Session.Members",
			Message: "group mechanism requires at least one member entry",
			Level:   "error",
		})
	}

	for _, m := range cfg.Members {
		if !strings.Contains(m, "@") {
			errors = append(errors, ValidationError{
				Field:   "Session.Members",
				Message: fmt.Sprintf("member entry %q must be node_id@host:port", m),
				Level:   "error",
			})
		}
	}

	return errors
}

func validateEnvironment(env string) []ValidationError {
	var errors []ValidationError

	validEnvs := []string{"local", "development", "staging", "production"}
	env = strings.ToLower(env)

	valid := false
	for _, v := range validEnvs {
		if env == v {
			valid = true
			break
		}
	}

	if !valid {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: fmt.Sprintf("invalid environment: %s (valid: %v)", env, validEnvs),
			Level:   "error",
		})
	}

	if env == "production" {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: "running in production mode - ensure rekey thresholds and key storage are reviewed",
			Level:   "info",
		})
	}

	return errors
}

// ValidateFile validates a configuration file.
func ValidateFile(path string) ([]ValidationError, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return ValidateConfiguration(cfg), nil
}

// PrintValidationErrors prints validation errors in a formatted way.
func PrintValidationErrors(errors []ValidationError) {
	if len(errors) == 0 {
		fmt.Println("configuration is valid")
		return
	}

	var errorCount, warningCount, infoCount int
	for _, e := range errors {
		switch e.Level {
		case "error":
			errorCount++
		case "warning":
			warningCount++
		case "info":
			infoCount++
		}
	}

	fmt.Printf("configuration validation found %d errors, %d warnings, %d info messages\n\n",
		errorCount, warningCount, infoCount)

	for _, e := range errors {
		if e.Level == "error" {
			fmt.Printf("ERROR: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "warning" {
			fmt.Printf("WARNING: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "info" {
			fmt.Printf("INFO: %s - %s\n", e.Field, e.Message)
		}
	}
}
