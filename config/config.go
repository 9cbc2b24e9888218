// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure loaded from a YAML or
// JSON file and overlaid with environment variables.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Session     *SessionConfig  `yaml:"session" json:"session"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// SessionConfig mirrors session.Config's fields in the on-disk/env-var
// surface; Build() converts it into the session package's own type,
// keeping the wire/file format decoupled from the in-process struct.
type SessionConfig struct {
	Mechanism             string   `yaml:"mechanism" json:"mechanism"`
	RSABits               int      `yaml:"rsa_bits" json:"rsa_bits"`
	RekeyIntervalSeconds  int      `yaml:"rekey_interval_s" json:"rekey_interval_s"`
	RekeyCounterThreshold uint32   `yaml:"rekey_counter_threshold" json:"rekey_counter_threshold"`
	MaxRecordBytes        uint32   `yaml:"max_record_bytes" json:"max_record_bytes"`
	BindSeqAAD            bool     `yaml:"bind_seq_aad" json:"bind_seq_aad"`
	Role                  string   `yaml:"role" json:"role"`
	Members               []string `yaml:"members" json:"members"` // "node_id@host:port"
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_s" json:"handshake_timeout_s"`
	IdleTimeoutSeconds    int      `yaml:"idle_timeout_s" json:"idle_timeout_s"`
}

// KeyStoreConfig represents key storage configuration.
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"` // "file" (crypto/storage.NewFileKeyStorage)
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, picking the format by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in zero-valued fields with the protocol's defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Session != nil {
		if cfg.Session.Mechanism == "" {
			cfg.Session.Mechanism = "key-agreement"
		}
		if cfg.Session.RSABits == 0 {
			cfg.Session.RSABits = 2048
		}
		if cfg.Session.RekeyIntervalSeconds == 0 {
			cfg.Session.RekeyIntervalSeconds = 600
		}
		if cfg.Session.RekeyCounterThreshold == 0 {
			cfg.Session.RekeyCounterThreshold = 1 << 20
		}
		if cfg.Session.MaxRecordBytes == 0 {
			cfg.Session.MaxRecordBytes = 1 << 20
		}
		if cfg.Session.HandshakeTimeoutSeconds == 0 {
			cfg.Session.HandshakeTimeoutSeconds = 10
		}
		if cfg.Session.IdleTimeoutSeconds == 0 {
			cfg.Session.IdleTimeoutSeconds = 60
		}
	}

	if cfg.KeyStore != nil {
		if cfg.KeyStore.Type == "" {
			cfg.KeyStore.Type = "file"
		}
		if cfg.KeyStore.Directory == "" {
			cfg.KeyStore.Directory = ".securestream/keys"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
}

// RekeyInterval returns the configured rekey interval as a time.Duration.
func (s *SessionConfig) RekeyInterval() time.Duration {
	return time.Duration(s.RekeyIntervalSeconds) * time.Second
}

// HandshakeTimeout returns the configured handshake timeout as a
// time.Duration.
func (s *SessionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle-read timeout as a
// time.Duration.
func (s *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}
