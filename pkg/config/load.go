// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/env"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/sentry"
)

// Load reads the YAML file at path on top of Default. A missing file yields the defaults.
func Load(path string) (FullConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithEnvOverrides loads the config file and applies environment variable overrides.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (LOGGING_LEVEL, LOGGING_FORMAT, STORE_BACKEND, STORE_PATH,
// UOW_MODE, LOCK_LEASE_TTL, METRICS_PORT, SENTRY_DSN)
// 2. Config file values
// 3. Default values
//
// Unlike the config file, overrides are never written back. The result is validated.
func LoadWithEnvOverrides(path string, log *zap.SugaredLogger) (FullConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return FullConfig{}, err
	}

	for key, target := range map[string]*string{
		"LOGGING_LEVEL":  &cfg.Logging.Level,
		"LOGGING_FORMAT": &cfg.Logging.Format,
		"STORE_PATH":     &cfg.Store.Path,
		"UOW_MODE":       &cfg.UnitOfWork.Mode,
		"SENTRY_DSN":     &cfg.Sentry.DSN,
	} {
		*target = env.String(key, *target)
	}

	cfg.Store.Backend = Backend(env.String("STORE_BACKEND", string(cfg.Store.Backend)))

	// Malformed numbers keep the file value; Validate still runs on the result.
	ttl, err := env.Duration("LOCK_LEASE_TTL", cfg.UnitOfWork.LockLeaseTTL)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeWarning, log)
	}

	cfg.UnitOfWork.LockLeaseTTL = ttl

	port, err := env.Int("METRICS_PORT", cfg.Metrics.Port)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeWarning, log)
	}

	cfg.Metrics.Port = port

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Write stores cfg as YAML at path.
func Write(path string, cfg FullConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
