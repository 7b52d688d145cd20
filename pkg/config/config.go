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
	"strings"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
)

// Backend selects the persistence.Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// FullConfig is the content of the lifecycle config file.
type FullConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	UnitOfWork UnitOfWorkConfig `yaml:"unitOfWork"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Sentry     SentryConfig     `yaml:"sentry,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR or PRODUCTION
	Format string `yaml:"format"` // CONSOLE or JSON
}

type StoreConfig struct {
	Backend Backend `yaml:"backend"`
	Path    string  `yaml:"path,omitempty"` // database file, sqlite only
}

type UnitOfWorkConfig struct {
	Mode         string        `yaml:"mode"` // extended or transactional
	LockLeaseTTL time.Duration `yaml:"lockLeaseTTL"`
}

type MetricsConfig struct {
	Port int `yaml:"port"` // 0 disables the metrics endpoint
}

type SentryConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() FullConfig {
	return FullConfig{
		Logging: LoggingConfig{
			Level:  string(logger.InfoLevel),
			Format: string(logger.FormatConsole),
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    constants.DefaultSQLitePath,
		},
		UnitOfWork: UnitOfWorkConfig{
			Mode:         lifecycle.ModeExtended.String(),
			LockLeaseTTL: constants.DefaultLockLeaseTTL,
		},
		Metrics: MetricsConfig{
			Port: constants.DefaultMetricsPort,
		},
	}
}

// Validate reports every invalid setting at once.
func (c FullConfig) Validate() error {
	var errs []error

	switch logger.LogLevel(strings.ToUpper(c.Logging.Level)) {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel, logger.ProductionLevel:
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if logger.ParseFormat(c.Logging.Format, "") == "" {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path: required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if _, err := c.UnitOfWork.LifecycleMode(); err != nil {
		errs = append(errs, fmt.Errorf("unitOfWork.mode: %w", err))
	}

	if c.UnitOfWork.LockLeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("unitOfWork.lockLeaseTTL: must be positive, got %s", c.UnitOfWork.LockLeaseTTL))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port: %d is out of range", c.Metrics.Port))
	}

	return errors.Join(errs...)
}

// LifecycleMode parses Mode.
func (u UnitOfWorkConfig) LifecycleMode() (lifecycle.Mode, error) {
	return lifecycle.ParseMode(u.Mode)
}

// Clone returns a deep copy of the config.
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	if err := deepcopy.Copy(&clone, &c); err != nil {
		// the config holds only plain values, a shallow copy is a deep copy
		return c
	}

	return clone
}
