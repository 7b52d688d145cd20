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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/cli"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/config"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/metrics"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/scenario"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/sentry"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/version"
)

func newFlagSet(name string, configPath *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(configPath, "config", constants.DefaultConfigPath, "path to the configuration file")

	return fs
}

// loadConfig reads the configuration and initializes the global logger from it.
func loadConfig(path string) (config.FullConfig, error) {
	bootstrap := logger.New(string(logger.ProductionLevel), logger.FormatConsole).Sugar().Named(logger.ComponentConfig)

	cfg, err := config.LoadWithEnvOverrides(path, bootstrap)
	if err != nil {
		return config.FullConfig{}, err
	}

	logger.InitializeWith(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format, logger.FormatConsole))

	return cfg, nil
}

// RunCommand replays scenario files against the configured store.
type RunCommand struct {
	Ui cli.Ui
}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: lifecycle run [options] SCENARIO...

  Replays each scenario file against the store configured in the
  configuration file and prints a report per scenario. Scenarios that
  do not name a unit of work mode use unitOfWork.mode.

Options:

  -config=path  Configuration file. Defaults to ` + constants.DefaultConfigPath + `.
  -stats        Print the lifecycle metrics in the Prometheus text format
                after all scenarios ran.
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run lifecycle scenarios"
}

func (c *RunCommand) Run(args []string) int {
	var (
		configPath string
		stats      bool
	)

	fs := newFlagSet("run", &configPath)
	fs.BoolVar(&stats, "stats", false, "print the lifecycle metrics after the run")

	if err := fs.Parse(args); err != nil {
		c.Ui.Error(err.Error())
		return cli.RunResultHelp
	}

	paths := fs.Args()
	if len(paths) == 0 {
		c.Ui.Error("run needs at least one scenario file")
		return cli.RunResultHelp
	}

	scripts := make([]scenario.Script, 0, len(paths))

	for _, path := range paths {
		script, err := scenario.LoadFile(path)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		scripts = append(scripts, script)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("failed to load config: %s", err))
		return 1
	}

	log := logger.For(logger.ComponentCLI)

	sentry.InitSentry(version.GetAppVersion(), cfg.Sentry.DSN)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := newSession(cfg, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "failed to start: %w", err)
		return 1
	}
	defer sess.shutdown(log)

	failed := 0

	for _, script := range scripts {
		if script.Mode == "" {
			script.Mode = cfg.UnitOfWork.Mode
		}

		report, err := scenario.Run(ctx, sess.newClient(log), script, log.Named(script.Name))
		c.Ui.Output(report.String())

		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "scenario %s: %w", script.Name, err)
			failed++

			continue
		}

		if !report.Passed() {
			failed++
		}
	}

	log.Infow("Scenarios finished", "total", len(scripts), "failed", failed)

	if stats {
		var b strings.Builder
		if err := metrics.WriteText(&b); err != nil {
			c.Ui.Error(err.Error())
		}

		c.Ui.Output(strings.TrimRight(b.String(), "\n"))
	}

	if failed > 0 {
		return 1
	}

	return 0
}

// ValidateCommand checks the configuration and scenario files without running them.
type ValidateCommand struct {
	Ui cli.Ui
}

func (c *ValidateCommand) Help() string {
	return strings.TrimSpace(`
Usage: lifecycle validate [options] [SCENARIO...]

  Validates the configuration file and every given scenario file.

Options:

  -config=path  Configuration file. Defaults to ` + constants.DefaultConfigPath + `.
`)
}

func (c *ValidateCommand) Synopsis() string {
	return "Validate the configuration and scenario files"
}

func (c *ValidateCommand) Run(args []string) int {
	var configPath string

	fs := newFlagSet("validate", &configPath)
	if err := fs.Parse(args); err != nil {
		c.Ui.Error(err.Error())
		return cli.RunResultHelp
	}

	code := 0

	if _, err := loadConfig(configPath); err != nil {
		c.Ui.Error(fmt.Sprintf("%s: %s", configPath, err))
		code = 1
	}

	for _, path := range fs.Args() {
		if _, err := scenario.LoadFile(path); err != nil {
			c.Ui.Error(err.Error())
			code = 1

			continue
		}

		c.Ui.Output(path + ": ok")
	}

	return code
}

// ConfigCommand prints the effective configuration after environment overrides.
type ConfigCommand struct {
	Ui cli.Ui
}

func (c *ConfigCommand) Help() string {
	return strings.TrimSpace(`
Usage: lifecycle config [options]

  Prints the effective configuration as YAML, after defaults and
  environment overrides have been applied. With -write the result is
  stored at the given path instead.

Options:

  -config=path  Configuration file. Defaults to ` + constants.DefaultConfigPath + `.
  -write=path   Write the effective configuration to path.
`)
}

func (c *ConfigCommand) Synopsis() string {
	return "Print the effective configuration"
}

func (c *ConfigCommand) Run(args []string) int {
	var configPath, writePath string

	fs := newFlagSet("config", &configPath)
	fs.StringVar(&writePath, "write", "", "write the effective configuration to path")

	if err := fs.Parse(args); err != nil {
		c.Ui.Error(err.Error())
		return cli.RunResultHelp
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("failed to load config: %s", err))
		return 1
	}

	if writePath != "" {
		if err := config.Write(writePath, cfg); err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		return 0
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(strings.TrimRight(string(data), "\n"))

	return 0
}

// VersionCommand prints the build version.
type VersionCommand struct {
	Ui cli.Ui
}

func (c *VersionCommand) Help() string {
	return "Usage: lifecycle version"
}

func (c *VersionCommand) Synopsis() string {
	return "Show the current version"
}

func (c *VersionCommand) Run([]string) int {
	c.Ui.Output(binName + " v" + version.GetAppVersion())

	return 0
}
