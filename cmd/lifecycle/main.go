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

// Command lifecycle runs lifecycle scenarios against a configured document store.
package main

import (
	"os"

	"github.com/mitchellh/cli"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/version"
)

const binName = "lifecycle"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	runner := &cli.CLI{
		Name:       binName,
		Version:    version.GetAppVersion(),
		Args:       args,
		Commands:   commands(ui),
		HelpFunc:   cli.BasicHelpFunc(binName),
		HelpWriter: os.Stdout,
	}

	exitCode, err := runner.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	_ = logger.Sync()

	return exitCode
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{Ui: ui}, nil
		},
		"validate": func() (cli.Command, error) {
			return &ValidateCommand{Ui: ui}, nil
		},
		"config": func() (cli.Command, error) {
			return &ConfigCommand{Ui: ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Ui: ui}, nil
		},
	}
}
