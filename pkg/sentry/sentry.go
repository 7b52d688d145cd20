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

package sentry

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
)

var enabled atomic.Bool

// InitSentry enables error reporting for released builds. Development builds and an empty
// DSN keep reporting disabled; issues are then only logged.
func InitSentry(appVersion string, dsn string) {
	if dsn == "" || appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := constants.DevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.ProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "umh-lifecycle@" + appVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabled.Store(true)
}

// Enabled reports whether events are sent to Sentry.
func Enabled() bool {
	return enabled.Load()
}

func errorTitle(err error) string {
	message := err.Error()

	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func newEvent(level sentry.Level, err error, tags map[string]string) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	stack := sentry.ExtractStacktrace(err)
	if stack == nil {
		stack = currentStack()
	}

	event.Exception = []sentry.Exception{{
		Type:       errorTitle(err),
		Value:      err.Error(),
		Stacktrace: stack,
	}}
	event.Fingerprint = []string{"{{ default }}", fmt.Sprintf("level: %s", level)}

	if len(tags) > 0 {
		event.Tags = make(map[string]string, len(tags))
		for key, value := range tags {
			event.Tags[key] = value
		}

		if op, ok := tags["operation"]; ok {
			event.Fingerprint = append(event.Fingerprint, "operation: "+op)
		}
	}

	return event
}

// capture builds and sends the event only when reporting is enabled.
func capture(level sentry.Level, err error, tags map[string]string) {
	if !Enabled() {
		return
	}

	sentry.CurrentHub().Clone().CaptureEvent(newEvent(level, err, tags))
}
