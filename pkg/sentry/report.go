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
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// flushTimeout bounds how long a fatal report waits for delivery.
const flushTimeout = 2 * time.Second

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// ReportIssue logs err at the level matching issueType and forwards it to Sentry when enabled.
// Fatal issues terminate the process through the logger.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with tags attached to the Sentry event.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, tags map[string]string) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		capture(sentry.LevelFatal, err, tags)
		sentry.Flush(flushTimeout)
		log.Fatalw(err.Error(), tagFields(tags)...)
	case IssueTypeError:
		capture(sentry.LevelError, err, tags)
		log.Errorw(err.Error(), tagFields(tags)...)
	case IssueTypeWarning:
		capture(sentry.LevelWarning, err, tags)
		log.Warnw(err.Error(), tagFields(tags)...)
	}
}

// ReportNodeErrorf reports a failure tied to a single tracked node.
func ReportNodeErrorf(log *zap.SugaredLogger, issueType IssueType, identity string, state string, operation string, template string, args ...interface{}) {
	tags := map[string]string{
		"identity":  identity,
		"state":     state,
		"operation": operation,
	}
	ReportIssueWithContext(fmt.Errorf(template, args...), issueType, log, tags)
}

func tagFields(tags map[string]string) []interface{} {
	fields := make([]interface{}, 0, len(tags)*2)
	for key, value := range tags {
		fields = append(fields, key, value)
	}

	return fields
}
