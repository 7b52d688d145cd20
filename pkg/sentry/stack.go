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
	"bytes"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/DataDog/gostackparse"
	"github.com/getsentry/sentry-go"
)

const (
	modulePrefix = "github.com/united-manufacturing-hub/umh-lifecycle/"
	selfPrefix   = modulePrefix + "pkg/sentry."
)

// currentStack returns the calling goroutine's stack without the frames of this package.
func currentStack() *sentry.Stacktrace {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]

			break
		}

		buf = make([]byte, 2*len(buf))
	}

	goroutines, errs := gostackparse.Parse(bytes.NewReader(buf))
	if len(errs) > 0 || len(goroutines) == 0 {
		return nil
	}

	return toStacktrace(goroutines[0].Stack)
}

// toStacktrace converts innermost-first frames into Sentry's outermost-first order.
func toStacktrace(frames []*gostackparse.Frame) *sentry.Stacktrace {
	out := make([]sentry.Frame, 0, len(frames))

	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if strings.HasPrefix(f.Func, selfPrefix) {
			continue
		}

		out = append(out, sentry.Frame{
			Function: f.Func,
			Filename: filepath.Base(f.File),
			AbsPath:  f.File,
			Lineno:   f.Line,
			InApp:    strings.HasPrefix(f.Func, modulePrefix),
		})
	}

	if len(out) == 0 {
		return nil
	}

	return &sentry.Stacktrace{Frames: out}
}
