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

// Package ctxutil holds checks run before a storage call is started.
package ctxutil

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientTime is returned when the deadline is closer than the caller needs.
var ErrInsufficientTime = errors.New("insufficient time remaining before deadline")

// Remaining reports the time left until ctx's deadline. ok is false without a deadline.
func Remaining(ctx context.Context) (left time.Duration, ok bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}

	return time.Until(deadline), true
}

// CheckBeforeCall fails when ctx is done or its deadline leaves less than minRemaining.
// A context without a deadline passes.
func CheckBeforeCall(ctx context.Context, minRemaining time.Duration) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if left, ok := Remaining(ctx); ok && left < minRemaining {
		return fmt.Errorf("%w: %v left, need %v", ErrInsufficientTime, left.Round(time.Millisecond), minRemaining)
	}

	return nil
}
