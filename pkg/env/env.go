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

// Package env reads typed settings from environment variables. An unset or empty
// variable yields the fallback; a set but malformed one is an error naming the variable.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Required returns the value of key, failing when it is unset or empty.
func Required(key string) (string, error) {
	if value, ok := lookup(key); ok {
		return value, nil
	}

	return "", fmt.Errorf("required environment variable %s is not set", key)
}

// String returns the value of key or fallback.
func String(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}

	return fallback
}

// Int parses key as a decimal integer.
func Int(key string, fallback int) (int, error) {
	return parse(key, fallback, strconv.Atoi)
}

// Duration parses key with time.ParseDuration, e.g. "30s" or "2m".
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	return parse(key, fallback, time.ParseDuration)
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)

	return value, ok && value != ""
}

func parse[T any](key string, fallback T, fn func(string) (T, error)) (T, error) {
	raw, ok := lookup(key)
	if !ok {
		return fallback, nil
	}

	value, err := fn(raw)
	if err != nil {
		return fallback, fmt.Errorf("environment variable %s=%q: %w", key, raw, err)
	}

	return value, nil
}
