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

package lifecycle

import (
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// fingerprint hashes the JSON encoding of fields. Map keys are encoded in sorted order,
// so equal field sets hash equally.
func fingerprint(fields Fields) (uint64, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}

	return xxhash.Sum64(data), nil
}
