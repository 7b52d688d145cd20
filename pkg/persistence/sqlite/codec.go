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

package sqlite

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

// compressThreshold is the encoded size from which documents are stored zstd compressed.
const compressThreshold = 4096

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// encode stores doc under id as JSON, compressed once it reaches compressThreshold.
// JSON objects never start with the zstd magic number, so decode can tell both apart.
func encode(id string, doc persistence.Document) ([]byte, error) {
	stored := make(persistence.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}

	stored["id"] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	if len(data) < compressThreshold {
		return data, nil
	}

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func decode(data []byte) (persistence.Document, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress document: %w", err)
		}

		data = plain
	}

	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return doc, nil
}
