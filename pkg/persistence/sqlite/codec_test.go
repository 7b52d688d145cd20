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
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

var _ = Describe("document codec", func() {
	It("keeps small documents as plain JSON", func() {
		data, err := encode("1", persistence.Document{"name": "vivek"})
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HavePrefix("{"))

		doc, err := decode(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(Equal(persistence.Document{"id": "1", "name": "vivek"}))
	})

	It("compresses large documents and reads them back", func() {
		note := strings.Repeat("thursday ", 1000)

		data, err := encode("2", persistence.Document{"note": note})
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(data, zstdMagic)).To(BeTrue())
		Expect(len(data)).To(BeNumerically("<", len(note)))

		doc, err := decode(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc["note"]).To(Equal(note))
		Expect(doc.ID()).To(Equal("2"))
	})

	It("rejects a corrupt compressed document", func() {
		_, err := decode(append(append([]byte{}, zstdMagic...), 0x00, 0x01))
		Expect(err).To(MatchError(ContainSubstring("decompress")))
	})
})
