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

package memory

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

var _ = Describe("Transaction Support", func() {
	var (
		store *InMemoryStore
		ctx   context.Context
	)

	BeforeEach(func() {
		store = NewInMemoryStore()
		ctx = context.Background()
		Expect(store.CreateCollection(ctx, "nodes", nil)).To(Succeed())
	})

	Context("when beginning a transaction", func() {
		It("should reject a nil context", func() {
			//nolint:staticcheck // testing nil context behavior
			tx, err := store.BeginTx(nil)
			Expect(err).To(MatchError(ContainSubstring("context cannot be nil")))
			Expect(tx).To(BeNil())
		})

		It("should not support nesting", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			_, err = tx.BeginTx(ctx)
			Expect(err).To(MatchError(persistence.ErrNestedTx))
		})
	})

	Context("isolation", func() {
		It("should hide writes from the store until commit and show them to the tx", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())

			_, err = tx.Insert(ctx, "nodes", persistence.Document{"id": "n1", "v": 1})
			Expect(err).ToNot(HaveOccurred())

			_, err = store.Get(ctx, "nodes", "n1")
			Expect(err).To(MatchError(persistence.ErrNotFound))

			doc, err := tx.Get(ctx, "nodes", "n1")
			Expect(err).ToNot(HaveOccurred())
			Expect(doc["v"]).To(Equal(1))

			found, err := tx.Find(ctx, "nodes", *persistence.NewQuery())
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(HaveLen(1))

			Expect(tx.Commit()).To(Succeed())

			doc, err = store.Get(ctx, "nodes", "n1")
			Expect(err).ToNot(HaveOccurred())
			Expect(doc["v"]).To(Equal(1))
		})

		It("should hide deletes until commit", func() {
			_, err := store.Insert(ctx, "nodes", persistence.Document{"id": "n1"})
			Expect(err).ToNot(HaveOccurred())

			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Delete(ctx, "nodes", "n1")).To(Succeed())

			_, err = tx.Get(ctx, "nodes", "n1")
			Expect(err).To(MatchError(persistence.ErrNotFound))
			_, err = store.Get(ctx, "nodes", "n1")
			Expect(err).ToNot(HaveOccurred())

			Expect(tx.Commit()).To(Succeed())
			_, err = store.Get(ctx, "nodes", "n1")
			Expect(err).To(MatchError(persistence.ErrNotFound))
		})

		It("should treat insert after delete in the same tx as a replace", func() {
			_, err := store.Insert(ctx, "nodes", persistence.Document{"id": "n1", "v": "old"})
			Expect(err).ToNot(HaveOccurred())

			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Delete(ctx, "nodes", "n1")).To(Succeed())
			_, err = tx.Insert(ctx, "nodes", persistence.Document{"id": "n1", "v": "new"})
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Commit()).To(Succeed())

			doc, err := store.Get(ctx, "nodes", "n1")
			Expect(err).ToNot(HaveOccurred())
			Expect(doc["v"]).To(Equal("new"))
		})

		It("should apply nothing when a buffered insert collides at commit", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			_, err = tx.Insert(ctx, "nodes", persistence.Document{"id": "a"})
			Expect(err).ToNot(HaveOccurred())
			_, err = tx.Insert(ctx, "nodes", persistence.Document{"id": "b"})
			Expect(err).ToNot(HaveOccurred())

			_, err = store.Insert(ctx, "nodes", persistence.Document{"id": "b"})
			Expect(err).ToNot(HaveOccurred())

			Expect(tx.Commit()).To(MatchError(persistence.ErrConflict))
			_, err = store.Get(ctx, "nodes", "a")
			Expect(err).To(MatchError(persistence.ErrNotFound))
		})
	})

	Context("completion", func() {
		It("should discard changes on rollback", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			_, err = tx.Insert(ctx, "nodes", persistence.Document{"id": "n1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Rollback()).To(Succeed())

			_, err = store.Get(ctx, "nodes", "n1")
			Expect(err).To(MatchError(persistence.ErrNotFound))
			_, err = tx.Get(ctx, "nodes", "n1")
			Expect(err).To(MatchError(persistence.ErrTxClosed))
		})

		It("should make repeated commit and rollback idempotent", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Commit()).To(Succeed())
			Expect(tx.Commit()).To(Succeed())
			Expect(tx.Rollback()).To(HaveOccurred())

			tx, err = store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Rollback()).To(Succeed())
			Expect(tx.Rollback()).To(Succeed())
			Expect(tx.Commit()).To(MatchError(ContainSubstring("rolled back")))
		})
	})
})
