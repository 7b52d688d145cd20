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

package storeclient_test

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence/sqlite"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/storeclient"
)

var part = lifecycle.Identity{Collection: "parts", ID: "p1"}

var _ = Describe("DocumentClient", func() {
	var (
		ctx       context.Context
		store     *memory.InMemoryStore
		locks     *storeclient.LockTable
		newClient func(owner string) *storeclient.DocumentClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewInMemoryStore()
		locks = storeclient.NewLockTable(time.Minute, time.Minute)
		newClient = func(owner string) *storeclient.DocumentClient {
			return storeclient.New(store,
				storeclient.WithOwner(owner),
				storeclient.WithLockTable(locks),
				storeclient.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()),
			)
		}
	})

	Describe("reads and writes", func() {
		It("inserts, updates and versions documents", func() {
			client := newClient("a")
			Expect(client.Owner()).To(Equal("a"))

			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "bolt"})).To(Succeed())
			doc, err := store.Get(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(HaveKeyWithValue(constants.VersionField, int64(1)))

			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "nut"})).To(Succeed())
			doc, _ = store.Get(ctx, "parts", "p1")
			Expect(doc).To(HaveKeyWithValue(constants.VersionField, int64(2)))
			Expect(doc).To(HaveKeyWithValue("name", "nut"))

			fields, err := client.Read(ctx, part)
			Expect(err).NotTo(HaveOccurred())
			Expect(fields).To(Equal(lifecycle.Fields{"name": "nut"}))
		})

		It("maps missing records to lifecycle.ErrNotFound", func() {
			client := newClient("a")

			_, err := client.Read(ctx, part)
			Expect(err).To(MatchError(lifecycle.ErrNotFound))
			Expect(lifecycle.IsNotFound(err)).To(BeTrue())

			Expect(client.Delete(ctx, part)).To(MatchError(lifecycle.ErrNotFound))
			Expect(client.Lock(ctx, part, lifecycle.LockOptimistic)).To(MatchError(lifecycle.ErrNotFound))
		})

		It("deletes records", func() {
			client := newClient("a")
			Expect(client.Write(ctx, part, lifecycle.Fields{})).To(Succeed())
			Expect(client.Delete(ctx, part)).To(Succeed())

			_, err := store.Get(ctx, "parts", "p1")
			Expect(err).To(MatchError(persistence.ErrNotFound))
		})

		It("refuses to overwrite a record another client changed", func() {
			a := newClient("a")
			b := newClient("b")

			Expect(a.Write(ctx, part, lifecycle.Fields{"qty": 1})).To(Succeed())
			_, err := b.Read(ctx, part)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Write(ctx, part, lifecycle.Fields{"qty": 2})).To(Succeed())

			Expect(b.Write(ctx, part, lifecycle.Fields{"qty": 3})).To(MatchError(storeclient.ErrVersionConflict))

			_, err = b.Read(ctx, part)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Write(ctx, part, lifecycle.Fields{"qty": 3})).To(Succeed())
		})

		It("gives up waiting when the context is done", func() {
			client := newClient("a")
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			Expect(client.Write(cancelled, part, lifecycle.Fields{})).To(MatchError(context.Canceled))
		})
	})

	Describe("optimistic locks", func() {
		It("detects a concurrent change", func() {
			a := newClient("a")
			b := newClient("b")
			Expect(a.Write(ctx, part, lifecycle.Fields{})).To(Succeed())
			_, _ = b.Read(ctx, part)

			Expect(b.Lock(ctx, part, lifecycle.LockOptimistic)).To(Succeed())
			Expect(a.Write(ctx, part, lifecycle.Fields{"changed": true})).To(Succeed())
			Expect(b.Lock(ctx, part, lifecycle.LockOptimistic)).To(MatchError(storeclient.ErrVersionConflict))
		})

		It("bumps the version on force increment", func() {
			a := newClient("a")
			b := newClient("b")
			Expect(a.Write(ctx, part, lifecycle.Fields{})).To(Succeed())
			_, _ = b.Read(ctx, part)

			Expect(a.Lock(ctx, part, lifecycle.LockOptimisticForceIncrement)).To(Succeed())

			doc, _ := store.Get(ctx, "parts", "p1")
			Expect(doc).To(HaveKeyWithValue(constants.VersionField, int64(2)))
			Expect(b.Write(ctx, part, lifecycle.Fields{})).To(MatchError(storeclient.ErrVersionConflict))
			Expect(a.Write(ctx, part, lifecycle.Fields{})).To(Succeed())
		})
	})

	Describe("pessimistic locks", func() {
		It("shares read locks and excludes writers", func() {
			a := newClient("a")
			b := newClient("b")
			c := newClient("c")

			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticRead)).To(Succeed())
			Expect(b.Lock(ctx, part, lifecycle.LockPessimisticRead)).To(Succeed())

			err := c.Lock(ctx, part, lifecycle.LockPessimisticWrite)
			Expect(err).To(MatchError(storeclient.ErrLockConflict))
			var lockErr *storeclient.LockError
			Expect(errors.As(err, &lockErr)).To(BeTrue())
			Expect(lockErr.Holder).To(Equal("a"))
			Expect(lockErr.Mode).To(Equal(lifecycle.LockPessimisticWrite))

			writer, readers := locks.Holders(part)
			Expect(writer).To(BeEmpty())
			Expect(readers).To(Equal([]string{"a", "b"}))

			Expect(a.ReleaseLocks(ctx)).To(Succeed())
			Expect(b.ReleaseLocks(ctx)).To(Succeed())
			Expect(c.Lock(ctx, part, lifecycle.LockPessimisticWrite)).To(Succeed())

			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticRead)).To(MatchError(storeclient.ErrLockConflict))
		})

		It("upgrades a sole reader to writer", func() {
			a := newClient("a")

			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticRead)).To(Succeed())
			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticWrite)).To(Succeed())

			writer, _ := locks.Holders(part)
			Expect(writer).To(Equal("a"))
		})

		It("refuses writes and deletes under another owner's lease", func() {
			a := newClient("a")
			b := newClient("b")
			Expect(a.Write(ctx, part, lifecycle.Fields{"name": "bolt"})).To(Succeed())
			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticWrite)).To(Succeed())

			err := b.Write(ctx, part, lifecycle.Fields{"name": "nut"})
			Expect(err).To(MatchError(storeclient.ErrLockConflict))
			var lockErr *storeclient.LockError
			Expect(errors.As(err, &lockErr)).To(BeTrue())
			Expect(lockErr.Holder).To(Equal("a"))
			Expect(b.Delete(ctx, part)).To(MatchError(storeclient.ErrLockConflict))

			Expect(a.Write(ctx, part, lifecycle.Fields{"name": "washer"})).To(Succeed())
			Expect(a.ReleaseLocks(ctx)).To(Succeed())

			Expect(a.Lock(ctx, part, lifecycle.LockPessimisticRead)).To(Succeed())
			Expect(b.Delete(ctx, part)).To(MatchError(storeclient.ErrLockConflict))
			doc, err := store.Get(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(HaveKeyWithValue("name", "washer"))

			Expect(a.ReleaseLocks(ctx)).To(Succeed())
			_, _ = b.Read(ctx, part)
			Expect(b.Delete(ctx, part)).To(Succeed())
		})

		It("treats no lock as a no-op", func() {
			Expect(newClient("a").Lock(ctx, part, lifecycle.LockNone)).To(Succeed())
		})
	})

	Describe("transactions", func() {
		It("makes writes visible on commit", func() {
			client := newClient("a")
			Expect(client.Begin(ctx)).To(Succeed())
			Expect(client.InTransaction()).To(BeTrue())
			Expect(client.Begin(ctx)).To(MatchError(persistence.ErrNestedTx))

			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "bolt"})).To(Succeed())
			_, err := store.Get(ctx, "parts", "p1")
			Expect(err).To(MatchError(persistence.ErrNotFound))

			fields, err := client.Read(ctx, part)
			Expect(err).NotTo(HaveOccurred())
			Expect(fields).To(HaveKeyWithValue("name", "bolt"))

			Expect(client.Commit(ctx)).To(Succeed())
			Expect(client.InTransaction()).To(BeFalse())
			_, err = store.Get(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("discards writes and seen versions on rollback", func() {
			client := newClient("a")
			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "bolt"})).To(Succeed())

			Expect(client.Begin(ctx)).To(Succeed())
			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "nut"})).To(Succeed())
			Expect(client.Rollback(ctx)).To(Succeed())

			doc, _ := store.Get(ctx, "parts", "p1")
			Expect(doc).To(HaveKeyWithValue("name", "bolt"))
			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "washer"})).To(Succeed())
		})

		It("ends the transaction when the commit fails", func() {
			client := newClient("a")
			Expect(client.Begin(ctx)).To(Succeed())
			Expect(client.Write(ctx, part, lifecycle.Fields{"name": "bolt"})).To(Succeed())

			_, err := store.Insert(ctx, "parts", persistence.Document{constants.IDField: "p1", "name": "rival"})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Commit(ctx)).To(MatchError(persistence.ErrConflict))
			Expect(client.InTransaction()).To(BeFalse())
			Expect(client.Begin(ctx)).To(Succeed())
		})

		It("requires an open transaction to commit", func() {
			client := newClient("a")
			Expect(client.Commit(ctx)).To(MatchError(storeclient.ErrNoTransaction))
			Expect(client.Rollback(ctx)).To(Succeed())
		})
	})

	Describe("behind a persistence context", func() {
		var (
			client *storeclient.DocumentClient
			pc     *lifecycle.PersistenceContext
		)

		BeforeEach(func() {
			client = newClient("a")
			pc = lifecycle.NewPersistenceContext(client,
				lifecycle.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()),
			)
		})

		It("persists, finds and removes through the store", func() {
			Expect(pc.Begin(ctx)).To(Succeed())
			n := lifecycle.NewNode("parts", "p1", lifecycle.Fields{"name": "bolt"})
			Expect(pc.Persist(ctx, n)).To(Succeed())
			Expect(pc.Commit(ctx)).To(Succeed())

			other := lifecycle.NewPersistenceContext(newClient("b"))
			found, err := other.Find(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Fields).To(HaveKeyWithValue("name", "bolt"))

			Expect(other.Remove(ctx, found)).To(Succeed())
			Expect(other.Commit(ctx)).To(Succeed())

			_, err = store.Get(ctx, "parts", "p1")
			Expect(err).To(MatchError(persistence.ErrNotFound))
		})

		It("undoes a removal through the storage transaction", func() {
			n := lifecycle.NewNode("parts", "p1", lifecycle.Fields{"name": "bolt"})
			Expect(pc.Persist(ctx, n)).To(Succeed())
			Expect(pc.Commit(ctx)).To(Succeed())

			Expect(pc.Begin(ctx)).To(Succeed())
			Expect(pc.Remove(ctx, n)).To(Succeed())
			Expect(pc.Rollback(ctx)).To(Succeed())

			Expect(pc.StateOf(n)).To(Equal(lifecycle.StateManaged))
			_, err := store.Get(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("retries a commit the store refused", func() {
			n := lifecycle.NewNode("parts", "p1", lifecycle.Fields{"name": "bolt"})
			Expect(pc.Begin(ctx)).To(Succeed())
			Expect(pc.Persist(ctx, n)).To(Succeed())

			_, err := store.Insert(ctx, "parts", persistence.Document{constants.IDField: "p1", "name": "rival"})
			Expect(err).NotTo(HaveOccurred())

			Expect(pc.Commit(ctx)).To(MatchError(persistence.ErrConflict))
			Expect(client.InTransaction()).To(BeFalse())

			Expect(pc.Begin(ctx)).To(Succeed())
			Expect(pc.Commit(ctx)).To(Succeed())

			doc, err := store.Get(ctx, "parts", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(HaveKeyWithValue("name", "bolt"))
			Expect(pc.StateOf(n)).To(Equal(lifecycle.StateManaged))
		})

		It("releases pessimistic locks on commit", func() {
			n := lifecycle.NewNode("parts", "p1", nil)
			Expect(pc.Persist(ctx, n)).To(Succeed())
			Expect(pc.Lock(ctx, n, lifecycle.LockPessimisticWrite)).To(Succeed())

			rival := newClient("b")
			Expect(rival.Lock(ctx, part, lifecycle.LockPessimisticWrite)).To(MatchError(storeclient.ErrLockConflict))

			Expect(pc.Commit(ctx)).To(Succeed())
			Expect(rival.Lock(ctx, part, lifecycle.LockPessimisticWrite)).To(Succeed())
		})

		It("reports a lost update on flush", func() {
			n := lifecycle.NewNode("parts", "p1", lifecycle.Fields{"qty": 1})
			Expect(pc.Persist(ctx, n)).To(Succeed())

			rival := newClient("b")
			_, _ = rival.Read(ctx, part)
			Expect(rival.Write(ctx, part, lifecycle.Fields{"qty": 5})).To(Succeed())

			n.Fields["qty"] = 2
			err := pc.Flush(ctx)
			Expect(err).To(MatchError(storeclient.ErrVersionConflict))

			Expect(pc.Refresh(ctx, n)).To(Succeed())
			Expect(n.Fields).To(HaveKeyWithValue("qty", 5))
		})
	})
})

var _ = Describe("DocumentClient on SQLite", func() {
	var (
		ctx   context.Context
		store *sqlite.Store
		pc    *lifecycle.PersistenceContext
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		store, err = sqlite.NewStore(filepath.Join(GinkgoT().TempDir(), "lifecycle.db"))
		Expect(err).NotTo(HaveOccurred())

		pc = lifecycle.NewPersistenceContext(storeclient.New(store),
			lifecycle.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()),
		)
	})

	AfterEach(func() {
		Expect(pc.Close(ctx)).To(Succeed())
		Expect(store.Close(ctx)).To(Succeed())
	})

	It("round-trips nodes", func() {
		Expect(pc.Begin(ctx)).To(Succeed())
		n := lifecycle.NewNode("parts", "p1", lifecycle.Fields{"name": "bolt", "qty": 3})
		Expect(pc.Persist(ctx, n)).To(Succeed())
		Expect(pc.Commit(ctx)).To(Succeed())

		Expect(pc.Clear(ctx)).To(Succeed())
		found, err := pc.Find(ctx, "parts", "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.Fields).To(HaveKeyWithValue("name", "bolt"))
		Expect(found.Fields).To(HaveKeyWithValue("qty", float64(3)))

		found.Fields["qty"] = float64(4)
		Expect(pc.Commit(ctx)).To(Succeed())

		doc, err := store.Get(ctx, "parts", "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(HaveKeyWithValue("qty", float64(4)))
		Expect(doc).To(HaveKeyWithValue(constants.VersionField, float64(2)))
	})

	It("drops uncommitted inserts on rollback", func() {
		Expect(pc.Begin(ctx)).To(Succeed())
		Expect(pc.Persist(ctx, lifecycle.NewNode("parts", "p1", nil))).To(Succeed())
		Expect(pc.Rollback(ctx)).To(Succeed())

		_, err := store.Get(ctx, "parts", "p1")
		Expect(err).To(MatchError(persistence.ErrNotFound))
	})
})
