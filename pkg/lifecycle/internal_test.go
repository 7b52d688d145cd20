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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("handler table", func() {
	It("defines every cell", func() {
		table := buildHandlers()

		for _, s := range States() {
			for _, op := range Operations() {
				Expect(table[s][op]).NotTo(BeNil(), "%s/%s", s, op)
			}
		}
	})
})

var _ = Describe("pass", func() {
	var a, b, c *Node

	BeforeEach(func() {
		a = NewNode("n", "a", nil)
		b = NewNode("n", "b", nil)
		c = NewNode("n", "c", nil)
	})

	It("yields pushed nodes in order and never the root", func() {
		p := newPass(OpPersist, a)
		p.push(b, a, c)

		Expect(p.next()).To(BeIdenticalTo(b))
		Expect(p.next()).To(BeIdenticalTo(c))
		Expect(p.next()).To(BeNil())
		Expect(p.cascadeHits).To(Equal(2))
	})

	It("skips nodes pushed twice", func() {
		p := newPass(OpRemove, a)
		p.push(b, b)
		Expect(p.next()).To(BeIdenticalTo(b))

		p.push(b, c)
		Expect(p.next()).To(BeIdenticalTo(c))
		Expect(p.next()).To(BeNil())
	})

	It("goes depth first", func() {
		d := NewNode("n", "d", nil)

		p := newPass(OpPersist, a)
		p.push(b, c)
		Expect(p.next()).To(BeIdenticalTo(b))

		p.push(d)
		Expect(p.next()).To(BeIdenticalTo(d))
		Expect(p.next()).To(BeIdenticalTo(c))
	})

	It("rewires relations of merged copies", func() {
		a.Relate("b", b, CascadeMerge)
		a.Relate("c", c)
		copyA := NewNode("n", "a", nil)
		copyB := NewNode("n", "b", nil)

		p := newPass(OpMerge, a)
		p.recordMerge(a, copyA)
		p.recordMerge(b, copyB)
		p.rewire()

		Expect(copyA.Related("b")).To(BeIdenticalTo(copyB))
		Expect(copyA.Related("c")).To(BeIdenticalTo(c))
		Expect(a.Related("b")).To(BeIdenticalTo(b))
	})

	It("rewires a node merged into itself", func() {
		a.Relate("b", b, CascadeMerge)
		copyB := NewNode("n", "b", nil)

		p := newPass(OpMerge, a)
		p.recordMerge(a, a)
		p.recordMerge(b, copyB)
		p.rewire()

		Expect(a.Related("b")).To(BeIdenticalTo(copyB))
	})

	It("visits an identity once across node instances", func() {
		other := NewNode("n", "b", nil)

		p := newPass(OpPersist, a)
		p.push(b, other, c)

		Expect(p.next()).To(BeIdenticalTo(b))
		Expect(p.next()).To(BeIdenticalTo(c))
		Expect(p.next()).To(BeNil())
	})

	It("tells nodes without an ID apart", func() {
		x := NewNode("n", "", nil)
		y := NewNode("n", "", nil)

		p := newPass(OpPersist, a)
		p.push(x, y)

		Expect(p.next()).To(BeIdenticalTo(x))
		Expect(p.next()).To(BeIdenticalTo(y))
		Expect(p.next()).To(BeNil())
	})

	It("keeps the root visited after it gets an ID", func() {
		root := NewNode("n", "", nil)

		p := newPass(OpPersist, root)
		root.ID = "assigned"
		p.push(root, b)

		Expect(p.next()).To(BeIdenticalTo(b))
		Expect(p.next()).To(BeNil())
	})
})

var _ = Describe("PolicyResolver", func() {
	It("follows matching and all-cascading relations in declaration order", func() {
		root := NewNode("n", "root", nil)
		all := NewNode("n", "all", nil)
		refresh := NewNode("n", "refresh", nil)
		none := NewNode("n", "none", nil)

		root.Relate("all", all, CascadeAll)
		root.Relate("refresh", refresh, CascadeRefresh, CascadePersist)
		root.Relate("none", none, CascadeNone)
		root.Relate("dangling", nil, CascadeAll)

		Expect(PolicyResolver{}.Resolve(root, OpRefresh)).To(Equal([]*Node{all, refresh}))
		Expect(PolicyResolver{}.Resolve(root, OpRemove)).To(Equal([]*Node{all}))
		Expect(PolicyResolver{}.Resolve(root, OpFlush)).To(BeEmpty())
	})
})

var _ = Describe("names", func() {
	It("round-trips states, operations and lock modes", func() {
		for _, s := range States() {
			parsed, err := ParseState(s.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(s))
		}

		for _, op := range Operations() {
			parsed, err := ParseOperation(op.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(op))
		}

		mode, err := ParseLockMode("pessimistic_write")
		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(LockPessimisticWrite))

		_, err = ParseOperation("explode")
		Expect(err).To(HaveOccurred())
	})

	It("defaults to extended mode", func() {
		mode, err := ParseMode("")
		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(ModeExtended))
	})
})

var _ = Describe("fingerprint", func() {
	It("ignores map ordering and detects changes", func() {
		first, err := fingerprint(Fields{"a": 1, "b": "x"})
		Expect(err).NotTo(HaveOccurred())
		second, _ := fingerprint(Fields{"b": "x", "a": 1})
		changed, _ := fingerprint(Fields{"a": 2, "b": "x"})

		Expect(first).To(Equal(second))
		Expect(changed).NotTo(Equal(first))
	})
})
