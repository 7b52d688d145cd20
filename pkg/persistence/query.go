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

package persistence

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const (
	// DefaultMaxFindLimit caps Find results when a query sets no limit.
	DefaultMaxFindLimit = 1000
)

// Operator is a filter comparison.
type Operator string

const (
	Eq  Operator = "$eq"
	Ne  Operator = "$ne"
	Gt  Operator = "$gt"
	Gte Operator = "$gte"
	Lt  Operator = "$lt"
	Lte Operator = "$lte"
	In  Operator = "$in"  // value is a slice
	Nin Operator = "$nin" // value is a slice
)

type FilterCondition struct {
	Field string
	Op    Operator
	Value interface{}
}

type SortOrder int

const (
	Asc  SortOrder = 1
	Desc SortOrder = -1
)

type SortField struct {
	Field string
	Order SortOrder
}

// Query selects documents of one collection. Filters are ANDed.
type Query struct {
	Filters      []FilterCondition
	SortBy       []SortField
	LimitCount   int
	SkipCount    int
	MaxFindLimit int
}

func NewQuery() *Query {
	return &Query{}
}

func (q *Query) Filter(field string, op Operator, value interface{}) *Query {
	q.Filters = append(q.Filters, FilterCondition{Field: field, Op: op, Value: value})

	return q
}

func (q *Query) Sort(field string, order SortOrder) *Query {
	q.SortBy = append(q.SortBy, SortField{Field: field, Order: order})

	return q
}

// Limit caps the result size. Zero means no explicit limit.
func (q *Query) Limit(count int) *Query {
	q.LimitCount = max(count, 0)

	return q
}

func (q *Query) Skip(count int) *Query {
	q.SkipCount = max(count, 0)

	return q
}

// WithMaxFindLimit overrides DefaultMaxFindLimit for this query.
func (q *Query) WithMaxFindLimit(limit int) *Query {
	q.MaxFindLimit = max(limit, 0)

	return q
}

// Matches reports whether doc satisfies every filter.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		if !matchCondition(doc[f.Field], f) {
			return false
		}
	}

	return true
}

// Apply returns the docs matching the query in sort order, paginated. The input slice is not modified.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}

	if len(q.SortBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.SortBy {
				c := compare(out[i][s.Field], out[j][s.Field])
				if c == 0 {
					continue
				}

				if s.Order == Desc {
					return c > 0
				}

				return c < 0
			}

			return false
		})
	}

	if q.SkipCount >= len(out) {
		return []Document{}
	}

	out = out[q.SkipCount:]

	limit := q.LimitCount
	maxLimit := q.MaxFindLimit
	if maxLimit == 0 {
		maxLimit = DefaultMaxFindLimit
	}

	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}

	if len(out) > limit {
		out = out[:limit]
	}

	return out
}

func matchCondition(actual interface{}, f FilterCondition) bool {
	switch f.Op {
	case Eq:
		return compare(actual, f.Value) == 0
	case Ne:
		return compare(actual, f.Value) != 0
	case Gt:
		return actual != nil && compare(actual, f.Value) > 0
	case Gte:
		return actual != nil && compare(actual, f.Value) >= 0
	case Lt:
		return actual != nil && compare(actual, f.Value) < 0
	case Lte:
		return actual != nil && compare(actual, f.Value) <= 0
	case In:
		return inSlice(actual, f.Value)
	case Nin:
		return !inSlice(actual, f.Value)
	default:
		return false
	}
}

func inSlice(actual interface{}, values interface{}) bool {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}

	for i := range rv.Len() {
		if compare(actual, rv.Index(i).Interface()) == 0 {
			return true
		}
	}

	return false
}

// compare orders nil first, then numbers, then strings, then anything else by its
// printed form. Numbers compare by value regardless of their Go type, so an int
// field read back from JSON as float64 still matches.
func compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)

	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case aNum:
		return -1
	case bNum:
		return 1
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)

	switch {
	case aStr && bStr:
		return strings.Compare(as, bs)
	case aStr:
		return -1
	case bStr:
		return 1
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
