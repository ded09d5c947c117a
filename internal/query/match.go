package query

import (
	"sort"

	"taskhub/internal/model"
)

// Match 在内存中判断文档是否满足过滤条件
func Match(f Filter, doc model.Document) bool {
	switch v := f.(type) {
	case nil:
		return true
	case And:
		for _, sub := range v.Filters {
			if !Match(sub, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range v.Filters {
			if Match(sub, doc) {
				return true
			}
		}
		return false
	case Compare:
		return matchCompare(v, doc[v.Field.Name])
	}
	return false
}

func matchCompare(c Compare, actual any) bool {
	if c.Field.Kind == KindStringArray {
		return matchArray(c, asStrings(actual))
	}

	switch c.Op {
	case OpEq:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp == 0
	case OpNe:
		cmp, ok := compareValues(actual, c.Value)
		return !ok || cmp != 0
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		}
		return cmp <= 0
	case OpIn:
		return inList(actual, c.Value)
	case OpNin:
		return !inList(actual, c.Value)
	case OpRegex:
		s, ok := actual.(string)
		re, _ := c.Value.(*Regex)
		return ok && re != nil && re.MatchString(s)
	}
	return false
}

// matchArray 数组字段：标量相等为包含，$in 为有交集，数组相等为逐元素相等
func matchArray(c Compare, actual []string) bool {
	switch c.Op {
	case OpEq, OpNe:
		var eq bool
		switch want := c.Value.(type) {
		case []string:
			eq = equalStrings(actual, want)
		case string:
			eq = containsString(actual, want)
		}
		if c.Op == OpNe {
			return !eq
		}
		return eq
	case OpIn, OpNin:
		values, _ := c.Value.([]any)
		overlap := false
		for _, v := range values {
			if s, ok := v.(string); ok && containsString(actual, s) {
				overlap = true
				break
			}
		}
		if c.Op == OpNin {
			return !overlap
		}
		return overlap
	}
	return false
}

func inList(actual any, list any) bool {
	values, _ := list.([]any)
	for _, v := range values {
		if cmp, ok := compareValues(actual, v); ok && cmp == 0 {
			return true
		}
	}
	return false
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortDocuments 稳定排序，相同时按创建时间再按 _id
func SortDocuments(docs []model.Document, keys []SortKey) {
	all := append(append([]SortKey{}, keys...), SortKey{Field: dateCreatedField}, SortKey{Field: idField})
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range all {
			cmp := compareForSort(docs[i][k.Field.Name], docs[j][k.Field.Name])
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareForSort(a, b any) int {
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	// 数组字段逐元素比较，前缀相同时短的在前
	as, bs := asStrings(a), asStrings(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// Apply 依次执行过滤、排序、skip、limit、投影
func Apply(docs []model.Document, d Descriptor) []model.Document {
	matched := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		if Match(d.Filter, doc) {
			matched = append(matched, doc)
		}
	}

	SortDocuments(matched, d.Sort)

	if d.Skip > 0 {
		if d.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[d.Skip:]
		}
	}
	if d.Limit > 0 && d.Limit < len(matched) {
		matched = matched[:d.Limit]
	}

	out := make([]model.Document, len(matched))
	for i, doc := range matched {
		out[i] = d.Projection.Apply(doc)
	}
	return out
}

// Count 统计满足过滤条件的文档数
func Count(docs []model.Document, f Filter) int64 {
	var n int64
	for _, doc := range docs {
		if Match(f, doc) {
			n++
		}
	}
	return n
}
