package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultTaskLimit 任务列表未指定 limit 时的上限
const DefaultTaskLimit = 100

// Descriptor 经过校验的查询描述
type Descriptor struct {
	Collection     Collection
	Filter         Filter // nil 匹配全部
	Sort           []SortKey
	Projection     *Projection
	Skip           int
	Limit          int // 0 表示不限制
	IsCountRequest bool

	// Invalid 为 true 时调用方必须拒绝整个请求，不执行任何查询
	Invalid bool
	Err     error
}

// Parse 解析 where / sort / select / skip / limit / count 查询参数，不产生副作用
func Parse(c Collection, params url.Values) Descriptor {
	d := Descriptor{Collection: c}

	if raw, ok := param(params, "where"); ok {
		f, err := parseWhere(c, raw)
		if err != nil {
			return invalid(d, "where", err)
		}
		d.Filter = f
	}

	if raw, ok := param(params, "sort"); ok {
		keys, err := parseSort(c, raw)
		if err != nil {
			return invalid(d, "sort", err)
		}
		d.Sort = keys
	}

	if raw, ok := param(params, "select"); ok {
		p, err := parseSelect(c, raw)
		if err != nil {
			return invalid(d, "select", err)
		}
		d.Projection = p
	}

	if n, ok := parseLeadingInt(params.Get("skip")); ok && n > 0 {
		d.Skip = n
	}

	limit, ok := parseLeadingInt(params.Get("limit"))
	switch {
	case ok && limit >= 0:
		d.Limit = limit
	case c == Tasks:
		d.Limit = DefaultTaskLimit
	}

	if count, err := strconv.ParseBool(params.Get("count")); err == nil {
		d.IsCountRequest = count
	}

	return d
}

func param(params url.Values, key string) (string, bool) {
	if _, ok := params[key]; !ok {
		return "", false
	}
	return params.Get(key), true
}

func invalid(d Descriptor, key string, err error) Descriptor {
	d.Invalid = true
	d.Err = fmt.Errorf("invalid %s: %w", key, err)
	return d
}

// parseLeadingInt 解析开头的整数部分，"25abc" 得到 25，"abc" 视为未指定
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
