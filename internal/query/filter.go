package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"taskhub/internal/model"
)

// Op 比较操作符
type Op string

const (
	OpEq    Op = "$eq"
	OpNe    Op = "$ne"
	OpGt    Op = "$gt"
	OpGte   Op = "$gte"
	OpLt    Op = "$lt"
	OpLte   Op = "$lte"
	OpIn    Op = "$in"
	OpNin   Op = "$nin"
	OpRegex Op = "$regex"
)

// Filter 过滤条件：And / Or / Compare 三种之一，nil 表示匹配全部
type Filter interface {
	isFilter()
}

type And struct {
	Filters []Filter
}

type Or struct {
	Filters []Filter
}

// Compare 单字段比较
// Value 的类型由字段决定：string / bool / time.Time；
// $in/$nin 为 []any；数组字段的整体相等为 []string；$regex 为 *Regex
type Compare struct {
	Field Field
	Op    Op
	Value any
}

func (And) isFilter()     {}
func (Or) isFilter()      {}
func (Compare) isFilter() {}

// parseWhere 解析 where 参数，JSON 顶层必须是对象（或 null）
func parseWhere(c Collection, raw string) (Filter, error) {
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("where must be a JSON object")
	}
	return parseFilterObject(c, obj)
}

func decodeJSON(raw string, out any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func parseFilterObject(c Collection, obj map[string]any) (Filter, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Filter
	for _, key := range keys {
		val := obj[key]
		switch {
		case key == "$and" || key == "$or":
			f, err := parseLogical(c, key, val)
			if err != nil {
				return nil, err
			}
			parts = append(parts, f)
		case strings.HasPrefix(key, "$"):
			return nil, fmt.Errorf("unsupported top-level operator %s", key)
		default:
			field, ok := LookupField(c, key)
			if !ok {
				return nil, fmt.Errorf("unknown field %q", key)
			}
			fs, err := parseFieldCondition(field, val)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fs...)
		}
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return And{Filters: parts}, nil
}

func parseLogical(c Collection, op string, val any) (Filter, error) {
	list, ok := val.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty array", op)
	}

	subs := make([]Filter, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s entries must be objects", op)
		}
		f, err := parseFilterObject(c, obj)
		if err != nil {
			return nil, err
		}
		if f == nil {
			// 空对象匹配全部
			f = And{}
		}
		subs = append(subs, f)
	}

	if op == "$and" {
		return And{Filters: subs}, nil
	}
	return Or{Filters: subs}, nil
}

// parseFieldCondition 解析 {"field": value} 或 {"field": {"$op": value, ...}}
func parseFieldCondition(field Field, val any) ([]Filter, error) {
	obj, isObj := val.(map[string]any)
	if !isObj || isDateLiteral(obj) {
		v, err := coerceEq(field, val)
		if err != nil {
			return nil, err
		}
		return []Filter{Compare{Field: field, Op: OpEq, Value: v}}, nil
	}

	if len(obj) == 0 {
		return nil, fmt.Errorf("empty condition for %s", field.Name)
	}

	ops := make([]string, 0, len(obj))
	for k := range obj {
		if !strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("nested documents are not supported for %s", field.Name)
		}
		ops = append(ops, k)
	}
	sort.Strings(ops)

	options, hasOptions := obj["$options"]
	if hasOptions {
		if _, ok := obj["$regex"]; !ok {
			return nil, fmt.Errorf("$options requires $regex")
		}
	}

	var out []Filter
	for _, op := range ops {
		val := obj[op]
		switch Op(op) {
		case OpEq, OpNe:
			v, err := coerceEq(field, val)
			if err != nil {
				return nil, err
			}
			out = append(out, Compare{Field: field, Op: Op(op), Value: v})
		case OpGt, OpGte, OpLt, OpLte:
			if field.Kind == KindStringArray {
				return nil, fmt.Errorf("%s is not supported on array field %s", op, field.Name)
			}
			v, err := coerceScalar(field, val)
			if err != nil {
				return nil, err
			}
			out = append(out, Compare{Field: field, Op: Op(op), Value: v})
		case OpIn, OpNin:
			list, ok := val.([]any)
			if !ok {
				return nil, fmt.Errorf("%s requires an array", op)
			}
			values := make([]any, 0, len(list))
			for _, item := range list {
				v, err := coerceScalar(field, item)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			out = append(out, Compare{Field: field, Op: Op(op), Value: values})
		case OpRegex:
			re, err := compileRegex(field, val, options)
			if err != nil {
				return nil, err
			}
			out = append(out, Compare{Field: field, Op: OpRegex, Value: re})
		case "$options":
			// 随 $regex 处理
		default:
			return nil, fmt.Errorf("unsupported operator %s", op)
		}
	}
	return out, nil
}

// Regex 保存原始表达式，便于生成 SQL
type Regex struct {
	Pattern         string
	CaseInsensitive bool
	re              *regexp.Regexp
}

// MatchString 在内存中匹配
func (r *Regex) MatchString(s string) bool {
	return r.re.MatchString(s)
}

func compileRegex(field Field, val, options any) (*Regex, error) {
	if field.Kind != KindString {
		return nil, fmt.Errorf("$regex is only supported on string fields")
	}
	pattern, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("$regex requires a string")
	}

	insensitive := false
	if options != nil {
		opt, ok := options.(string)
		if !ok || (opt != "" && opt != "i") {
			return nil, fmt.Errorf("unsupported $options %v", options)
		}
		insensitive = opt == "i"
	}

	if err := checkPortable(pattern); err != nil {
		return nil, err
	}

	expr := pattern
	if insensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid $regex: %w", err)
	}
	return &Regex{Pattern: pattern, CaseInsensitive: insensitive, re: re}, nil
}

// unportableEscapes 在 PostgreSQL ARE 中含义不同或不被支持
const unportableEscapes = "bBzpPQEC"

// checkPortable 只接受 RE2 与 PostgreSQL ~ 语义一致的子集，保证内存存储和数据库匹配结果相同
func checkPortable(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 < len(pattern) {
				if strings.IndexByte(unportableEscapes, pattern[i+1]) >= 0 {
					return fmt.Errorf("unsupported escape \\%c in $regex", pattern[i+1])
				}
				i++
			}
		case '(':
			if strings.HasPrefix(pattern[i:], "(?") && !strings.HasPrefix(pattern[i:], "(?:") {
				return fmt.Errorf("inline flags and named groups are not supported in $regex")
			}
		}
	}
	return nil
}

func isDateLiteral(obj map[string]any) bool {
	_, ok := obj["$date"]
	return ok && len(obj) == 1
}

// coerceEq 相等比较的值：数组字段允许整体数组（精确相等），其他同 coerceScalar
func coerceEq(field Field, val any) (any, error) {
	if field.Kind == KindStringArray {
		if list, ok := val.([]any); ok {
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s expects string elements", field.Name)
				}
				out = append(out, s)
			}
			return out, nil
		}
	}
	return coerceScalar(field, val)
}

// coerceScalar 将 JSON 值转换为字段类型，数组字段按元素类型（string）转换
func coerceScalar(field Field, val any) (any, error) {
	if val == nil {
		return nil, fmt.Errorf("null is not supported for %s", field.Name)
	}

	switch field.Kind {
	case KindString, KindStringArray:
		switch v := val.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		}
	case KindBool:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		case json.Number:
			switch v.String() {
			case "1":
				return true, nil
			case "0":
				return false, nil
			}
		}
	case KindTime:
		if obj, ok := val.(map[string]any); ok && isDateLiteral(obj) {
			val = obj["$date"]
		}
		if t, err := model.ParseTimestamp(val); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid value %v for %s", val, field.Name)
}

// compareValues 比较两个同类型的值，返回 -1/0/1
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}
