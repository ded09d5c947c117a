package query

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SortKey 单个排序键
type SortKey struct {
	Field Field
	Desc  bool
}

// parseSort 支持三种形式：
//
//	{"name": 1, "deadline": -1}          有序对象
//	[["name", 1], ["deadline", "desc"]]  键值对数组
//	["name", "-deadline"] 或 "name -deadline"
func parseSort(c Collection, raw string) ([]SortKey, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	var keys []SortKey
	switch t := tok.(type) {
	case nil:
		keys = nil
	case json.Delim:
		switch t {
		case '{':
			keys, err = parseSortObject(c, dec)
		case '[':
			keys, err = parseSortArray(c, dec)
		default:
			err = fmt.Errorf("unexpected delimiter %v", t)
		}
	case string:
		keys, err = parseSortString(c, t)
	default:
		err = fmt.Errorf("sort must be an object, array or string")
	}
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after sort")
	}
	return keys, nil
}

func parseSortObject(c Collection, dec *json.Decoder) ([]SortKey, error) {
	var keys []SortKey
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var dir any
		if err := dec.Decode(&dir); err != nil {
			return nil, err
		}
		key, err := sortKey(c, name, dir)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return keys, nil
}

func parseSortArray(c Collection, dec *json.Decoder) ([]SortKey, error) {
	var keys []SortKey
	for dec.More() {
		var item any
		if err := dec.Decode(&item); err != nil {
			return nil, err
		}

		switch v := item.(type) {
		case string:
			key, err := prefixedSortKey(c, v)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		case []any:
			if len(v) != 2 {
				return nil, fmt.Errorf("sort pair must have two elements")
			}
			name, ok := v[0].(string)
			if !ok {
				return nil, fmt.Errorf("sort field must be a string")
			}
			key, err := sortKey(c, name, v[1])
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		default:
			return nil, fmt.Errorf("unsupported sort entry %v", item)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return keys, nil
}

func parseSortString(c Collection, s string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Fields(s) {
		key, err := prefixedSortKey(c, part)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func prefixedSortKey(c Collection, s string) (SortKey, error) {
	desc := strings.HasPrefix(s, "-")
	name := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	field, ok := LookupField(c, name)
	if !ok {
		return SortKey{}, fmt.Errorf("unknown sort field %q", name)
	}
	return SortKey{Field: field, Desc: desc}, nil
}

func sortKey(c Collection, name string, dir any) (SortKey, error) {
	field, ok := LookupField(c, name)
	if !ok {
		return SortKey{}, fmt.Errorf("unknown sort field %q", name)
	}

	switch v := dir.(type) {
	case json.Number:
		switch v.String() {
		case "1":
			return SortKey{Field: field}, nil
		case "-1":
			return SortKey{Field: field, Desc: true}, nil
		}
	case string:
		switch strings.ToLower(v) {
		case "asc", "ascending", "1":
			return SortKey{Field: field}, nil
		case "desc", "descending", "-1":
			return SortKey{Field: field, Desc: true}, nil
		}
	}
	return SortKey{}, fmt.Errorf("invalid sort direction %v for %s", dir, name)
}
