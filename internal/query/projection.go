package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"taskhub/internal/model"
)

// Projection 字段投影
// Include 为 true 时 Fields 为保留字段（已包含 _id，除非显式排除），否则为剔除字段
type Projection struct {
	Include bool
	Fields  []string
}

// Apply 对单个文档应用投影，p 为 nil 时原样返回
func (p *Projection) Apply(doc model.Document) model.Document {
	if p == nil {
		return doc
	}
	return doc.Project(p.Fields, p.Include)
}

// parseSelect 支持 {"name": 1, "_id": 0}、["name"]、"name -description"
func parseSelect(c Collection, raw string) (*Projection, error) {
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		return nil, err
	}

	modes := make(map[string]bool)
	var order []string
	add := func(name string, include bool) error {
		field, ok := LookupField(c, name)
		if !ok {
			return fmt.Errorf("unknown select field %q", name)
		}
		if _, seen := modes[field.Name]; !seen {
			order = append(order, field.Name)
		}
		modes[field.Name] = include
		return nil
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			include, err := projectionFlag(val[name])
			if err != nil {
				return nil, fmt.Errorf("select %s: %w", name, err)
			}
			if err := add(name, include); err != nil {
				return nil, err
			}
		}
	case []any:
		for _, item := range val {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("select entries must be strings")
			}
			if err := add(strings.TrimPrefix(name, "-"), !strings.HasPrefix(name, "-")); err != nil {
				return nil, err
			}
		}
	case string:
		for _, name := range strings.Fields(val) {
			if err := add(strings.TrimPrefix(name, "-"), !strings.HasPrefix(name, "-")); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("select must be an object, array or string")
	}

	return buildProjection(modes, order)
}

func buildProjection(modes map[string]bool, order []string) (*Projection, error) {
	if len(modes) == 0 {
		return nil, nil
	}

	var included, excluded []string
	for _, name := range order {
		if modes[name] {
			included = append(included, name)
		} else {
			excluded = append(excluded, name)
		}
	}

	// 除 _id 外不允许混用保留和剔除
	mixed := false
	if len(included) > 0 {
		for _, name := range excluded {
			if name != "_id" {
				mixed = true
			}
		}
	}
	if mixed {
		return nil, fmt.Errorf("cannot mix inclusion and exclusion in select")
	}

	if len(included) == 0 {
		return &Projection{Include: false, Fields: excluded}, nil
	}

	fields := included
	if _, set := modes["_id"]; !set {
		fields = append([]string{"_id"}, fields...)
	}
	return &Projection{Include: true, Fields: fields}, nil
}

func projectionFlag(v any) (bool, error) {
	switch f := v.(type) {
	case bool:
		return f, nil
	case json.Number:
		switch f.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("projection value must be 0, 1, true or false")
}
