package query

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Builder 使用 $n 占位符的 squirrel 语句构造器
var Builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Where 把过滤条件编译为 squirrel 条件；列名只来自字段白名单，值全部参数化
func Where(f Filter) (sq.Sqlizer, error) {
	switch v := f.(type) {
	case nil:
		return nil, nil
	case And:
		if len(v.Filters) == 0 {
			return sq.Expr("TRUE"), nil
		}
		out := make(sq.And, 0, len(v.Filters))
		for _, sub := range v.Filters {
			s, err := Where(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case Or:
		out := make(sq.Or, 0, len(v.Filters))
		for _, sub := range v.Filters {
			s, err := Where(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case Compare:
		return compareSQL(v)
	}
	return nil, fmt.Errorf("unsupported filter %T", f)
}

func compareSQL(c Compare) (sq.Sqlizer, error) {
	col := c.Field.Column
	if c.Field.Kind == KindStringArray {
		return arraySQL(c)
	}

	switch c.Op {
	case OpEq:
		return sq.Eq{col: c.Value}, nil
	case OpNe:
		return sq.NotEq{col: c.Value}, nil
	case OpGt:
		return sq.Gt{col: c.Value}, nil
	case OpGte:
		return sq.GtOrEq{col: c.Value}, nil
	case OpLt:
		return sq.Lt{col: c.Value}, nil
	case OpLte:
		return sq.LtOrEq{col: c.Value}, nil
	case OpIn:
		return sq.Eq{col: c.Value}, nil
	case OpNin:
		return sq.NotEq{col: c.Value}, nil
	case OpRegex:
		re, ok := c.Value.(*Regex)
		if !ok {
			return nil, fmt.Errorf("invalid regex value for %s", c.Field.Name)
		}
		op := "~"
		if re.CaseInsensitive {
			op = "~*"
		}
		return sq.Expr(col+" "+op+" ?", re.Pattern), nil
	}
	return nil, fmt.Errorf("unsupported operator %s", c.Op)
}

func arraySQL(c Compare) (sq.Sqlizer, error) {
	col := c.Field.Column
	switch c.Op {
	case OpEq, OpNe:
		var expr sq.Sqlizer
		switch v := c.Value.(type) {
		case []string:
			expr = sq.Expr(col+" = ?::text[]", v)
		case string:
			expr = sq.Expr("? = ANY("+col+")", v)
		default:
			return nil, fmt.Errorf("invalid value for %s", c.Field.Name)
		}
		if c.Op == OpNe {
			return not(expr), nil
		}
		return expr, nil
	case OpIn, OpNin:
		values, _ := c.Value.([]any)
		ids := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		expr := sq.Expr(col+" && ?::text[]", ids)
		if c.Op == OpNin {
			return not(expr), nil
		}
		return expr, nil
	}
	return nil, fmt.Errorf("unsupported operator %s on array field %s", c.Op, c.Field.Name)
}

type notExpr struct {
	inner sq.Sqlizer
}

func not(s sq.Sqlizer) sq.Sqlizer { return notExpr{inner: s} }

func (n notExpr) ToSql() (string, []interface{}, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

// OrderBy 生成 ORDER BY 子句，追加创建时间与 id 作为决胜键
func OrderBy(keys []SortKey) []string {
	out := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		out = append(out, k.Field.Column+" "+dir)
	}
	return append(out, dateCreatedField.Column+" ASC", idField.Column+" ASC")
}

// SelectList 把描述编译为 SELECT 语句，columns 由调用方给出
func SelectList(table string, columns []string, d Descriptor) (string, []interface{}, error) {
	b := Builder.Select(columns...).From(table)

	where, err := Where(d.Filter)
	if err != nil {
		return "", nil, err
	}
	if where != nil {
		b = b.Where(where)
	}

	b = b.OrderBy(OrderBy(d.Sort)...)
	if d.Skip > 0 {
		b = b.Offset(uint64(d.Skip))
	}
	if d.Limit > 0 {
		b = b.Limit(uint64(d.Limit))
	}
	return b.ToSql()
}

// SelectCount 把过滤条件编译为 COUNT 语句
func SelectCount(table string, f Filter) (string, []interface{}, error) {
	b := Builder.Select("COUNT(*)").From(table)

	where, err := Where(f)
	if err != nil {
		return "", nil, err
	}
	if where != nil {
		b = b.Where(where)
	}
	return b.ToSql()
}
