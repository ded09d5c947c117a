package model

// Document 一条记录的字段视图，键为对外的字段名（_id, name, ...）
type Document map[string]any

// Project 按字段名保留或剔除，include 为 false 时 fields 为需要剔除的字段
func (d Document) Project(fields []string, include bool) Document {
	if include {
		out := make(Document, len(fields))
		for _, f := range fields {
			if v, ok := d[f]; ok {
				out[f] = v
			}
		}
		return out
	}

	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}
