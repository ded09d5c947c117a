package query

// Collection 可查询的集合
type Collection string

const (
	Tasks Collection = "tasks"
	Users Collection = "users"
)

// FieldKind 字段值类型，决定过滤值如何转换
type FieldKind int

const (
	KindString FieldKind = iota
	KindBool
	KindTime
	KindStringArray
)

// Field 对外字段名与数据库列的映射，列名只来自这里
type Field struct {
	Name   string
	Column string
	Kind   FieldKind
}

var schemas = map[Collection]map[string]Field{
	Tasks: {
		"_id":              {Name: "_id", Column: "id", Kind: KindString},
		"name":             {Name: "name", Column: "name", Kind: KindString},
		"description":      {Name: "description", Column: "description", Kind: KindString},
		"deadline":         {Name: "deadline", Column: "deadline", Kind: KindTime},
		"completed":        {Name: "completed", Column: "completed", Kind: KindBool},
		"assignedUser":     {Name: "assignedUser", Column: "assigned_user", Kind: KindString},
		"assignedUserName": {Name: "assignedUserName", Column: "assigned_user_name", Kind: KindString},
		"dateCreated":      {Name: "dateCreated", Column: "date_created", Kind: KindTime},
	},
	Users: {
		"_id":          {Name: "_id", Column: "id", Kind: KindString},
		"name":         {Name: "name", Column: "name", Kind: KindString},
		"email":        {Name: "email", Column: "email", Kind: KindString},
		"pendingTasks": {Name: "pendingTasks", Column: "pending_tasks", Kind: KindStringArray},
		"dateCreated":  {Name: "dateCreated", Column: "date_created", Kind: KindTime},
	},
}

var aliases = map[string]string{
	"createdAt": "dateCreated",
	"id":        "_id",
}

// LookupField 按对外字段名（或别名）查找字段
func LookupField(c Collection, name string) (Field, bool) {
	fields, ok := schemas[c]
	if !ok {
		return Field{}, false
	}
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	f, ok := fields[name]
	return f, ok
}

var (
	idField          = Field{Name: "_id", Column: "id", Kind: KindString}
	dateCreatedField = Field{Name: "dateCreated", Column: "date_created", Kind: KindTime}
)
