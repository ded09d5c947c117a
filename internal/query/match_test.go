package query

import (
	"net/url"
	"testing"
	"time"

	"taskhub/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func taskDocs() []model.Document {
	tasks := []*model.Task{
		{ID: "t1", Name: "Write report", Deadline: base.Add(48 * time.Hour), AssignedUser: "u1", AssignedUserName: "Ann", DateCreated: base},
		{ID: "t2", Name: "review PR", Deadline: base.Add(24 * time.Hour), Completed: true, AssignedUserName: model.UnassignedName, DateCreated: base.Add(time.Minute)},
		{ID: "t3", Name: "Deploy", Deadline: base.Add(72 * time.Hour), AssignedUser: "u1", AssignedUserName: "Ann", DateCreated: base.Add(2 * time.Minute)},
	}
	docs := make([]model.Document, len(tasks))
	for i, task := range tasks {
		docs[i] = task.Document()
	}
	return docs
}

func ids(docs []model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["_id"].(string)
	}
	return out
}

func equalIDs(a, b []string) bool {
	return equalStrings(a, b)
}

func TestApply_FilterSortProject(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{"all in creation order", params("limit", "0"), []string{"t1", "t2", "t3"}},
		{"completed", params("where", `{"completed":true}`), []string{"t2"}},
		{"ne", params("where", `{"assignedUser":{"$ne":"u1"}}`), []string{"t2"}},
		{"regex case-insensitive", params("where", `{"name":{"$regex":"^REVIEW","$options":"i"}}`), []string{"t2"}},
		{"regex case-sensitive", params("where", `{"name":{"$regex":"^REVIEW"}}`), []string{}},
		{"or", params("where", `{"$or":[{"name":"Deploy"},{"completed":true}]}`), []string{"t2", "t3"}},
		{"nin", params("where", `{"_id":{"$nin":["t1","t3"]}}`), []string{"t2"}},
		{"deadline range", params("where", `{"deadline":{"$gt":"2025-03-02T12:00:00Z","$lte":"2025-03-04T12:00:00Z"}}`), []string{"t1", "t3"}},
		{"sort desc", params("sort", `{"deadline":-1}`), []string{"t3", "t1", "t2"}},
		{"sort ties by creation", params("sort", `{"assignedUserName":1}`), []string{"t1", "t3", "t2"}},
		{"skip and limit", params("skip", "1", "limit", "1"), []string{"t2"}},
		{"skip past end", params("skip", "10"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(Tasks, tt.query)
			if d.Invalid {
				t.Fatalf("unexpected Invalid: %v", d.Err)
			}
			got := ids(Apply(taskDocs(), d))
			if !equalIDs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply_Projection(t *testing.T) {
	d := Parse(Tasks, params("select", `{"name":1}`))
	out := Apply(taskDocs(), d)
	if len(out[0]) != 2 || out[0]["name"] != "Write report" || out[0]["_id"] != "t1" {
		t.Errorf("unexpected projected doc: %v", out[0])
	}

	d = Parse(Tasks, params("select", `{"description":0,"_id":0}`))
	out = Apply(taskDocs(), d)
	if _, ok := out[0]["description"]; ok {
		t.Error("description should be excluded")
	}
	if _, ok := out[0]["_id"]; ok {
		t.Error("_id should be excluded")
	}
	if _, ok := out[0]["deadline"]; !ok {
		t.Error("deadline should be kept")
	}
}

func TestMatch_ArrayField(t *testing.T) {
	user := (&model.User{ID: "u1", Name: "Ann", Email: "ann@x.com", PendingTasks: []string{"t1", "t3"}}).Document()

	tests := []struct {
		where string
		want  bool
	}{
		{`{"pendingTasks":"t1"}`, true},
		{`{"pendingTasks":"t2"}`, false},
		{`{"pendingTasks":["t1","t3"]}`, true},
		{`{"pendingTasks":["t3","t1"]}`, false},
		{`{"pendingTasks":{"$in":["t2","t3"]}}`, true},
		{`{"pendingTasks":{"$nin":["t2"]}}`, true},
		{`{"pendingTasks":{"$ne":"t1"}}`, false},
		{`{"pendingTasks":[]}`, false},
	}

	for _, tt := range tests {
		d := Parse(Users, params("where", tt.where))
		if d.Invalid {
			t.Fatalf("%s: unexpected Invalid: %v", tt.where, d.Err)
		}
		if got := Match(d.Filter, user); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.where, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	d := Parse(Tasks, params("where", `{"assignedUser":"u1"}`, "limit", "1"))
	if got := Count(taskDocs(), d.Filter); got != 2 {
		t.Errorf("Count = %d, want 2 (limit must not apply)", got)
	}
}
