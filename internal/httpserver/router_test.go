package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhub/internal/handler"
	"taskhub/internal/model"
	"taskhub/internal/repository/memory"
	"taskhub/internal/service"
	"taskhub/pkg/outbox"
	"taskhub/pkg/rbac"
	"taskhub/pkg/util"
)

const testSecret = "test-secret"

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler     http.Handler
	coordinator *service.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := memory.New()
	coordinator := service.NewCoordinator(store.Tasks(), store.Users(), store, store, logger)
	replay := outbox.NewReplayService(store, nil, logger, 5)

	r := NewRouter(
		handler.NewTaskHandler(coordinator, logger),
		handler.NewUserHandler(coordinator, logger),
		handler.NewAdminHandler(replay, logger),
		RouterConfig{ServiceName: "taskhub", JWTSecret: testSecret},
		logger,
	)
	return &testServer{handler: WithCORS(r, nil), coordinator: coordinator}
}

func (s *testServer) do(t *testing.T, method, target string, body any, header ...string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode response failed: %v (%s)", method, target, err, w.Body.String())
		}
	}
	return w.Code, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data failed: %v (%s)", err, env.Data)
	}
}

func q(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/health", nil)
	if status != http.StatusOK || env.Message != "OK" {
		t.Fatalf("unexpected response: %d %+v", status, env)
	}
	var data map[string]string
	decodeData(t, env, &data)
	if data["status"] != "healthy" || data["service"] != "taskhub" {
		t.Fatalf("unexpected data: %v", data)
	}
}

type fakeMQ struct{ connected bool }

func (f fakeMQ) IsConnected() bool { return f.connected }

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := memory.New()
	coordinator := service.NewCoordinator(store.Tasks(), store.Users(), store, store, logger)

	tests := []struct {
		name       string
		cfg        RouterConfig
		wantStatus int
		wantBody   string
	}{
		{"memory store without mq", RouterConfig{}, http.StatusOK, "ready"},
		{"db and mq up", RouterConfig{DB: fakeDB{}, MQ: fakeMQ{connected: true}}, http.StatusOK, "ready"},
		{"db down", RouterConfig{DB: fakeDB{err: fmt.Errorf("refused")}}, http.StatusInternalServerError, "db_not_ready"},
		{"mq disconnected", RouterConfig{DB: fakeDB{}, MQ: fakeMQ{}}, http.StatusInternalServerError, "mq_not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(
				handler.NewTaskHandler(coordinator, logger),
				handler.NewUserHandler(coordinator, logger),
				handler.NewAdminHandler(outbox.NewReplayService(store, nil, logger, 5), logger),
				tt.cfg,
				logger,
			)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode readyz failed: %v", err)
			}
			if w.Code != tt.wantStatus || body["status"] != tt.wantBody {
				t.Fatalf("readyz = %d %v, want %d %s", w.Code, body, tt.wantStatus, tt.wantBody)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/nope", nil)
	if status != http.StatusNotFound || env.Message != "Not Found" || string(env.Data) != "null" {
		t.Fatalf("unexpected response: %d %+v", status, env)
	}
}

func TestAnnScenarioOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/users", map[string]any{"name": "Ann", "email": "ann@x.com"})
	if status != http.StatusCreated || env.Message != "Created" {
		t.Fatalf("create user: %d %+v", status, env)
	}
	var ann model.User
	decodeData(t, env, &ann)

	deadline := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	status, env = s.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"name": "T1", "deadline": deadline, "assignedUser": ann.ID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create task: %d %+v", status, env)
	}
	var t1 model.Task
	decodeData(t, env, &t1)
	if t1.AssignedUserName != "Ann" {
		t.Fatalf("assignedUserName = %q, want Ann", t1.AssignedUserName)
	}

	status, env = s.do(t, http.MethodGet, "/api/users/"+ann.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("get user: %d %+v", status, env)
	}
	var got model.User
	decodeData(t, env, &got)
	if len(got.PendingTasks) != 1 || got.PendingTasks[0] != t1.ID {
		t.Fatalf("pendingTasks = %v, want [%s]", got.PendingTasks, t1.ID)
	}

	status, env = s.do(t, http.MethodPut, "/api/users/"+ann.ID, map[string]any{
		"name": "Ann", "email": "ann@x.com", "pendingTasks": []string{},
	})
	if status != http.StatusOK {
		t.Fatalf("update user: %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodGet, "/api/tasks/"+t1.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("get task: %d %+v", status, env)
	}
	var task model.Task
	decodeData(t, env, &task)
	if task.AssignedUser != "" || task.AssignedUserName != "unassigned" {
		t.Fatalf("expected unassigned task, got %q %q", task.AssignedUser, task.AssignedUserName)
	}
}

func TestDeleteUserCascadeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	ann, err := s.coordinator.CreateUser(ctx, model.UserInput{Name: "Ann", Email: "ann@x.com"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	var ids []string
	for i := 0; i < 2; i++ {
		task, err := s.coordinator.CreateTask(ctx, model.TaskInput{
			Name: fmt.Sprintf("T%d", i), Deadline: "2030-01-01", AssignedUser: ann.ID,
		})
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		ids = append(ids, task.ID)
	}

	status, _ := s.do(t, http.MethodDelete, "/api/users/"+ann.ID, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete user status = %d, want 204", status)
	}

	status, env := s.do(t, http.MethodGet, "/api/users/"+ann.ID, nil)
	if status != http.StatusNotFound || env.Message != "User not found" {
		t.Fatalf("get deleted user: %d %+v", status, env)
	}

	where := fmt.Sprintf(`{"assignedUser":%q}`, "")
	status, env = s.do(t, http.MethodGet, "/api/tasks?"+q(map[string]string{"where": where, "count": "true"}), nil)
	if status != http.StatusOK || string(env.Data) != "2" {
		t.Fatalf("unassigned count: %d %s", status, env.Data)
	}
}

func TestCountReturnsInteger(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i, completed := range []bool{true, false, true} {
		if _, err := s.coordinator.CreateTask(ctx, model.TaskInput{
			Name: fmt.Sprintf("T%d", i), Deadline: "2030-01-01", Completed: completed,
		}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	target := "/api/tasks?" + q(map[string]string{"where": `{"completed":true}`, "count": "true"})
	status, env := s.do(t, http.MethodGet, target, nil)
	if status != http.StatusOK {
		t.Fatalf("count status = %d", status)
	}
	var n int
	decodeData(t, env, &n)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestInvalidQueryParams(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
	}{
		{"sort not json", "/api/tasks?sort=notjson"},
		{"where not json", "/api/users?where=%7Bbad"},
		{"select not json", "/api/tasks?select=%5B1"},
		{"count with bad where", "/api/tasks?count=true&where=nope"},
		{"get by id with bad select", "/api/tasks/abc?select=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodGet, tt.target, nil)
			if status != http.StatusBadRequest || env.Message != "Invalid JSON in query params" {
				t.Fatalf("unexpected response: %d %+v", status, env)
			}
		})
	}
}

func TestDefaultLimits(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		if _, err := s.coordinator.CreateTask(ctx, model.TaskInput{Name: fmt.Sprintf("T%03d", i), Deadline: "2030-01-01"}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		if _, err := s.coordinator.CreateUser(ctx, model.UserInput{Name: "U", Email: fmt.Sprintf("u%d@x.com", i)}); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/tasks", 100},
		{"/api/tasks?limit=abc", 100},
		{"/api/tasks?limit=7", 7},
		{"/api/tasks?skip=100", 5},
		{"/api/users", 105},
		{"/api/users?limit=3", 3},
	}
	for _, tt := range tests {
		status, env := s.do(t, http.MethodGet, tt.target, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: status %d", tt.target, status)
		}
		var docs []map[string]any
		decodeData(t, env, &docs)
		if len(docs) != tt.want {
			t.Errorf("%s: got %d items, want %d", tt.target, len(docs), tt.want)
		}
	}
}

func TestSortAndSelect(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"b", "c", "a"} {
		if _, err := s.coordinator.CreateTask(ctx, model.TaskInput{Name: name, Deadline: "2030-01-01"}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	target := "/api/tasks?" + q(map[string]string{"sort": `{"name":-1}`, "select": `{"name":1}`})
	status, env := s.do(t, http.MethodGet, target, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var docs []map[string]any
	decodeData(t, env, &docs)

	var names []string
	for _, d := range docs {
		if len(d) != 2 {
			t.Fatalf("projection should keep only _id and name, got %v", d)
		}
		names = append(names, d["name"].(string))
	}
	if strings.Join(names, ",") != "c,b,a" {
		t.Fatalf("names = %v, want c,b,a", names)
	}
}

func TestTaskErrors(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/tasks", map[string]any{"name": "no deadline"})
	if status != http.StatusBadRequest || env.Message != "name and deadline are required" {
		t.Fatalf("create: %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodPost, "/api/tasks", "{not json")
	if status != http.StatusBadRequest {
		t.Fatalf("bad body: %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodGet, "/api/tasks/missing", nil)
	if status != http.StatusNotFound || env.Message != "Task not found" {
		t.Fatalf("get: %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodPut, "/api/tasks/missing", map[string]any{"name": "x", "deadline": "2030-01-01"})
	if status != http.StatusNotFound {
		t.Fatalf("put: %d %+v", status, env)
	}

	status, _ = s.do(t, http.MethodDelete, "/api/tasks/missing", nil)
	if status != http.StatusNotFound {
		t.Fatalf("delete: %d", status)
	}
}

func TestDuplicateEmail(t *testing.T) {
	s := newTestServer(t)

	if status, env := s.do(t, http.MethodPost, "/api/users", map[string]any{"name": "Ann", "email": "ann@x.com"}); status != http.StatusCreated {
		t.Fatalf("first create: %d %+v", status, env)
	}
	status, env := s.do(t, http.MethodPost, "/api/users", map[string]any{"name": "Ann 2", "email": "ANN@x.com"})
	if status != http.StatusBadRequest || env.Message != "A user with that email already exists." {
		t.Fatalf("duplicate create: %d %+v", status, env)
	}

	status, env = s.do(t, http.MethodPost, "/api/users", map[string]any{"name": "No email"})
	if status != http.StatusBadRequest || env.Message != "name and email are required" {
		t.Fatalf("missing email: %d %+v", status, env)
	}
}

func TestFormBody(t *testing.T) {
	s := newTestServer(t)
	task, err := s.coordinator.CreateTask(context.Background(), model.TaskInput{Name: "T1", Deadline: "2030-01-01"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	form := url.Values{}
	form.Set("name", "Ann")
	form.Set("email", "ann@x.com")
	form.Add("pendingTasks[]", task.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	var u model.User
	decodeData(t, env, &u)
	if len(u.PendingTasks) != 1 || u.PendingTasks[0] != task.ID {
		t.Fatalf("pendingTasks = %v, want [%s]", u.PendingTasks, task.ID)
	}
}

func TestTraceHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Trace-ID"); got != "abc123" {
		t.Fatalf("X-Trace-ID = %q, want abc123", got)
	}
}

func TestAdminOutboxAuth(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/admin/outbox/failed", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", status)
	}

	userToken, err := util.GenerateJWT("u1", rbac.RoleUser, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	status, _ = s.do(t, http.MethodGet, "/api/admin/outbox/failed", nil, "Authorization", "Bearer "+userToken)
	if status != http.StatusForbidden {
		t.Fatalf("user role: status %d, want 403", status)
	}

	adminToken, err := util.GenerateJWT("root", rbac.RoleAdmin, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	status, env := s.do(t, http.MethodGet, "/api/admin/outbox/failed", nil, "Authorization", "Bearer "+adminToken)
	if status != http.StatusOK || string(env.Data) != "[]" {
		t.Fatalf("admin list: %d %s", status, env.Data)
	}

	status, _ = s.do(t, http.MethodPost, "/api/admin/outbox/1/replay", nil, "Authorization", "Bearer "+adminToken)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("replay without publisher: status %d, want 503", status)
	}
}
