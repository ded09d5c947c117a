package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/repository"
	"taskhub/pkg/db"
	"taskhub/pkg/outbox"
)

// testDatabaseEnv 指向一个可写的 PostgreSQL；未设置时跳过数据库测试
const testDatabaseEnv = "TASKHUB_TEST_DATABASE_URL"

type pgFixture struct {
	pool  *pgxpool.Pool
	tasks *repository.TaskRepository
	users *repository.UserRepository
}

// newPostgresCoordinator 在独立 schema 中建表并清空数据，避免与其他包的数据库测试互相干扰
func newPostgresCoordinator(t *testing.T) (*Coordinator, *pgFixture) {
	t.Helper()
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = "taskhub_service_test"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS taskhub_service_test`); err != nil {
		t.Fatalf("create schema failed: %v", err)
	}
	if err := repository.Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE tasks, users, outbox_events RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	f := &pgFixture{
		pool:  pool,
		tasks: repository.NewTaskRepository(pool, zap.NewNop()),
		users: repository.NewUserRepository(pool, zap.NewNop()),
	}
	tx := db.NewTxManager(pool, zap.NewNop(), 10, 5*time.Millisecond)
	return NewCoordinator(f.tasks, f.users, outbox.NewRepository(pool), tx, zap.NewNop()), f
}

func (f *pgFixture) check(t *testing.T) {
	t.Helper()
	checkStoreInvariants(t, f.tasks, f.users)
	checkAssigneeNames(t, f.tasks, f.users)
}

func (f *pgFixture) task(t *testing.T, id string) *model.Task {
	t.Helper()
	task, err := f.tasks.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s) failed: %v", id, err)
	}
	return task
}

func (f *pgFixture) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := f.users.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s) failed: %v", id, err)
	}
	return u
}

func (f *pgFixture) eventCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM outbox_events`).Scan(&n); err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	return n
}

func TestPostgresAnnScenario(t *testing.T) {
	c, f := newPostgresCoordinator(t)
	ctx := context.Background()

	ann := mustCreateUser(t, c, "Ann", "ann@x.com")
	t1 := mustCreateTask(t, c, taskInput("T1", ann.ID))
	if got := f.user(t, ann.ID); len(got.PendingTasks) != 1 || got.PendingTasks[0] != t1.ID {
		t.Fatalf("pendingTasks = %v, want [%s]", got.PendingTasks, t1.ID)
	}

	if _, err := c.UpdateUser(ctx, ann.ID, model.UserInput{Name: "Ann", Email: "ann@x.com", PendingTasks: []string{}}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if got := f.task(t, t1.ID); got.AssignedUser != "" || got.AssignedUserName != model.UnassignedName {
		t.Fatalf("expected T1 unassigned, got %q %q", got.AssignedUser, got.AssignedUserName)
	}
	f.check(t)
}

func TestPostgresReassignAndTakeOver(t *testing.T) {
	c, f := newPostgresCoordinator(t)
	ctx := context.Background()
	ann := mustCreateUser(t, c, "Ann", "ann@x.com")
	bob := mustCreateUser(t, c, "Bob", "bob@x.com")
	t1 := mustCreateTask(t, c, taskInput("T1", ann.ID))
	t2 := mustCreateTask(t, c, taskInput("T2", ann.ID))

	if _, err := c.UpdateTask(ctx, t1.ID, taskInput("T1", bob.ID)); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if _, err := c.UpdateUser(ctx, bob.ID, model.UserInput{Name: "Bobby", Email: "bob@x.com", PendingTasks: []string{t2.ID, t1.ID, "ghost"}}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	if got := f.user(t, ann.ID); len(got.PendingTasks) != 0 {
		t.Fatalf("Ann pendingTasks = %v, want empty", got.PendingTasks)
	}
	if got := f.user(t, bob.ID); len(got.PendingTasks) != 2 || got.PendingTasks[0] != t2.ID || got.PendingTasks[1] != t1.ID {
		t.Fatalf("Bob pendingTasks = %v, want [%s %s]", got.PendingTasks, t2.ID, t1.ID)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if got := f.task(t, id); got.AssignedUser != bob.ID || got.AssignedUserName != "Bobby" {
			t.Fatalf("task %s assignment = %q %q", id, got.AssignedUser, got.AssignedUserName)
		}
	}
	f.check(t)
}

func TestPostgresDeleteTaskAndUserCascade(t *testing.T) {
	c, f := newPostgresCoordinator(t)
	ctx := context.Background()
	ann := mustCreateUser(t, c, "Ann", "ann@x.com")
	t1 := mustCreateTask(t, c, taskInput("T1", ann.ID))
	t2 := mustCreateTask(t, c, taskInput("T2", ann.ID))
	t3 := mustCreateTask(t, c, taskInput("T3", ann.ID))

	if err := c.DeleteTask(ctx, t1.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if got := f.user(t, ann.ID); len(got.PendingTasks) != 2 || got.PendingTasks[0] != t2.ID {
		t.Fatalf("pendingTasks = %v, want [%s %s]", got.PendingTasks, t2.ID, t3.ID)
	}

	if err := c.DeleteUser(ctx, ann.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := f.users.FindByID(ctx, ann.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
	for _, id := range []string{t2.ID, t3.ID} {
		if got := f.task(t, id); got.AssignedUser != "" || got.AssignedUserName != model.UnassignedName {
			t.Fatalf("task %s still assigned: %q %q", id, got.AssignedUser, got.AssignedUserName)
		}
	}
	if n := f.eventCount(t); n != 6 {
		t.Fatalf("outbox events = %d, want 6", n)
	}
	f.check(t)
}

func TestPostgresDuplicateEmailRollsBack(t *testing.T) {
	c, f := newPostgresCoordinator(t)
	ctx := context.Background()
	mustCreateUser(t, c, "Ann", "ann@x.com")
	bob := mustCreateUser(t, c, "Bob", "bob@x.com")
	task := mustCreateTask(t, c, taskInput("T1", bob.ID))
	before := f.eventCount(t)

	_, err := c.UpdateUser(ctx, bob.ID, model.UserInput{Name: "Bobby", Email: " ANN@x.com ", PendingTasks: []string{}})
	if !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	if msg := apperr.MessageOf(err); msg != repository.DuplicateEmailMessage {
		t.Fatalf("message = %q", msg)
	}

	got := f.user(t, bob.ID)
	if got.Name != "Bob" || got.Email != "bob@x.com" || len(got.PendingTasks) != 1 || got.PendingTasks[0] != task.ID {
		t.Fatalf("user changed after failed update: %+v", got)
	}
	if assigned := f.task(t, task.ID); assigned.AssignedUser != bob.ID {
		t.Fatalf("task lost its assignee: %q", assigned.AssignedUser)
	}
	if n := f.eventCount(t); n != before {
		t.Fatalf("events recorded for failed update: %d -> %d", before, n)
	}

	if _, err := c.CreateUser(ctx, model.UserInput{Name: "Other", Email: "Bob@X.com"}); !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Fatalf("CreateUser: expected duplicate key, got %v", err)
	}
	f.check(t)
}

func TestPostgresUpdateUserSweepsStaleBackReferences(t *testing.T) {
	c, f := newPostgresCoordinator(t)
	ctx := context.Background()
	ann := mustCreateUser(t, c, "Ann", "ann@x.com")
	task := mustCreateTask(t, c, taskInput("T1", ""))

	// 绕过协调器直接写入一个悬空的反向引用
	stale := f.task(t, task.ID)
	stale.AssignedUser = ann.ID
	stale.AssignedUserName = "Ann"
	if err := f.tasks.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := c.UpdateUser(ctx, ann.ID, model.UserInput{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if got := f.task(t, task.ID); got.AssignedUser != "" || got.AssignedUserName != model.UnassignedName {
		t.Fatalf("stale assignment not cleared: %q %q", got.AssignedUser, got.AssignedUserName)
	}
	f.check(t)
}

func TestPostgresConcurrentWrites(t *testing.T) {
	c, f := newPostgresCoordinator(t)

	w := seedWorkload(t, c, 3, 6)
	w.goroutines = 8
	w.ops = 20
	// SERIALIZABLE 冲突在重试耗尽后以 Transient 返回，数据仍须保持一致
	w.tolerate = func(err error) bool { return errors.Is(err, apperr.ErrTransient) }
	w.run(t, c)

	f.check(t)
}
