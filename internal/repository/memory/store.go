// Package memory 提供单进程内存存储，用于本地开发和测试。
// 所有事务在同一把互斥锁下串行执行，失败时恢复快照。
package memory

import (
	"context"
	"sync"
	"time"

	"taskhub/internal/model"
	"taskhub/pkg/metrics"
	"taskhub/pkg/outbox"
)

type txKey struct{}

type Store struct {
	mu sync.Mutex

	tasks       map[string]*model.Task
	users       map[string]*model.User
	events      []*outbox.Event
	nextEventID int64
	lastStamp   time.Time

	now func() time.Time
}

func New() *Store {
	return &Store{
		tasks: make(map[string]*model.Task),
		users: make(map[string]*model.User),
		now:   time.Now,
	}
}

// Tasks 返回任务存储视图
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// Users 返回用户存储视图
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock 不在本存储的事务中时加锁，返回解锁函数
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx 与 db.TxManager 的语义一致：嵌套调用复用外层事务，fn 返回错误时全部回滚
func (s *Store) WithinTx(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		outcome := "committed"
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
			outcome = "rolled_back"
		}
		metrics.RecordTxDuration(operation, outcome, time.Since(start))
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

// snapshot 事务内只会追加事件，回滚时截断到事务开始时的长度即可
type snapshot struct {
	tasks       map[string]*model.Task
	users       map[string]*model.User
	eventCount  int
	nextEventID int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		tasks:       make(map[string]*model.Task, len(s.tasks)),
		users:       make(map[string]*model.User, len(s.users)),
		eventCount:  len(s.events),
		nextEventID: s.nextEventID,
	}
	for id, t := range s.tasks {
		snap.tasks[id] = cloneTask(t)
	}
	for id, u := range s.users {
		snap.users[id] = cloneUser(u)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.tasks = snap.tasks
	s.users = snap.users
	clear(s.events[snap.eventCount:])
	s.events = s.events[:snap.eventCount]
	s.nextEventID = snap.nextEventID
}

// stamp 返回严格递增的创建时间，保证创建顺序可排序
func (s *Store) stamp() time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	return &c
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.PendingTasks = append([]string{}, u.PendingTasks...)
	return &c
}
