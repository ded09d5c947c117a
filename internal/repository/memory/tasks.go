package memory

import (
	"context"

	"github.com/google/uuid"

	"taskhub/internal/model"
	"taskhub/internal/query"
	"taskhub/internal/repository"
)

// TaskStore 内存任务存储，方法语义与 repository.TaskRepository 一致
type TaskStore struct {
	s *Store
}

func (ts *TaskStore) documents() []model.Document {
	docs := make([]model.Document, 0, len(ts.s.tasks))
	for _, t := range ts.s.tasks {
		docs = append(docs, t.Document())
	}
	return docs
}

func (ts *TaskStore) List(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	defer ts.s.lock(ctx)()
	return query.Apply(ts.documents(), d), nil
}

func (ts *TaskStore) Count(ctx context.Context, f query.Filter) (int64, error) {
	defer ts.s.lock(ctx)()
	return query.Count(ts.documents(), f), nil
}

func (ts *TaskStore) Get(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	defer ts.s.lock(ctx)()
	t, ok := ts.s.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	return p.Apply(t.Document()), nil
}

func (ts *TaskStore) FindByID(ctx context.Context, id string) (*model.Task, error) {
	defer ts.s.lock(ctx)()
	t, ok := ts.s.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (ts *TaskStore) FindByIDs(ctx context.Context, ids []string) ([]*model.Task, error) {
	defer ts.s.lock(ctx)()
	var out []*model.Task
	for _, id := range model.DedupeIDs(ids) {
		if t, ok := ts.s.tasks[id]; ok {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (ts *TaskStore) Insert(ctx context.Context, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	defer ts.s.lock(ctx)()

	t.ID = uuid.NewString()
	t.DateCreated = ts.s.stamp()
	ts.s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (ts *TaskStore) Update(ctx context.Context, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	defer ts.s.lock(ctx)()

	existing, ok := ts.s.tasks[t.ID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	c := cloneTask(t)
	c.DateCreated = existing.DateCreated
	ts.s.tasks[t.ID] = c
	return nil
}

func (ts *TaskStore) Delete(ctx context.Context, id string) error {
	defer ts.s.lock(ctx)()
	if _, ok := ts.s.tasks[id]; !ok {
		return repository.ErrTaskNotFound
	}
	delete(ts.s.tasks, id)
	return nil
}

func (ts *TaskStore) AssignMany(ctx context.Context, ids []string, userID, userName string) (int64, error) {
	defer ts.s.lock(ctx)()
	var n int64
	for _, id := range model.DedupeIDs(ids) {
		t, ok := ts.s.tasks[id]
		if !ok || (t.AssignedUser == userID && t.AssignedUserName == userName) {
			continue
		}
		t.AssignedUser = userID
		t.AssignedUserName = userName
		n++
	}
	return n, nil
}

func (ts *TaskStore) UnassignUser(ctx context.Context, userID string, keep []string) ([]string, error) {
	defer ts.s.lock(ctx)()
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}

	var ids []string
	for id, t := range ts.s.tasks {
		if t.AssignedUser != userID {
			continue
		}
		if _, ok := kept[id]; ok {
			continue
		}
		t.Unassign()
		ids = append(ids, id)
	}
	return ids, nil
}
