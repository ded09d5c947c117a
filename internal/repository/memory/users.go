package memory

import (
	"context"

	"github.com/google/uuid"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/query"
	"taskhub/internal/repository"
)

// UserStore 内存用户存储，邮箱唯一性在这里检查
type UserStore struct {
	s *Store
}

func (us *UserStore) documents() []model.Document {
	docs := make([]model.Document, 0, len(us.s.users))
	for _, u := range us.s.users {
		docs = append(docs, u.Document())
	}
	return docs
}

func (us *UserStore) List(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	defer us.s.lock(ctx)()
	return query.Apply(us.documents(), d), nil
}

func (us *UserStore) Count(ctx context.Context, f query.Filter) (int64, error) {
	defer us.s.lock(ctx)()
	return query.Count(us.documents(), f), nil
}

func (us *UserStore) Get(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	defer us.s.lock(ctx)()
	u, ok := us.s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return p.Apply(u.Document()), nil
}

func (us *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	defer us.s.lock(ctx)()
	u, ok := us.s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (us *UserStore) emailTaken(email, exceptID string) bool {
	for id, u := range us.s.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

func (us *UserStore) Insert(ctx context.Context, u *model.User) error {
	u.Email = model.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	defer us.s.lock(ctx)()

	if us.emailTaken(u.Email, "") {
		return apperr.DuplicateKey(repository.DuplicateEmailMessage, nil)
	}
	u.ID = uuid.NewString()
	u.PendingTasks = model.DedupeIDs(u.PendingTasks)
	u.DateCreated = us.s.stamp()
	us.s.users[u.ID] = cloneUser(u)
	return nil
}

func (us *UserStore) Update(ctx context.Context, u *model.User) error {
	u.Email = model.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	defer us.s.lock(ctx)()

	existing, ok := us.s.users[u.ID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if us.emailTaken(u.Email, u.ID) {
		return apperr.DuplicateKey(repository.DuplicateEmailMessage, nil)
	}
	existing.Name = u.Name
	existing.Email = u.Email
	return nil
}

func (us *UserStore) Delete(ctx context.Context, id string) error {
	defer us.s.lock(ctx)()
	if _, ok := us.s.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(us.s.users, id)
	return nil
}

func (us *UserStore) AddPendingTask(ctx context.Context, userID, taskID string) error {
	defer us.s.lock(ctx)()
	u, ok := us.s.users[userID]
	if !ok || u.HasPendingTask(taskID) {
		return nil
	}
	u.PendingTasks = append(u.PendingTasks, taskID)
	return nil
}

func (us *UserStore) RemovePendingTask(ctx context.Context, userID, taskID string) error {
	defer us.s.lock(ctx)()
	if u, ok := us.s.users[userID]; ok {
		u.PendingTasks = without(u.PendingTasks, map[string]struct{}{taskID: {}})
	}
	return nil
}

func (us *UserStore) SetPendingTasks(ctx context.Context, userID string, taskIDs []string) error {
	defer us.s.lock(ctx)()
	u, ok := us.s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PendingTasks = model.DedupeIDs(taskIDs)
	return nil
}

func (us *UserStore) PullTasks(ctx context.Context, taskIDs []string, exceptUserID string) ([]string, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	defer us.s.lock(ctx)()

	drop := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		drop[id] = struct{}{}
	}

	var affected []string
	for id, u := range us.s.users {
		if id == exceptUserID {
			continue
		}
		kept := without(u.PendingTasks, drop)
		if len(kept) != len(u.PendingTasks) {
			u.PendingTasks = kept
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func without(ids []string, drop map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
