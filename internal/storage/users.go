package storage

import (
	"context"
	"sync"
)

// Repository persists the user collection as a whole: it is loaded in full and
// rewritten in full on every change.
type Repository interface {
	LoadAll(ctx context.Context) ([]User, error)
	SaveAll(ctx context.Context, users []User) error
	Close() error
}

// Users is the user store used by the rest of the server. Lookups are linear
// scans over the loaded collection; writers are serialized so a
// load-modify-save cycle never interleaves with another.
type Users struct {
	repo Repository
	mu   sync.Mutex
}

func NewUsers(repo Repository) *Users {
	return &Users{repo: repo}
}

// FindByEmail returns the record whose email matches case-insensitively, or nil.
func (u *Users) FindByEmail(ctx context.Context, email string) (*User, error) {
	users, err := u.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return FindByEmail(users, email), nil
}

// FindByID returns the record with the given id, or nil.
func (u *Users) FindByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	users, err := u.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			user := users[i]
			return &user, nil
		}
	}
	return nil, nil
}

// Append adds a record. Uniqueness is the caller's job; use Update to check and
// append in one step.
func (u *Users) Append(ctx context.Context, user User) error {
	return u.Update(ctx, func(users []User) ([]User, error) {
		return append(users, user), nil
	})
}

// Update loads the collection, hands it to fn and saves whatever fn returns.
// Nothing is written when fn fails.
func (u *Users) Update(ctx context.Context, fn func(users []User) ([]User, error)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	users, err := u.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	next, err := fn(users)
	if err != nil {
		return err
	}
	return u.repo.SaveAll(ctx, next)
}

// Close releases the underlying repository.
func (u *Users) Close() error {
	if u == nil || u.repo == nil {
		return nil
	}
	return u.repo.Close()
}

// FindByEmail scans users for a normalized email match. An empty email never matches.
func FindByEmail(users []User, email string) *User {
	key := NormalizeEmail(email)
	if key == "" {
		return nil
	}
	for i := range users {
		if users[i].Email != "" && NormalizeEmail(users[i].Email) == key {
			user := users[i]
			return &user
		}
	}
	return nil
}
