package inmem

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.adatlab.hu/idp/domain"
)

// UserDirectory implements domain.UserDirectory in memory, for the embedded
// deployment mode and tests. Production deployments plug in the surrounding
// system's directory instead.
type UserDirectory struct {
	mu    sync.Mutex
	users map[string]*domain.User // by user name
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[string]*domain.User)}
}

func (d *UserDirectory) FindByUserName(_ context.Context, userName string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[userName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyUser(user), nil
}

func (d *UserDirectory) FindByLogin(_ context.Context, login string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if user, ok := d.users[login]; ok {
		return copyUser(user), nil
	}
	for _, user := range d.users {
		if user.Email != "" && strings.EqualFold(user.Email, login) {
			return copyUser(user), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (d *UserDirectory) Create(_ context.Context, user *domain.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[user.UserName]; ok {
		return domain.ErrConflict
	}
	stored := copyUser(user)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1
	d.users[user.UserName] = stored
	user.ID = stored.ID
	return nil
}

func (d *UserDirectory) Update(_ context.Context, user *domain.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.users[user.UserName]
	if !ok {
		return domain.ErrNotFound
	}
	if user.Version != 0 && user.Version != existing.Version {
		return domain.ErrConflict
	}
	stored := copyUser(user)
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	stored.Version = existing.Version + 1
	d.users[user.UserName] = stored
	return nil
}

func (d *UserDirectory) Delete(_ context.Context, userName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[userName]; !ok {
		return domain.ErrNotFound
	}
	delete(d.users, userName)
	return nil
}

func (d *UserDirectory) CountByUserName(_ context.Context, userName string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[userName]; ok {
		return 1, nil
	}
	return 0, nil
}

func (d *UserDirectory) GrantRole(_ context.Context, userName, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[userName]
	if !ok {
		return domain.ErrNotFound
	}
	if !user.HasRole(role) {
		user.Roles = append(user.Roles, role)
	}
	return nil
}

func (d *UserDirectory) RevokeRole(_ context.Context, userName, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[userName]
	if !ok {
		return domain.ErrNotFound
	}
	for i, r := range user.Roles {
		if r == role {
			user.Roles = append(user.Roles[:i], user.Roles[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of accounts in the directory.
func (d *UserDirectory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

func copyUser(user *domain.User) *domain.User {
	dup := *user
	dup.Roles = append([]string(nil), user.Roles...)
	return &dup
}

var _ domain.UserDirectory = (*UserDirectory)(nil)

// PendingRegistrations implements domain.PendingRegistrationDirectory on a
// plain set of reserved user names.
type PendingRegistrations struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewPendingRegistrations() *PendingRegistrations {
	return &PendingRegistrations{names: make(map[string]struct{})}
}

// Reserve marks a user name as pending.
func (p *PendingRegistrations) Reserve(userName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[userName] = struct{}{}
}

func (p *PendingRegistrations) CountByUserName(_ context.Context, userName string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.names[userName]; ok {
		return 1, nil
	}
	return 0, nil
}

var _ domain.PendingRegistrationDirectory = (*PendingRegistrations)(nil)
