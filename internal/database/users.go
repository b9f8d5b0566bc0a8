package database

import (
	"context"
	"fmt"
	"time"

	"github.com/npezzotti/spark-chat/internal/store"
)

type StoreUserRepository struct {
	users store.Collection[User]
}

func NewUserRepository(users store.Collection[User]) *StoreUserRepository {
	return &StoreUserRepository{users: users}
}

func (r *StoreUserRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	u, err := r.users.FindByID(ctx, userId)
	if err != nil {
		return User{}, fmt.Errorf("get user %q: %w", userId, err)
	}
	return u, nil
}

func (r *StoreUserRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := r.users.FindOne(ctx, store.Where(store.Eq("email", email)))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdateUser replaces the given fields and bumps updated_at.
func (r *StoreUserRepository) UpdateUser(ctx context.Context, userId string, fields map[string]any) (User, error) {
	upd := store.NewUpdate()
	for k, v := range fields {
		if k == store.IDField {
			continue
		}
		upd.SetField(k, v)
	}
	upd.SetField("updated_at", time.Now().UTC())

	u, err := r.users.UpdateByID(ctx, userId, *upd)
	if err != nil {
		return User{}, fmt.Errorf("update user %q: %w", userId, err)
	}
	return u, nil
}

func (r *StoreUserRepository) SetOnline(ctx context.Context, userId string, online bool, at time.Time) error {
	fields := map[string]any{"online": online}
	if !online {
		fields["last_seen"] = at.UTC()
	}

	_, err := r.UpdateUser(ctx, userId, fields)
	return err
}
