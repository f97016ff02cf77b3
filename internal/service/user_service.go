package service

import (
	"context"
	"strings"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
)

type UserService struct {
	store     Store
	defaultTZ *time.Location
}

func NewUserService(s Store, defaultTZ *time.Location) *UserService {
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &UserService{store: s, defaultTZ: defaultTZ}
}

// Register creates a user. An empty timezone falls back to the service default.
func (s *UserService) Register(ctx context.Context, telegramID int64, name, timezone string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name", "cannot be empty")
	}
	if timezone == "" {
		timezone = s.defaultTZ.String()
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, domain.Invalid("timezone", "unknown timezone %q", timezone)
	}

	u := &domain.User{TelegramID: telegramID, Name: name, Timezone: timezone}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, domain.Dependency("create user", err)
	}
	return u, nil
}

// EnsureTelegramUser returns the user behind a Telegram account,
// registering it on first contact.
func (s *UserService) EnsureTelegramUser(ctx context.Context, telegramID int64, name string) (*domain.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, domain.Dependency("get user", err)
	}
	if u != nil {
		return u, nil
	}
	if strings.TrimSpace(name) == "" {
		name = "user"
	}
	return s.Register(ctx, telegramID, name, "")
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, domain.Dependency("get user", err)
	}
	if u == nil {
		return nil, &domain.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}
