// Package auth verifies local credentials and federated identities and turns
// them into user records.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"onlineauth/internal/common"
	"onlineauth/internal/logging"
	"onlineauth/internal/storage"
)

// Identity is what an external provider asserts about a user.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// errUnchanged aborts a store update without writing.
var errUnchanged = errors.New("unchanged")

type Service struct {
	users  *storage.Users
	hasher PasswordHasher
	logger logging.Logger
	clock  func() time.Time
}

func NewService(users *storage.Users, hasher PasswordHasher, logger logging.Logger) *Service {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{users: users, hasher: hasher, logger: logger, clock: time.Now}
}

// Register creates a local account.
func (s *Service) Register(ctx context.Context, name, email, password string) (*storage.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", common.ErrValidation)
	}

	// Fail fast before paying for the hash; the check is repeated under the store lock.
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return nil, common.ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := storage.User{
		ID:           storage.NewUserID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Provider:     storage.ProviderLocal,
		CreatedAt:    s.clock().UTC(),
	}
	err = s.users.Update(ctx, func(all []storage.User) ([]storage.User, error) {
		if storage.FindByEmail(all, email) != nil {
			return nil, common.ErrConflict
		}
		return append(all, user), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user registered", "user_id", user.ID, "provider", user.Provider)
	return &user, nil
}

// Login checks a local email/password pair. Every failure other than missing
// input is reported as common.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*storage.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrValidation)
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || user.Provider != storage.ProviderLocal || user.PasswordHash == "" {
		return nil, common.ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn(ctx, "stored password hash unusable", "user_id", user.ID, "error", err)
		return nil, common.ErrInvalidCredentials
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

// LoginFederated returns the record matching the identity's email, creating a
// google account when none exists. A match is reused whatever its provider.
func (s *Service) LoginFederated(ctx context.Context, id Identity) (*storage.User, error) {
	email := strings.TrimSpace(id.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: identity has no email", common.ErrValidation)
	}

	var result storage.User
	err := s.users.Update(ctx, func(all []storage.User) ([]storage.User, error) {
		if existing := storage.FindByEmail(all, email); existing != nil {
			result = *existing
			return nil, errUnchanged
		}
		result = storage.User{
			ID:        storage.NewUserID(),
			Name:      displayName(id.Name, email),
			Email:     email,
			Provider:  storage.ProviderGoogle,
			AvatarURL: id.Picture,
			CreatedAt: s.clock().UTC(),
		}
		return append(all, result), nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		if result.Provider != storage.ProviderGoogle {
			s.logger.Info(ctx, "federated login attached to existing account", "user_id", result.ID, "provider", result.Provider)
		}
	case err != nil:
		return nil, err
	default:
		s.logger.Info(ctx, "user registered", "user_id", result.ID, "provider", result.Provider)
	}
	return &result, nil
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return "GoogleUser"
}
