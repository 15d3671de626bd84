package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
	"github.com/stopka007/IoT-sub000/internal/security"
)

type UserService struct {
	store repository.Store
	cfg   config.SecurityConfig
	log   zerolog.Logger
}

func NewUserService(store repository.Store, cfg config.SecurityConfig, log zerolog.Logger) *UserService {
	return &UserService{store: store, cfg: cfg, log: log}
}

type CreateUserInput struct {
	Email    string
	Username string
	Password string
	Role     models.UserRole
}

// Register creates a regular user account.
func (s *UserService) Register(ctx context.Context, input CreateUserInput) (models.User, error) {
	input.Role = models.UserRoleUser
	return s.Create(ctx, input)
}

func (s *UserService) Create(ctx context.Context, input CreateUserInput) (models.User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	username := strings.TrimSpace(input.Username)
	if email == "" || username == "" || input.Password == "" {
		return models.User{}, apperr.BadRequest("email, username and password are required")
	}
	if input.Role == "" {
		input.Role = models.UserRoleUser
	}
	if !input.Role.Valid() {
		return models.User{}, apperr.BadRequest("unknown role %q", input.Role)
	}
	if err := security.CheckPasswordPolicy(input.Password); err != nil {
		return models.User{}, apperr.BadRequest("%s", err.Error())
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return models.User{}, apperr.Conflict("email already registered")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	hash, err := security.HashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return models.User{}, apperr.Internal(err, "internal server error")
	}

	user := models.User{
		ID:           ids.New(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         input.Role,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return models.User{}, err
	}

	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user created")
	return s.store.Users().GetByID(ctx, user.ID)
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	return s.store.Users().List(ctx, limit, offset)
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) {
	return s.store.Users().GetByID(ctx, id)
}

type UpdateUserInput struct {
	Email    *string
	Username *string
	Role     *models.UserRole
}

// Update applies a partial update. Only admins may change roles.
func (s *UserService) Update(ctx context.Context, actor Principal, id string, input UpdateUserInput) (models.User, error) {
	if input.Role != nil && !actor.IsAdmin() {
		return models.User{}, ErrInsufficientRole
	}

	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		return models.User{}, err
	}

	if input.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*input.Email))
		if email == "" {
			return models.User{}, apperr.BadRequest("email must not be empty")
		}
		user.Email = email
	}
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username == "" {
			return models.User{}, apperr.BadRequest("username must not be empty")
		}
		user.Username = username
	}
	if input.Role != nil {
		if !input.Role.Valid() {
			return models.User{}, apperr.BadRequest("unknown role %q", *input.Role)
		}
		user.Role = *input.Role
	}

	if err := s.store.Users().Update(ctx, user); err != nil {
		return models.User{}, err
	}
	return s.store.Users().GetByID(ctx, id)
}

// Delete removes the user and revokes all of their sessions.
func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Sessions().DeleteByUser(ctx, id); err != nil {
			return err
		}
		return tx.Users().Delete(ctx, id)
	})
}
