package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
	"github.com/stopka007/IoT-sub000/internal/security"
)

var (
	ErrInvalidCredentials   = apperr.Unauthorized("invalid email or password")
	ErrMissingAuthHeader    = apperr.Unauthorized("missing or malformed authorization header")
	ErrInvalidToken         = apperr.Unauthorized("invalid or expired token")
	ErrInvalidRefreshToken  = apperr.Unauthorized("invalid or expired refresh token")
	ErrInsufficientRole     = apperr.Forbidden("insufficient role")
	ErrWrongCurrentPassword = apperr.Unauthorized("current password is incorrect")
)

// Principal is the authenticated caller as encoded in the access token.
type Principal struct {
	UserID string
	Role   models.UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.UserRoleAdmin
}

type AuthService struct {
	store repository.Store
	cfg   config.SecurityConfig
	decoy *security.Decoy
	log   zerolog.Logger
}

func NewAuthService(store repository.Store, cfg config.SecurityConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		store: store,
		cfg:   cfg,
		decoy: security.NewDecoy(cfg.BcryptCost),
		log:   log,
	}
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

type Tokens struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (Tokens, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.decoy.Verify(input.Password)
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	if !security.VerifyPassword(input.Password, user.PasswordHash) {
		return Tokens{}, ErrInvalidCredentials
	}

	refreshToken, refreshHash, err := security.GenerateRefreshToken(0)
	if err != nil {
		return Tokens{}, apperr.Internal(err, "internal server error")
	}

	accessToken, expiresAt, err := s.signAccess(user)
	if err != nil {
		return Tokens{}, err
	}

	session := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		RefreshTokenHash: refreshHash,
		IPAddress:        input.IPAddress,
		UserAgent:        input.UserAgent,
		ExpiresAt:        time.Now().Add(s.cfg.JWTRefreshTTL),
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return Tokens{}, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in")
	return Tokens{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: expiresAt,
	}, nil
}

func (s *AuthService) signAccess(user models.User) (string, time.Time, error) {
	token, expiresAt, err := security.GenerateAccessToken(s.cfg.JWTSecret, user.ID, string(user.Role), s.cfg.JWTAccessTTL)
	if err != nil {
		if errors.Is(err, security.ErrMissingSecret) {
			return "", time.Time{}, apperr.Internal(err, "server misconfigured")
		}
		return "", time.Time{}, apperr.Internal(err, "internal server error")
	}
	return token, expiresAt, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	count, err := s.store.Sessions().CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.cfg.MaxSessions {
		return nil
	}
	return s.store.Sessions().DeleteOldestSessions(ctx, userID, s.cfg.MaxSessions)
}

// Authenticate resolves the principal behind an Authorization header value.
func (s *AuthService) Authenticate(header string) (Principal, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Principal{}, ErrMissingAuthHeader
	}
	return s.AuthenticateToken(strings.TrimSpace(token))
}

// AuthenticateToken verifies a bare access token.
func (s *AuthService) AuthenticateToken(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingAuthHeader
	}
	claims, err := security.ParseAccessToken(token, s.cfg.JWTSecret)
	if err != nil {
		if errors.Is(err, security.ErrMissingSecret) {
			return Principal{}, apperr.Internal(err, "server misconfigured")
		}
		return Principal{}, ErrInvalidToken.WithCause(err)
	}
	role := models.UserRole(claims.Role)
	if !role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.UserID, Role: role}, nil
}

func (s *AuthService) Authorize(p Principal, roles ...models.UserRole) error {
	for _, role := range roles {
		if p.Role == role {
			return nil
		}
	}
	return ErrInsufficientRole
}

// AuthorizeSelfOrAdmin allows admins and the owner of userID.
func (s *AuthService) AuthorizeSelfOrAdmin(p Principal, userID string) error {
	if p.IsAdmin() || p.UserID == userID {
		return nil
	}
	return ErrInsufficientRole
}

func (s *AuthService) Me(ctx context.Context, p Principal) (models.User, error) {
	user, err := s.store.Users().GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, ErrInvalidToken
	}
	return user, err
}

func (s *AuthService) ChangePassword(ctx context.Context, p Principal, current, next string) error {
	user, err := s.store.Users().GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if !security.VerifyPassword(current, user.PasswordHash) {
		return ErrWrongCurrentPassword
	}
	if err := security.CheckPasswordPolicy(next); err != nil {
		return apperr.BadRequest("%s", err.Error())
	}

	hash, err := security.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return apperr.Internal(err, "internal server error")
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("password changed")
	return nil
}

// Refresh exchanges a refresh token for a new access token and rotates the
// refresh token; the presented one stops working.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	var tokens Tokens
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().FindByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if session.ExpiresAt.Before(time.Now()) {
			if err := tx.Sessions().DeleteByID(ctx, session.ID); err != nil {
				return err
			}
			return nil
		}

		user, err := tx.Users().GetByID(ctx, session.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		nextRefresh, nextHash, err := security.GenerateRefreshToken(0)
		if err != nil {
			return apperr.Internal(err, "internal server error")
		}
		accessToken, expiresAt, err := s.signAccess(user)
		if err != nil {
			return err
		}
		if err := tx.Sessions().Rotate(ctx, session.ID, nextHash, time.Now().Add(s.cfg.JWTRefreshTTL)); err != nil {
			return err
		}

		tokens = Tokens{
			AccessToken:     accessToken,
			RefreshToken:    nextRefresh,
			AccessExpiresAt: expiresAt,
		}
		return nil
	})
	if err != nil {
		return Tokens{}, err
	}
	if tokens.AccessToken == "" {
		// The expired session was deleted in the committed transaction.
		return Tokens{}, ErrInvalidRefreshToken
	}
	return tokens, nil
}

// Logout revokes the session behind refreshToken. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	session, err := s.store.Sessions().FindByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Sessions().DeleteByID(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	s.log.Info().Str("user_id", session.UserID).Msg("user logged out")
	return nil
}

// PurgeExpiredSessions removes sessions whose refresh token has expired.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions().DeleteExpired(ctx, time.Now())
}
