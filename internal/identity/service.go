// Package identity is the credential service: registration, password
// verification, and token issuance. It is the only code that touches the
// email/password columns; everything else sees users through
// repository.UserRepository, which never loads them. Passwords are hashed at
// rest with bcrypt.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/repository/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrPendingApproval    = errors.New("account is pending approval")
	ErrRejected           = errors.New("account was rejected")
)

type Service struct {
	log    *slog.Logger
	db     *gorm.DB
	tokens *TokenManager
}

func NewService(db *gorm.DB, tokens *TokenManager, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, db: db, tokens: tokens}
}

// Register creates a pending account and issues a token. The username is
// unique; a duplicate surfaces as ErrUsernameTaken.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, string, error) {
	const op = "identity.register"

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	row := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Status:       string(domain.UserStatusPending),
		Role:         string(domain.UserRoleUser),
		LastSeen:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", ErrUsernameTaken
		}
		var existing model.User
		if lookupErr := s.db.WithContext(ctx).First(&existing, "username = ?", username).Error; lookupErr == nil {
			return nil, "", ErrUsernameTaken
		}
		s.log.Error("register failed", slog.String("op", op), sl.Err(err))
		return nil, "", err
	}

	token, err := s.tokens.Issue(row.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user registered", slog.String("op", op), slog.String("user_id", row.ID), slog.String("username", username))
	return toDomain(row), token, nil
}

// Login verifies the password and the account status: pending and rejected
// accounts authenticate but are refused.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.User, string, error) {
	const op = "identity.login"

	var row model.User
	if err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	switch domain.UserStatus(row.Status) {
	case domain.UserStatusPending:
		return nil, "", ErrPendingApproval
	case domain.UserStatusRejected:
		return nil, "", ErrRejected
	}

	token, err := s.tokens.Issue(row.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user logged in", slog.String("op", op), slog.String("user_id", row.ID))
	return toDomain(&row), token, nil
}

func toDomain(row *model.User) *domain.User {
	return &domain.User{
		ID:       row.ID,
		Username: row.Username,
		Status:   domain.UserStatus(row.Status),
		Role:     domain.UserRole(row.Role),
		IsOnline: row.IsOnline,
		LastSeen: row.LastSeen,
	}
}
