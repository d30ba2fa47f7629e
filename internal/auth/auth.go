// Package auth turns credentials into sessions and sessions into actors.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const DefaultSessionTTL = 8 * time.Hour

type Store interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetLocation(ctx context.Context, locationID string) (models.Location, error)
	store.SessionStore
}

type Options struct {
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

type LoginResult struct {
	Session models.Session `json:"session"`
	Actor   models.Actor   `json:"user"`
}

func NewService(st Store, options Options) *Service {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store: st,
		ttl:   ttl,
		now:   now,
		log:   options.Logger.With().Str("component", "auth").Logger(),
	}
}

// HashPassword returns the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		metrics.IncLogin("invalid_credentials")
		return LoginResult{}, store.ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			metrics.IncLogin("invalid_credentials")
			return LoginResult{}, store.ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.IncLogin("invalid_credentials")
		return LoginResult{}, store.ErrInvalidCredentials
	}
	if err := s.checkStanding(ctx, user); err != nil {
		metrics.IncLogin(loginResult(err))
		s.log.Warn().Err(err).Str("username", user.Username).Msg("login refused")
		return LoginResult{}, err
	}

	session, err := s.store.CreateSession(ctx, user.UserID, s.now().UTC().Add(s.ttl))
	if err != nil {
		return LoginResult{}, err
	}
	metrics.IncLogin("ok")
	s.log.Info().Str("username", user.Username).Str("role", user.Role).Msg("login")
	return LoginResult{Session: session, Actor: user.Actor()}, nil
}

// Authenticate resolves a session to its actor. The user is reloaded on every
// call so a deactivated account or location stops working immediately.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (models.Actor, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := uuid.Parse(sessionID); err != nil {
		return models.Actor{}, store.ErrSessionNotFound
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return models.Actor{}, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return models.Actor{}, store.ErrSessionNotFound
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return models.Actor{}, store.ErrSessionNotFound
		}
		return models.Actor{}, err
	}
	if err := s.checkStanding(ctx, user); err != nil {
		return models.Actor{}, err
	}
	return user.Actor(), nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) checkStanding(ctx context.Context, user models.User) error {
	if !user.Active {
		return store.ErrAccountInactive
	}
	if user.Role == models.RoleSuperAdmin {
		return nil
	}
	if user.LocationID == nil || *user.LocationID == "" {
		return store.ErrLocationUnassigned
	}
	location, err := s.store.GetLocation(ctx, *user.LocationID)
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			return store.ErrLocationUnassigned
		}
		return err
	}
	if !location.Active {
		return store.ErrLocationInactive
	}
	return nil
}

func loginResult(err error) string {
	switch {
	case errors.Is(err, store.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, store.ErrLocationUnassigned):
		return "location_unassigned"
	case errors.Is(err, store.ErrLocationInactive):
		return "location_inactive"
	default:
		return "error"
	}
}
