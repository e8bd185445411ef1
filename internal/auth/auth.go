// Package auth implements the register and login flows of the auth screen
// against the local store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/nexus/chat-app/internal/errs"
	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/model"
	"github.com/nexus/chat-app/internal/store"
)

// Colors is the palette offered at registration.
var Colors = []string{"#3b82f6", "#ec4899", "#10b981", "#f59e0b", "#8b5cf6", "#ef4444"}

// Service registers and logs in users.
type Service struct {
	store    *store.Store
	operator string
	cost     int
	log      zerolog.Logger
}

// NewService returns a Service. The user named operatorName (exact match)
// receives the operator role on register and login.
func NewService(st *store.Store, operatorName string) *Service {
	return &Service{
		store:    st,
		operator: operatorName,
		cost:     bcrypt.DefaultCost,
		log:      logx.Component("auth"),
	}
}

// Register creates a new account. The name must be unique ignoring case.
func (s *Service) Register(ctx context.Context, name, password, color, avatarURL string) (model.User, error) {
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)
	if name == "" || password == "" {
		return model.User{}, errs.NewError(errs.ErrInvalidParams)
	}
	if _, exists := s.store.FindUser(ctx, name); exists {
		return model.User{}, errs.NewError(errs.ErrUserAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	u := model.User{
		ID:        model.NewUserID(),
		Name:      name,
		Password:  string(hash),
		AvatarURL: strings.TrimSpace(avatarURL),
		Color:     paletteColor(color),
		IsOnline:  true,
		Coins:     0,
		Role:      s.roleFor(name),
	}
	s.store.SaveUser(ctx, u)
	s.store.SetSession(ctx, u)

	s.log.Info().Str("user", u.Name).Str("role", u.Role).Msg("registered")
	return u, nil
}

// Login checks the credential and returns the stored user marked online.
func (s *Service) Login(ctx context.Context, name, password string) (model.User, error) {
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)
	if name == "" || password == "" {
		return model.User{}, errs.NewError(errs.ErrInvalidParams)
	}

	u, ok := s.store.FindUser(ctx, name)
	if !ok {
		return model.User{}, errs.NewError(errs.ErrUserNotFound, name)
	}

	rehash, err := s.checkPassword(u.Password, password)
	if err != nil {
		s.log.Debug().Str("user", u.Name).Msg("login rejected")
		return model.User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	dirty := false
	if rehash {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return model.User{}, fmt.Errorf("auth: hash password: %w", err)
		}
		u.Password = string(hash)
		dirty = true
	}
	if role := s.roleFor(u.Name); role != u.Role {
		u.Role = role
		dirty = true
	}
	if dirty {
		s.store.SaveUser(ctx, u)
	}

	u.IsOnline = true
	s.store.SetSession(ctx, u)

	s.log.Info().Str("user", u.Name).Msg("logged in")
	return u, nil
}

// Logout clears the session marker.
func (s *Service) Logout(ctx context.Context) {
	s.store.ClearSession(ctx)
}

// checkPassword compares a stored credential with the submitted one. Records
// written before hashing was introduced hold the password in clear text;
// those match by equality and report that they need rehashing.
func (s *Service) checkPassword(stored, submitted string) (rehash bool, err error) {
	if !strings.HasPrefix(stored, "$2") {
		if stored != "" && stored == submitted {
			return true, nil
		}
		return false, errors.New("password mismatch")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(submitted)); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) roleFor(name string) string {
	if s.operator != "" && name == s.operator {
		return model.RoleOperator
	}
	return ""
}

func paletteColor(color string) string {
	for _, c := range Colors {
		if strings.EqualFold(c, color) {
			return c
		}
	}
	return Colors[0]
}
