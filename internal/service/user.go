package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/auth"
	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

// UserService covers registration, login and the user roster.
type UserService struct {
	users UserStore
	cfg   config.Config
	now   Clock
}

func NewUserService(users UserStore, cfg config.Config) *UserService {
	return &UserService{users: users, cfg: cfg, now: time.Now}
}

func (s *UserService) SetClock(c Clock) { s.now = c }

// UserDTO is the public view of a user.
type UserDTO struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	ImageURL string    `json:"image_url"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, Name: u.DisplayName(), ImageURL: u.ImageURL, IsOnline: u.IsOnline, LastSeen: u.LastSeen}
}

// Register creates a user; name defaults to the username.
func (s *UserService) Register(ctx context.Context, username, password, name string) (*UserDTO, error) {
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = username
	}
	user := models.User{Username: username, Name: name, PasswordHash: hash, LastSeen: s.now()}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         *UserDTO `json:"user,omitempty"`
}

// Login checks the credentials, marks the user online and issues tokens.
func (s *UserService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.SetOnline(ctx, user.ID, true, now); err != nil {
		return nil, err
	}
	user.IsOnline, user.LastSeen = true, now
	dto := toUserDTO(*user)
	pair.User = &dto
	return pair, nil
}

// RefreshTokens rotates a refresh token: the old one is revoked and a new
// pair is issued.
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*TokenPair, error) {
	rec, err := s.users.ConsumeRefreshToken(ctx, oldRT, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	return s.issueTokens(ctx, rec.UserID)
}

func (s *UserService) issueTokens(ctx context.Context, userID string) (*TokenPair, error) {
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := s.now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := s.users.SaveRefreshToken(ctx, &models.RefreshToken{UserID: userID, Token: rt, ExpiresAt: exp}); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: at, RefreshToken: rt}, nil
}

// GetUser returns the stored user; it lets the auth middleware resolve
// token subjects.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (*UserDTO, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	dto := toUserDTO(*u)
	return &dto, nil
}

// List returns the roster, ordered by username.
func (s *UserService) List(ctx context.Context) ([]UserDTO, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	return out, nil
}

// SetOnline flips the presence flag and stamps last_seen.
func (s *UserService) SetOnline(ctx context.Context, userID string, online bool) error {
	err := s.users.SetOnline(ctx, userID, online, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *UserService) UpdateProfile(ctx context.Context, userID, name, imageURL string) (*UserDTO, error) {
	if err := s.users.UpdateProfile(ctx, userID, strings.TrimSpace(name), strings.TrimSpace(imageURL)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID)
}
