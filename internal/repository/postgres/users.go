package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"
)

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("get users by ids: %w", err)
	}
	return users, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_online": online, "last_seen": at})
	return affected(res)
}

func (s *Store) UpdateProfile(ctx context.Context, id, name, imageURL string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"name": name, "image_url": imageURL})
	return affected(res)
}

func (s *Store) SaveRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	return s.db.WithContext(ctx).Create(rt).Error
}

// ConsumeRefreshToken revokes in a single conditional UPDATE so two
// concurrent refreshes cannot both succeed with the same token.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, now).
		Update("revoked_at", now)
	if err := affected(res); err != nil {
		return nil, err
	}
	var rt models.RefreshToken
	if err := db.Where("token = ?", token).First(&rt).Error; err != nil {
		return nil, translate(err)
	}
	return &rt, nil
}
