// Package postgres implements the service stores on top of gorm.
package postgres

import (
	"errors"

	"github.com/sanaka-srujana/tars-chat/internal/repository"

	"gorm.io/gorm"
)

// Store serves users, conversations, messages and typing indicators from
// the relational database.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

// affected turns a zero-row update into ErrNotFound.
func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
