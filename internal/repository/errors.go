// Package repository holds the storage backends behind the service layer.
// Every backend reports a missing record with ErrNotFound.
package repository

import "errors"

var ErrNotFound = errors.New("record not found")
