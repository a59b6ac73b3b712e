package storage

import (
	"errors"
)

var errNotConnected = errors.New("database not connected")

// StorageError reports a failed audit store or database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
