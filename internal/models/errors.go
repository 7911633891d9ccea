package models

import (
	"errors"
	"fmt"
)

// ErrStorage marks failures of the local persistence layer.
var ErrStorage = errors.New("storage unavailable")

// StorageError reports a failed queue or cache persistence step. Nothing
// was committed when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
