package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInUse         = errors.New("in use")
	ErrStorage       = errors.New("storage unavailable")
	ErrConfiguration = errors.New("configuration error")
)

// ConfigError reports a definition that cannot be served as configured,
// such as a cyclic metric reference or an experiment without variants.
type ConfigError struct {
	Subject string // "metric", "alert", "experiment"
	ID      int64
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Subject, e.ID, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
