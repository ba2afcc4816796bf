package services

import (
	"errors"
	"fmt"

	"mailcache/mailbox"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRemoteUnavailable = errors.New("remote mailbox unavailable")
	ErrValidation        = errors.New("validation failed")
)

// remoteErr translates a mailbox error into one of the service sentinels,
// keeping the underlying error in the chain.
func remoteErr(op string, err error) error {
	if errors.Is(err, mailbox.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
}
