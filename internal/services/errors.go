package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrReportImmutable   = errors.New("report already reviewed")
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrStorage           = errors.New("trust store unavailable")

	// ErrBanEnforcement is terminal for the operation that hit it: the caller
	// must not retry with the same participants.
	ErrBanEnforcement = errors.New("ban enforcement")
)

// BanEnforcementError names the participants that blocked a match commit.
type BanEnforcementError struct {
	UserKeys []string
	BanIDs   []string
}

func (e *BanEnforcementError) Error() string {
	return fmt.Sprintf("ban enforcement: %d participant(s) banned", len(e.UserKeys))
}

func (e *BanEnforcementError) Unwrap() error { return ErrBanEnforcement }

// BannedUsers lets the matchmaker drop only the banned side of a pair.
func (e *BanEnforcementError) BannedUsers() []string { return e.UserKeys }

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storageErr(op string, err error) error {
	for _, known := range []error{ErrNotFound, ErrReportImmutable, ErrInvalidTransition, ErrInsufficientCoins, ErrValidation, ErrStorage} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
