// ABOUTME: Error taxonomy surfaced to the session and presentation layer
// ABOUTME: Boundary components translate raw transport errors into these sentinels

package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientFetch is returned when a snapshot read fails or is incomplete.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrConnectionLost is reported when the change feed transport cannot be
	// re-established within its reconnect budget.
	ErrConnectionLost = errors.New("connection lost")

	// ErrValidation rejects a send locally; nothing is sent.
	ErrValidation = errors.New("validation error")

	// ErrUpload is returned when the blob store rejects an upload.
	ErrUpload = errors.New("upload error")
)

// Translate wraps cause under sentinel without keeping cause in the error
// chain, so callers can only match on the taxonomy.
func Translate(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, cause)
}

// ValidateDraft checks the fields every send requires.
func ValidateDraft(author, body string) error {
	if strings.TrimSpace(author) == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}
