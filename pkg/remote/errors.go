package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Classified failures. The transfer layer maps these onto its persisted
// result codes, so every remote failure must come back as (or wrapping)
// one of them.
var (
	ErrNoConnection  = errors.New("remote: no network connection")
	ErrUnauthorized  = errors.New("remote: unauthorized")
	ErrQuotaExceeded = errors.New("remote: quota exceeded")
	ErrNotFound      = errors.New("remote: not found")
	ErrConflict      = errors.New("remote: conflict")
)

// IsConnectivityError reports whether err looks like lost connectivity, ie
// something a later retry could fix without the user doing anything.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNoConnection) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

func errFromStatusCode(statusCode int, remotePath string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", remotePath, ErrUnauthorized)
	case http.StatusInsufficientStorage:
		return fmt.Errorf("%s: %w", remotePath, ErrQuotaExceeded)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", remotePath, ErrNotFound)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", remotePath, ErrConflict)
	default:
		return fmt.Errorf("%s: unexpected status %d", remotePath, statusCode)
	}
}
