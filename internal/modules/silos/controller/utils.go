package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/registry"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/repository"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

const (
	defaultActionsLimit = 50
	maxActionsLimit     = 500
)

// statusFor maps a module error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, registry.ErrNotFound), errors.Is(err, auth.ErrNoCredentials):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidRow), errors.Is(err, types.ErrInvalidSilo), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorMessage hides internal errors from the client.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func parseActionsLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultActionsLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxActionsLimit {
		return 0, errors.New("'limit' must be <= 500")
	}
	return n, nil
}

// isJSONArray reports whether the first non-space byte of b opens an array.
func isJSONArray(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
