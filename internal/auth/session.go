// Package auth carries the dashboard's role-based session. Roles gate what the
// dashboard offers; they are not a security boundary.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Roles lists every role with its display label, in login-form order.
var Roles = []struct {
	Role  Role
	Label string
}{
	{RoleAdmin, "Administrator"},
	{RoleManager, "Farm Manager"},
	{RoleOperator, "Operator"},
	{RoleViewer, "Viewer"},
}

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidCredentials, s)
}

// Session is the signed-in user.
type Session struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// CanManage allows creating and editing silos.
func (s Session) CanManage() bool {
	return s.Role == RoleAdmin || s.Role == RoleManager
}

// CanDelete allows deleting silos.
func (s Session) CanDelete() bool {
	return s.Role == RoleAdmin
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Login is the simulated sign-in: any non-empty email and password with a known
// role produce a session.
func Login(email, password, role string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrInvalidCredentials)
	}
	r, err := ParseRole(role)
	if err != nil {
		return Session{}, err
	}
	return Session{Email: email, Role: r}, nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session attached to ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
